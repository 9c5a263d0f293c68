// Package subscription implements the three cooperating entities that
// keep MCP clients current on Loxone state: the Coordinator (the
// subscription index), the Detector (diffs resolved values against
// last-published values), and the Dispatcher (delivers notifications
// across Stdio/HttpSse/WebSocket transports).
package subscription

import (
	"sync"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

type subKey struct {
	clientID string
	uri      string
}

// Coordinator owns the subscription indices: subscriptions keyed by
// (client, uri), a reverse uri→clients index, and the client registry.
// All index mutation happens atomically under a single write lock.
type Coordinator struct {
	mu            sync.RWMutex
	subscriptions map[subKey]domain.Subscription
	byURI         map[string]map[string]bool // uri -> set of client_id
	clients       map[string]domain.ClientInfo
	now           func() time.Time
}

// New builds an empty Coordinator.
func New(now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		subscriptions: make(map[subKey]domain.Subscription),
		byURI:         make(map[string]map[string]bool),
		clients:       make(map[string]domain.ClientInfo),
		now:           now,
	}
}

// RegisterClient records a newly connected client.
func (c *Coordinator) RegisterClient(info domain.ClientInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = c.now()
	}
	c.clients[info.ID] = info
}

// Client returns the registered info for clientID.
func (c *Coordinator) Client(clientID string) (domain.ClientInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.clients[clientID]
	return info, ok
}

// AddSubscription registers clientID's interest in uri under filter,
// creating the client entry if it does not yet exist.
func (c *Coordinator) AddSubscription(clientID, uri string, filter domain.SubscriptionFilter) domain.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.clients[clientID]; !ok {
		c.clients[clientID] = domain.ClientInfo{ID: clientID, ConnectedAt: c.now()}
	}
	sub := domain.Subscription{
		ClientID:    clientID,
		ResourceURI: uri,
		Filter:      filter,
		CreatedAt:   c.now(),
	}
	c.subscriptions[subKey{clientID, uri}] = sub
	if c.byURI[uri] == nil {
		c.byURI[uri] = make(map[string]bool)
	}
	c.byURI[uri][clientID] = true
	return sub
}

// RemoveSubscription drops clientID's subscription to uri. If uri is
// empty, every subscription owned by clientID is removed.
func (c *Coordinator) RemoveSubscription(clientID, uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uri != "" {
		c.removeOneLocked(clientID, uri)
		return
	}
	for key := range c.subscriptions {
		if key.clientID == clientID {
			c.removeOneLocked(clientID, key.uri)
		}
	}
}

func (c *Coordinator) removeOneLocked(clientID, uri string) {
	delete(c.subscriptions, subKey{clientID, uri})
	if set, ok := c.byURI[uri]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(c.byURI, uri)
		}
	}
}

// GetSubscribers returns every subscription registered against uri.
func (c *Coordinator) GetSubscribers(uri string) []domain.Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byURI[uri]
	out := make([]domain.Subscription, 0, len(ids))
	for clientID := range ids {
		if sub, ok := c.subscriptions[subKey{clientID, uri}]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// UpdateLastNotification stamps the delivery time for (clientID, uri).
func (c *Coordinator) UpdateLastNotification(clientID, uri string, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := subKey{clientID, uri}
	if sub, ok := c.subscriptions[key]; ok {
		sub.LastNotificationAt = ts
		c.subscriptions[key] = sub
	}
}

// RemoveClient deregisters clientID entirely: all its subscriptions and
// its client-registry entry. Mirrors a ClientDisconnected event.
func (c *Coordinator) RemoveClient(clientID string) {
	c.RemoveSubscription(clientID, "")
	c.mu.Lock()
	delete(c.clients, clientID)
	c.mu.Unlock()
}

// Stats reports coordinator sizing for diagnostics.
type Stats struct {
	TotalSubscriptions int
	TotalClients       int
	TrackedURIs        int
}

// Stats returns a point-in-time snapshot of index sizes.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		TotalSubscriptions: len(c.subscriptions),
		TotalClients:       len(c.clients),
		TrackedURIs:        len(c.byURI),
	}
}
