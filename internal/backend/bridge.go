package backend

import (
	"context"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/config"
	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
	"github.com/tutu-network/loxone-mcp-gateway/internal/subscription"
)

// Subscriptions is the subset of internal/subscription.Coordinator the
// bridge needs for subscribe/unsubscribe.
type Subscriptions interface {
	AddSubscription(clientID, uri string, filter domain.SubscriptionFilter) domain.Subscription
	RemoveSubscription(clientID, uri string)
	RegisterClient(info domain.ClientInfo)
}

// HealthChecker reports live transport health (internal/loxone/client
// or internal/pool, behind an interface so tests can fake it).
type HealthChecker func(ctx context.Context) bool

// SystemInfoFetcher resolves loxone://system/info's body.
type SystemInfoFetcher func(ctx context.Context) (any, error)

// Bridge is the MCP backend bridge: it owns no transport or storage of
// its own, only references to the services that do, and translates MCP
// operations into calls against them.
type Bridge struct {
	structure StructureSource
	state     StateSource
	cache     ResponseCache
	subs      Subscriptions
	now       func() time.Time

	healthCheck HealthChecker
	systemInfo  SystemInfoFetcher

	tools      map[string]ToolAdapter
	deviceStats func() map[string]int
}

// Deps bundles the Bridge's constructor dependencies.
type Deps struct {
	Structure   StructureSource
	State       StateSource
	Cache       ResponseCache
	Subs        Subscriptions
	HealthCheck HealthChecker
	SystemInfo  SystemInfoFetcher
	Now         func() time.Time
	DeviceStats func() map[string]int
}

// New builds a Bridge over the given dependencies.
func New(d Deps) *Bridge {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	b := &Bridge{
		structure:   d.Structure,
		state:       d.State,
		cache:       d.Cache,
		subs:        d.Subs,
		now:         now,
		healthCheck: d.HealthCheck,
		systemInfo:  d.SystemInfo,
		deviceStats: d.DeviceStats,
		tools:       make(map[string]ToolAdapter),
	}
	return b
}

// Initialize validates the Miniserver config and performs one
// best-effort health check and structure preload; preload failure is
// tolerated — structure loads on demand later.
func (b *Bridge) Initialize(ctx context.Context, cfg config.MiniserverConfig, preload func(ctx context.Context) error) error {
	if cfg.URL == "" {
		return domain.NewError(domain.KindInvalidInput, "miniserver url is required")
	}
	if cfg.Username == "" {
		return domain.NewError(domain.KindInvalidInput, "miniserver username is required")
	}

	if b.healthCheck != nil && b.healthCheck(ctx) && preload != nil {
		_ = preload(ctx) // best-effort; failures tolerated, load-on-demand later
	}
	return nil
}

// HealthCheck implements health_check: delegate to the transport's
// health check.
func (b *Bridge) HealthCheck(ctx context.Context) bool {
	if b.healthCheck == nil {
		return false
	}
	return b.healthCheck(ctx)
}

// ListResources returns the fixed top-level loxone:// catalog.
func (b *Bridge) ListResources() []ResourceDescriptor { return literalResources }

// ListResourceTemplates returns the fixed URI-template table.
func (b *Bridge) ListResourceTemplates() []ResourceTemplateDescriptor { return resourceTemplates }

// Subscribe validates that uri is either a known literal or matches a
// known template before delegating to the Subscription Coordinator.
func (b *Bridge) Subscribe(clientID, uri string, filter domain.SubscriptionFilter) (domain.Subscription, error) {
	if !b.knownURI(uri) {
		return domain.Subscription{}, domain.NewError(domain.KindInvalidInput, "unknown resource uri: "+uri)
	}
	return b.subs.AddSubscription(clientID, uri, filter), nil
}

// Unsubscribe removes a client's subscription to uri.
func (b *Bridge) Unsubscribe(clientID, uri string) {
	b.subs.RemoveSubscription(clientID, uri)
}

func (b *Bridge) knownURI(uri string) bool {
	for _, r := range literalResources {
		if r.URI == uri {
			return true
		}
	}
	for _, t := range resourceTemplates {
		if _, ok := MatchTemplate(t.URITemplate, uri); ok {
			return true
		}
	}
	return false
}

// coordinatorAdapter adapts *subscription.Coordinator to the
// Subscriptions interface (a plain type alias would work too, but this
// keeps the bridge's dependency surface an interface for testing).
type coordinatorAdapter struct{ c *subscription.Coordinator }

func (a coordinatorAdapter) AddSubscription(clientID, uri string, filter domain.SubscriptionFilter) domain.Subscription {
	return a.c.AddSubscription(clientID, uri, filter)
}
func (a coordinatorAdapter) RemoveSubscription(clientID, uri string) { a.c.RemoveSubscription(clientID, uri) }
func (a coordinatorAdapter) RegisterClient(info domain.ClientInfo)   { a.c.RegisterClient(info) }

// WrapCoordinator adapts a concrete subscription.Coordinator for use
// as a Bridge's Subscriptions dependency.
func WrapCoordinator(c *subscription.Coordinator) Subscriptions { return coordinatorAdapter{c: c} }
