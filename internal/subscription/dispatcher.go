package subscription

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// Sender delivers a serialized notification payload to one client over
// its registered transport. Implementations live alongside whatever
// owns the actual stdio/SSE/WebSocket connection.
type Sender interface {
	Deliver(ctx context.Context, info domain.ClientInfo, payload []byte) error
}

// notificationEnvelope is the JSON-RPC notification body the dispatcher
// builds for every delivered change.
type notificationEnvelope struct {
	Method string              `json:"method"`
	Params notificationParams `json:"params"`
}

type notificationParams struct {
	URI        string    `json:"uri"`
	ChangeType string    `json:"change_type"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}

// DispatcherConfig tunes retry and polling behavior.
type DispatcherConfig struct {
	MaxRetries          int
	RetryDelay          time.Duration
	NotificationTimeout time.Duration
	RecvTimeout         time.Duration // how often the dispatch loop checks should_stop
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.NotificationTimeout == 0 {
		c.NotificationTimeout = 5 * time.Second
	}
	if c.RecvTimeout == 0 {
		c.RecvTimeout = time.Second
	}
	return c
}

// Stats reports running dispatcher totals.
type Stats struct {
	NotificationsSent   int64
	NotificationsFailed int64
	AvgDispatchNanos    int64
}

// Dispatcher consumes the broadcast bus and turns ResourceChanged
// events into per-subscriber notifications, retrying failed deliveries
// and honoring each subscription's filter.
//
// Follows a "one registered client, one delivery channel, best-effort
// send" session/SSE handling idiom, with policy-gated suppression for
// per-subscriber filter checks.
type Dispatcher struct {
	bus    *Bus
	coord  *Coordinator
	sender Sender
	cfg    DispatcherConfig
	now    func() time.Time
	log    *zap.Logger

	sent    atomic.Int64
	failed  atomic.Int64
	avgMu   sync.Mutex
	avgNs   float64
	avgSeen int64
}

// NewDispatcher builds a Dispatcher delivering through sender, using
// coord to resolve subscribers and filters.
func NewDispatcher(bus *Bus, coord *Coordinator, sender Sender, cfg DispatcherConfig, now func() time.Time, log *zap.Logger) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{bus: bus, coord: coord, sender: sender, cfg: cfg.withDefaults(), now: now, log: log}
}

// Run subscribes to the bus and processes events until ctx is
// cancelled, the bus is closed, or a SystemShutdown event arrives. It
// polls its receive with a RecvTimeout so should_stop (ctx.Done) is
// observed promptly even when no events are flowing.
func (d *Dispatcher) Run(ctx context.Context) {
	events, unsubscribe := d.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if d.handle(ctx, ev) {
				return
			}
		case <-time.After(d.cfg.RecvTimeout):
			// no event this tick; loop back and re-check ctx.Done()
		}
	}
}

// handle processes one event, returning true if the dispatcher should
// stop entirely.
func (d *Dispatcher) handle(ctx context.Context, ev Event) bool {
	switch ev.Kind {
	case EventSystemShutdown:
		return true
	case EventClientDisconnected:
		d.coord.RemoveClient(ev.ClientID)
		return false
	case EventClientSubscribed, EventClientUnsubscribed:
		return false
	case EventResourceChanged:
		d.dispatchChange(ctx, ev.Change)
		return false
	default:
		return false
	}
}

func (d *Dispatcher) dispatchChange(ctx context.Context, change ChangeNotice) {
	start := d.now()
	subs := d.coord.GetSubscribers(change.URI)

	payload, err := json.Marshal(notificationEnvelope{
		Method: "notifications/resources/updated",
		Params: notificationParams{
			URI:        change.URI,
			ChangeType: change.ChangeType,
			Data:       change.NewData,
			Timestamp:  start,
		},
	})
	if err != nil {
		d.log.Warn("marshal notification failed", zap.Error(err))
		return
	}

	for _, sub := range subs {
		d.deliverToSubscriber(ctx, sub, change, payload)
	}

	d.recordDuration(d.now().Sub(start))
}

func (d *Dispatcher) deliverToSubscriber(ctx context.Context, sub domain.Subscription, change ChangeNotice, payload []byte) {
	now := d.now()
	sinceLast := now.Sub(sub.LastNotificationAt)
	if sub.LastNotificationAt.IsZero() {
		sinceLast = time.Hour * 24 * 365
	}
	delta := numericDelta(change.PreviousData, change.NewData)
	rec := domain.ChangeRecord{
		ResourceURI: change.URI,
		ChangeType:  domain.ChangeType(change.ChangeType),
	}
	if !sub.Filter.Allows(rec, sinceLast, delta) {
		return
	}

	info, ok := d.coord.Client(sub.ClientID)
	if !ok {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.NotificationTimeout)
		lastErr = d.sender.Deliver(attemptCtx, info, payload)
		cancel()
		if lastErr == nil {
			d.sent.Add(1)
			d.coord.UpdateLastNotification(sub.ClientID, sub.ResourceURI, now)
			return
		}
		if attempt < d.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
	}
	d.failed.Add(1)
	d.log.Warn("notification delivery failed after retries",
		zap.String("client_id", sub.ClientID), zap.String("uri", sub.ResourceURI), zap.Error(lastErr))
}

func numericDelta(prev, next any) float64 {
	pf, pok := toFloat(prev)
	nf, nok := toFloat(next)
	if !pok || !nok {
		return 0
	}
	delta := nf - pf
	if delta < 0 {
		delta = -delta
	}
	return delta
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func (d *Dispatcher) recordDuration(dur time.Duration) {
	d.avgMu.Lock()
	defer d.avgMu.Unlock()
	d.avgSeen++
	d.avgNs += (float64(dur) - d.avgNs) / float64(d.avgSeen)
}

// Stats returns running dispatcher totals.
func (d *Dispatcher) Stats() Stats {
	d.avgMu.Lock()
	avg := d.avgNs
	d.avgMu.Unlock()
	return Stats{
		NotificationsSent:   d.sent.Load(),
		NotificationsFailed: d.failed.Load(),
		AvgDispatchNanos:    int64(avg),
	}
}
