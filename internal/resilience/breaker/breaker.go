// Package breaker implements the gateway's circuit breaker: a
// Closed/Open/HalfOpen state machine with an injectable clock and a
// totalTrips stat, generalized with a time-stamped failure window, a
// consecutive-timeout-scaled backoff, and an event-listener registry.
package breaker

import (
	"sync"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// EventType is the closed set of breaker transition notifications.
type EventType string

const (
	EventOpened    EventType = "opened"
	EventHalfOpen  EventType = "half_open"
	EventClosed    EventType = "closed"
)

// Event describes one state transition.
type Event struct {
	Type    EventType
	Name    string
	Prev    domain.BreakerState
	Next    domain.BreakerState
	At      time.Time
}

// Config configures a single named breaker.
type Config struct {
	FailureThreshold   int
	SuccessThreshold   int
	FailureWindow      time.Duration
	BaseTimeout        time.Duration
	MaxTimeout         time.Duration
	ExponentialBackoff bool
	BackoffMultiplier  float64
	// TrackedKinds restricts which error kinds count as failures; empty
	// means every non-nil error counts.
	TrackedKinds map[domain.Kind]bool
}

// DefaultConfig returns sensible defaults, extended with the richer
// window/backoff fields this breaker adds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		SuccessThreshold:   3,
		FailureWindow:      30 * time.Second,
		BaseTimeout:        30 * time.Second,
		MaxTimeout:         5 * time.Minute,
		ExponentialBackoff: true,
		BackoffMultiplier:  2.0,
	}
}

// Breaker is a single named circuit breaker. Thread-safe.
type Breaker struct {
	mu   sync.Mutex
	name string
	cfg  Config
	now  func() time.Time

	state               domain.BreakerState
	window              []time.Time
	successCount        int
	lastChange          time.Time
	currentTimeout       time.Duration
	consecutiveTimeouts int
	totalTrips          int

	listeners []func(Event)
}

// New creates a breaker with an injectable clock (time.Now in
// production, a fake clock in tests).
func New(name string, cfg Config, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		name:           name,
		cfg:            cfg,
		now:            now,
		state:          domain.BreakerClosed,
		currentTimeout: cfg.BaseTimeout,
		lastChange:     now(),
	}
}

// OnTransition registers a listener invoked synchronously, after the
// breaker's lock is released, on every state change made by Allow,
// RecordSuccess or RecordFailure. Reset does not notify listeners.
func (b *Breaker) OnTransition(fn func(Event)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Allow reports whether a call should proceed, performing the
// Open->HalfOpen transition as a side effect when the timeout elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var ev *Event
	allow := false
	switch b.state {
	case domain.BreakerClosed:
		allow = true
	case domain.BreakerOpen:
		if b.now().Sub(b.lastChange) >= b.currentTimeout {
			ev = b.transitionLocked(domain.BreakerHalfOpen, EventHalfOpen)
			allow = true
		}
	case domain.BreakerHalfOpen:
		allow = true
	}
	b.mu.Unlock()
	if ev != nil {
		b.dispatch(*ev)
	}
	return allow
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var ev *Event
	switch b.state {
	case domain.BreakerClosed:
		b.window = nil
	case domain.BreakerHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.currentTimeout = b.cfg.BaseTimeout
			b.consecutiveTimeouts = 0
			ev = b.transitionLocked(domain.BreakerClosed, EventClosed)
		}
	case domain.BreakerOpen:
		// Ignored: a success reaching an open breaker is an anomaly
		// (e.g. a stale in-flight call completing after the trip).
	}
	b.mu.Unlock()
	if ev != nil {
		b.dispatch(*ev)
	}
}

// RecordFailure reports a failed call. Failures whose kind is not in
// TrackedKinds (when set) are ignored entirely.
func (b *Breaker) RecordFailure(err error) {
	if len(b.cfg.TrackedKinds) > 0 && !b.cfg.TrackedKinds[domain.KindOf(err)] {
		return
	}
	b.mu.Lock()
	var ev *Event
	now := b.now()
	switch b.state {
	case domain.BreakerClosed:
		b.window = append(b.window, now)
		b.evictOldLocked(now)
		if len(b.window) >= b.cfg.FailureThreshold {
			b.totalTrips++
			ev = b.transitionLocked(domain.BreakerOpen, EventOpened)
		}
	case domain.BreakerHalfOpen:
		b.consecutiveTimeouts++
		if b.cfg.ExponentialBackoff {
			mult := b.cfg.BackoffMultiplier
			if mult <= 0 {
				mult = 2.0
			}
			scaled := b.currentTimeout
			for i := 0; i < b.consecutiveTimeouts; i++ {
				scaled = time.Duration(float64(scaled) * mult)
				if b.cfg.MaxTimeout > 0 && scaled > b.cfg.MaxTimeout {
					scaled = b.cfg.MaxTimeout
					break
				}
			}
			b.currentTimeout = scaled
		}
		b.totalTrips++
		ev = b.transitionLocked(domain.BreakerOpen, EventOpened)
	case domain.BreakerOpen:
		// Ignored.
	}
	b.mu.Unlock()
	if ev != nil {
		b.dispatch(*ev)
	}
}

// evictOldLocked drops window entries older than FailureWindow. Caller
// must hold b.mu.
func (b *Breaker) evictOldLocked(now time.Time) {
	if b.cfg.FailureWindow <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := b.window[:0]
	for _, t := range b.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.window = kept
}

// transitionLocked updates state and returns the event to dispatch.
// Caller must hold b.mu.
func (b *Breaker) transitionLocked(next domain.BreakerState, evType EventType) *Event {
	prev := b.state
	b.state = next
	b.lastChange = b.now()
	if next != domain.BreakerOpen {
		b.successCount = 0
	}
	return &Event{Type: evType, Name: b.name, Prev: prev, Next: next, At: b.lastChange}
}

func (b *Breaker) dispatch(ev Event) {
	b.mu.Lock()
	listeners := append([]func(Event){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Snapshot returns a point-in-time view for health checks and the
// resilience manager's status API.
func (b *Breaker) Snapshot() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.CircuitBreakerState{
		Name:                b.name,
		State:               b.state,
		FailureCount:        len(b.window),
		SuccessCount:        b.successCount,
		WindowFailures:      len(b.window),
		LastChange:          b.lastChange,
		CurrentTimeout:      b.currentTimeout,
		ConsecutiveTimeouts: b.consecutiveTimeouts,
	}
}

// Reset forces the breaker back to Closed, used by admin/health tooling.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.BreakerClosed
	b.window = nil
	b.successCount = 0
	b.currentTimeout = b.cfg.BaseTimeout
	b.consecutiveTimeouts = 0
	b.lastChange = b.now()
}

// Registry owns a name->breaker map, creating entries on demand with a
// default config.
type Registry struct {
	mu       sync.Mutex
	defaults Config
	now      func() time.Time
	breakers map[string]*Breaker
}

// NewRegistry creates a registry that lazily constructs breakers with
// defaults on first Get.
func NewRegistry(defaults Config, now func() time.Time) *Registry {
	return &Registry{
		defaults: defaults,
		now:      now,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the named breaker, creating it with the registry's
// default config if it does not yet exist.
func (r *Registry) Get(name string) *Breaker {
	return r.GetOrCreate(name, r.defaults)
}

// GetOrCreate returns the named breaker, creating it with cfg if it
// does not yet exist. If the breaker already exists, cfg is ignored
// and the existing instance is returned unchanged.
func (r *Registry) GetOrCreate(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, cfg, r.now)
	r.breakers[name] = b
	return b
}

// Snapshots returns a snapshot of every registered breaker.
func (r *Registry) Snapshots() []domain.CircuitBreakerState {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()
	out := make([]domain.CircuitBreakerState, 0, len(names))
	for _, b := range names {
		out = append(out, b.Snapshot())
	}
	return out
}
