// Package ratelimit implements per-identifier token-bucket rate
// limiting for the MCP backend bridge.
//
// Follows a back-pressure tiering idiom (Soft/Medium/Hard depth
// thresholds, each a simple counter comparison against a configured
// limit) — the bucket's Allowed/AllowedBurst/Limited trichotomy is that
// same three-tier comparison applied to a request-rate window instead
// of a queue depth.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the closed set of outcomes CheckRequest can return.
type Decision string

const (
	Allowed      Decision = "Allowed"
	AllowedBurst Decision = "AllowedBurst"
	Limited      Decision = "Limited"
)

// Config tunes one bucket family.
type Config struct {
	MaxRequests    int
	WindowDuration time.Duration
	BurstSize      int
}

// DefaultConfig is a permissive per-minute default.
func DefaultConfig() Config {
	return Config{MaxRequests: 120, WindowDuration: time.Minute, BurstSize: 20}
}

type bucket struct {
	windowStart time.Time
	count       int
	burstUsed   int
	lastRequest time.Time
}

// Result reports a CheckRequest outcome.
type Result struct {
	Decision Decision
	ResetAt  time.Time
}

// Limiter maintains one token bucket per identifier (e.g. "ip:1.2.3.4",
// "ua:curl/8", "tool:client:tool_name", "composite:ip:ua").
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New builds a Limiter.
func New(cfg Config, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{cfg: cfg, now: now, buckets: make(map[string]*bucket)}
}

// CheckRequest evaluates and records one request against identifier's
// bucket, resetting the window if it has expired.
func (l *Limiter) CheckRequest(identifier string) Result {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identifier]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[identifier] = b
	}
	if now.Sub(b.windowStart) >= l.cfg.WindowDuration {
		b.windowStart = now
		b.count = 0
		b.burstUsed = 0
	}
	b.lastRequest = now

	resetAt := b.windowStart.Add(l.cfg.WindowDuration)
	if b.count < l.cfg.MaxRequests {
		b.count++
		return Result{Decision: Allowed, ResetAt: resetAt}
	}
	if b.burstUsed < l.cfg.BurstSize {
		b.burstUsed++
		return Result{Decision: AllowedBurst, ResetAt: resetAt}
	}
	return Result{Decision: Limited, ResetAt: resetAt}
}

// Cleanup discards buckets idle beyond 2*WindowDuration, intended to
// run periodically from a background goroutine.
func (l *Limiter) Cleanup() {
	now := l.now()
	idleLimit := 2 * l.cfg.WindowDuration
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if now.Sub(b.lastRequest) > idleLimit {
			delete(l.buckets, id)
		}
	}
}

// BucketCount reports the number of tracked identifiers, for diagnostics.
func (l *Limiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Identifier helpers build the canonical per-kind identifier strings.
func IPIdentifier(ip string) string      { return "ip:" + ip }
func UAIdentifier(ua string) string      { return "ua:" + ua }
func ToolIdentifier(client, tool string) string {
	return "tool:" + client + ":" + tool
}
func CompositeIdentifier(ip, ua string) string { return "composite:" + ip + ":" + ua }
