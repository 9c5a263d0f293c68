// Package resilience composes per-service circuit breakers, retry
// policies, timeouts, and fallback strategies behind a single facade.
// Follows a Check{CheckFn, RecoverFn} pairing style and a
// config-struct-plus-injectable-clock registry idiom.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
	"github.com/tutu-network/loxone-mcp-gateway/internal/resilience/breaker"
	"github.com/tutu-network/loxone-mcp-gateway/internal/resilience/retry"
)

// FallbackStrategy is the closed set of ways Manager recovers from a
// failed, fallback-enabled call.
type FallbackStrategy string

const (
	FallbackDefault  FallbackStrategy = "default"
	FallbackCached   FallbackStrategy = "cached"
	FallbackDegraded FallbackStrategy = "degraded"
	FallbackCustom   FallbackStrategy = "custom"
)

// ServiceConfig is the per-service-name configuration registered with
// the Manager.
type ServiceConfig struct {
	Breaker          breaker.Config
	Retry            retry.Policy
	FallbackEnabled  bool
	FallbackStrategy FallbackStrategy
	CacheTTL         time.Duration
	TimeoutEnabled   bool
	TimeoutDuration  time.Duration
	// DefaultValue backs FallbackDefault.
	DefaultValue any
	// Degrade backs FallbackDegraded: a cheaper operation run in place
	// of op when the breaker is tripped or op failed.
	Degrade func(ctx context.Context) (any, error)
	// Custom backs FallbackCustom.
	Custom func(ctx context.Context, cause error) (any, error)
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Manager is the process-wide resilience façade: one registry of named
// service configs, each backed by its own breaker and retry stats.
type Manager struct {
	mu        sync.Mutex
	breakers  *breaker.Registry
	configs   map[string]ServiceConfig
	retryStat map[string]*retry.Stats
	cache     map[string]cacheEntry
	now       func() time.Time
	rng       *rand.Rand
}

// NewManager creates a resilience manager with an injectable clock.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		breakers:  breaker.NewRegistry(breaker.DefaultConfig(), now),
		configs:   make(map[string]ServiceConfig),
		retryStat: make(map[string]*retry.Stats),
		cache:     make(map[string]cacheEntry),
		now:       now,
		rng:       rand.New(rand.NewSource(1)),
	}
}

// Register installs (or replaces) the config for a named service,
// eagerly creating its breaker so per-service thresholds take effect
// from the first call.
func (m *Manager) Register(service string, cfg ServiceConfig) {
	m.mu.Lock()
	m.configs[service] = cfg
	m.retryStat[service] = &retry.Stats{}
	m.mu.Unlock()
	m.breakers.GetOrCreate(service, cfg.Breaker)
}

func (m *Manager) config(service string) ServiceConfig {
	m.mu.Lock()
	if cfg, ok := m.configs[service]; ok {
		m.mu.Unlock()
		return cfg
	}
	cfg := ServiceConfig{Breaker: breaker.DefaultConfig(), Retry: retry.DefaultPolicy()}
	m.configs[service] = cfg
	m.retryStat[service] = &retry.Stats{}
	m.mu.Unlock()
	m.breakers.GetOrCreate(service, cfg.Breaker)
	return cfg
}

func (m *Manager) stats(service string) *retry.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.retryStat[service]
	if !ok {
		s = &retry.Stats{}
		m.retryStat[service] = s
	}
	return s
}

// Execute runs op through the named service's breaker, retry policy,
// and optional timeout, applying the configured fallback on failure.
func (m *Manager) Execute(ctx context.Context, service string, op func(ctx context.Context) (any, error)) (any, error) {
	cfg := m.config(service)
	br := m.breakers.Get(service)

	if !br.Allow() {
		if cfg.FallbackEnabled {
			return m.fallback(ctx, service, cfg, domain.NewError(domain.KindServiceUnavailable, "circuit open: "+service))
		}
		return nil, domain.NewError(domain.KindServiceUnavailable, "circuit open: "+service)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.TimeoutEnabled && cfg.TimeoutDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.TimeoutDuration)
		defer cancel()
	}

	var result any
	stats := m.stats(service)
	err := retry.Do(runCtx, cfg.Retry, stats, m.rng, func(ctx context.Context, attempt int) error {
		v, opErr := op(ctx)
		result = v
		return opErr
	})

	if err == nil {
		br.RecordSuccess()
		if cfg.FallbackStrategy == FallbackCached && cfg.CacheTTL > 0 {
			m.mu.Lock()
			m.cache[service] = cacheEntry{value: result, expiresAt: m.now().Add(cfg.CacheTTL)}
			m.mu.Unlock()
		}
		return result, nil
	}

	br.RecordFailure(err)
	if cfg.FallbackEnabled {
		return m.fallback(ctx, service, cfg, err)
	}
	return nil, err
}

var errNoCachedFallback = errors.New("resilience: no cached fallback available")

func (m *Manager) fallback(ctx context.Context, service string, cfg ServiceConfig, cause error) (any, error) {
	switch cfg.FallbackStrategy {
	case FallbackCached:
		m.mu.Lock()
		entry, ok := m.cache[service]
		m.mu.Unlock()
		if !ok || m.now().After(entry.expiresAt) {
			return nil, errNoCachedFallback
		}
		return entry.value, nil
	case FallbackDegraded:
		if cfg.Degrade == nil {
			return nil, cause
		}
		return cfg.Degrade(ctx)
	case FallbackCustom:
		if cfg.Custom == nil {
			return nil, cause
		}
		return cfg.Custom(ctx, cause)
	default:
		return cfg.DefaultValue, nil
	}
}

// CleanupExpiredCache discards cached fallback entries whose TTL has
// elapsed. Intended to be run periodically by a background goroutine
// sharing the gateway's lifecycle context.
func (m *Manager) CleanupExpiredCache() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.cache {
		if now.After(v.expiresAt) {
			delete(m.cache, k)
		}
	}
}

// BreakerSnapshots exposes every registered breaker's state, used by
// the health checker and admin surfaces.
func (m *Manager) BreakerSnapshots() []domain.CircuitBreakerState {
	return m.breakers.Snapshots()
}
