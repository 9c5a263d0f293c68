// Package pool is the adaptive connection pool: a semaphore-bounded set
// of authenticated Miniserver connections with pluggable load
// balancing, per-connection circuit breakers, health monitoring, and
// idle eviction.
//
// Follows an LRU + refcount shape (container/list, sync.Mutex, idle
// reaper goroutine), generalized from "loaded model" to "pooled
// authenticated connection". Concurrency is bounded with
// golang.org/x/sync/semaphore's weighted semaphore in place of atomic
// refcounts, since connections are acquired-and-released per call
// rather than held open across generation.
package pool

import (
	"container/list"
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
	"github.com/tutu-network/loxone-mcp-gateway/internal/resilience/breaker"
)

// Strategy is the closed set of load-balancing strategies.
type Strategy string

const (
	StrategyRoundRobin         Strategy = "round_robin"
	StrategyLeastConnections   Strategy = "least_connections"
	StrategyRandom             Strategy = "random"
	StrategyWeightedPerformance Strategy = "weighted_performance"
	StrategySticky             Strategy = "sticky"
)

// AuthMethod is the closed set of ways a Connection authenticated.
type AuthMethod string

const (
	AuthMethodToken AuthMethod = "token"
	AuthMethodBasic AuthMethod = "basic"
	AuthMethodMock  AuthMethod = "mock"
)

// ClientFactory negotiates and returns a new authenticated client. A
// nil preferred method lets the factory pick (token preferred, basic
// fallback).
type ClientFactory func(ctx context.Context, preferred *AuthMethod) (domain.LoxoneClient, AuthMethod, error)

// Config configures the pool.
type Config struct {
	MaxConnections      int64
	MinConnections       int
	IdleTimeout          time.Duration
	HealthCheckInterval  time.Duration
	CleanupInterval      time.Duration
	Strategy             Strategy
	BreakerConfig        breaker.Config
}

func (c Config) withDefaults() Config {
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Minute
	}
	if c.Strategy == "" {
		c.Strategy = StrategyRoundRobin
	}
	return c
}

// connMeta is the per-connection bookkeeping record.
type connMeta struct {
	client         domain.LoxoneClient
	method         AuthMethod
	createdAt      time.Time
	lastUsed       time.Time
	isHealthy      bool
	totalRequests  int64
	failedRequests int64
	activeRequests int64
	avgLatencyMS   float64
	breaker        *breaker.Breaker
	element        *list.Element
}

// Guard is returned by Acquire; callers must call Release exactly once.
type Guard struct {
	pool   *Pool
	conn   *connMeta
	called bool
}

// Client returns the underlying authenticated client.
func (g *Guard) Client() domain.LoxoneClient { return g.conn.client }

// RecordResult marks the call a success or failure, updating totals,
// load-balancer performance data, and the connection's breaker. Must
// be called at most once before Release.
func (g *Guard) RecordResult(success bool, latency time.Duration) {
	g.pool.mu.Lock()
	g.conn.totalRequests++
	if !success {
		g.conn.failedRequests++
	}
	if g.conn.avgLatencyMS == 0 {
		g.conn.avgLatencyMS = float64(latency.Milliseconds())
	} else {
		g.conn.avgLatencyMS = 0.8*g.conn.avgLatencyMS + 0.2*float64(latency.Milliseconds())
	}
	g.pool.mu.Unlock()
	if g.conn.breaker != nil {
		if success {
			g.conn.breaker.RecordSuccess()
		} else {
			g.conn.breaker.RecordFailure(domain.NewError(domain.KindConnection, "call failed"))
		}
	}
}

// Release decrements active_requests and releases the pool's
// concurrency permit. Safe to call via defer.
func (g *Guard) Release() {
	if g.called {
		return
	}
	g.called = true
	g.pool.mu.Lock()
	g.conn.activeRequests--
	g.conn.lastUsed = g.pool.now()
	g.pool.mu.Unlock()
	g.pool.sem.Release(1)
}

// Pool is the adaptive connection pool.
type Pool struct {
	cfg     Config
	factory ClientFactory
	sem     *semaphore.Weighted
	now     func() time.Time
	log     func(format string, args ...any)

	mu    sync.Mutex
	conns []*connMeta
	order *list.List // round-robin cursor ring, values are *connMeta
	rrPos *list.Element

	rng *rand.Rand
}

// New builds a pool. WarmUp (if cfg.MinConnections > 0) should be
// called separately by the caller after construction so startup
// failures can be logged without blocking New.
func New(cfg Config, factory ClientFactory, now func() time.Time) *Pool {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Pool{
		cfg:     cfg,
		factory: factory,
		sem:     semaphore.NewWeighted(cfg.MaxConnections),
		now:     now,
		order:   list.New(),
		rng:     rand.New(rand.NewSource(1)),
	}
}

// WarmUp builds MinConnections connections upfront; individual
// failures are returned for the caller to log but never abort warm-up
// of the remaining slots.
func (p *Pool) WarmUp(ctx context.Context) []error {
	var errs []error
	for i := 0; i < p.cfg.MinConnections; i++ {
		if _, err := p.createConnection(ctx, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (p *Pool) createConnection(ctx context.Context, preferred *AuthMethod) (*connMeta, error) {
	client, method, err := p.factory(ctx, preferred)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	conn := &connMeta{
		client:    client,
		method:    method,
		createdAt: p.now(),
		lastUsed:  p.now(),
		isHealthy: true,
		breaker:   breaker.New("pool-conn", p.cfg.BreakerConfig, p.now),
	}
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	conn.element = p.order.PushBack(conn)
	p.mu.Unlock()
	return conn, nil
}

// eligibleLocked returns healthy connections whose breaker (if any) admits a
// request.
func (p *Pool) eligibleLocked() []*connMeta {
	out := make([]*connMeta, 0, len(p.conns))
	for _, c := range p.conns {
		if !c.isHealthy {
			continue
		}
		if c.breaker != nil && !c.breaker.Allow() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// pickLocked selects a connection from candidates per the configured
// strategy. Caller must hold p.mu.
func (p *Pool) pickLocked(candidates []*connMeta, sessionKey string) *connMeta {
	if len(candidates) == 0 {
		return nil
	}
	switch p.cfg.Strategy {
	case StrategyRandom:
		return candidates[p.rng.Intn(len(candidates))]
	case StrategyLeastConnections:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.activeRequests < best.activeRequests {
				best = c
			}
		}
		return best
	case StrategyWeightedPerformance:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.avgLatencyMS < best.avgLatencyMS {
				best = c
			}
		}
		return best
	case StrategySticky:
		if sessionKey != "" {
			idx := int(hashString(sessionKey)) % len(candidates)
			if idx < 0 {
				idx += len(candidates)
			}
			return candidates[idx]
		}
		fallthrough
	default: // StrategyRoundRobin
		return p.nextRoundRobinLocked(candidates)
	}
}

func (p *Pool) nextRoundRobinLocked(candidates []*connMeta) *connMeta {
	set := make(map[*connMeta]bool, len(candidates))
	for _, c := range candidates {
		set[c] = true
	}
	start := p.rrPos
	if start == nil {
		start = p.order.Front()
	}
	e := start
	for i := 0; i < p.order.Len(); i++ {
		if e == nil {
			e = p.order.Front()
		}
		conn := e.Value.(*connMeta)
		next := e.Next()
		if set[conn] {
			p.rrPos = next
			return conn
		}
		e = next
	}
	return candidates[0]
}

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Acquire obtains a permit and a connection, creating one if under
// MaxConnections and none is eligible.
func (p *Pool) Acquire(ctx context.Context, sessionKey string) (*Guard, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, domain.WrapError(domain.KindConnection, "acquire pool permit", err)
	}

	p.mu.Lock()
	candidates := p.eligibleLocked()
	conn := p.pickLocked(candidates, sessionKey)
	canGrow := int64(len(p.conns)) < p.cfg.MaxConnections
	p.mu.Unlock()

	if conn == nil {
		if !canGrow {
			p.sem.Release(1)
			return nil, domain.ErrNoHealthyConn
		}
		var err error
		conn, err = p.createConnection(ctx, nil)
		if err != nil {
			p.sem.Release(1)
			return nil, err
		}
	}

	p.mu.Lock()
	conn.activeRequests++
	conn.lastUsed = p.now()
	p.mu.Unlock()

	return &Guard{pool: p, conn: conn}, nil
}

// HealthMonitor runs client.HealthCheck on every connection every
// HealthCheckInterval until ctx is cancelled.
func (p *Pool) HealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			conns := append([]*connMeta{}, p.conns...)
			p.mu.Unlock()
			for _, c := range conns {
				healthy := c.client.HealthCheck(ctx)
				p.mu.Lock()
				c.isHealthy = healthy
				p.mu.Unlock()
			}
		}
	}
}

// IdleCleanup evicts connections idle beyond IdleTimeout with zero
// active requests while the pool holds more than MinConnections, so it
// never shrinks below MinConnections. Runs every CleanupInterval until
// ctx is cancelled.
func (p *Pool) IdleCleanup(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := len(p.conns)
	kept := p.conns[:0]
	for _, c := range p.conns {
		idle := now.Sub(c.lastUsed) > p.cfg.IdleTimeout
		if idle && c.activeRequests == 0 && remaining > p.cfg.MinConnections {
			p.order.Remove(c.element)
			go c.client.Disconnect(context.Background())
			remaining--
			continue
		}
		kept = append(kept, c)
	}
	p.conns = kept
}

// Stats is the pool's aggregated statistics report.
type Stats struct {
	Created          int
	Active           int
	ByAuthMethod     map[AuthMethod]int
	TotalRequests    int64
	FailedRequests   int64
	SuccessRate      float64
}

// Stats computes a fresh statistics snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{ByAuthMethod: map[AuthMethod]int{}}
	s.Created = len(p.conns)
	for _, c := range p.conns {
		s.ByAuthMethod[c.method]++
		s.TotalRequests += c.totalRequests
		s.FailedRequests += c.failedRequests
		if c.activeRequests > 0 {
			s.Active++
		}
	}
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.TotalRequests-s.FailedRequests) / float64(s.TotalRequests)
	}
	return s
}
