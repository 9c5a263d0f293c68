package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// fakeClient is a minimal domain.LoxoneClient stub for pool tests.
type fakeClient struct {
	healthy atomic.Bool
}

func newFakeClient() *fakeClient {
	c := &fakeClient{}
	c.healthy.Store(true)
	return c
}

func (f *fakeClient) Connect(ctx context.Context) error    { return nil }
func (f *fakeClient) IsConnected() bool                    { return true }
func (f *fakeClient) Disconnect(ctx context.Context) error { return nil }
func (f *fakeClient) SendCommand(ctx context.Context, uuid, cmd string) (domain.Envelope, error) {
	return domain.Envelope{Code: 200}, nil
}
func (f *fakeClient) GetStructure(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *fakeClient) GetDeviceStates(ctx context.Context, uuid string) (map[string]any, error) {
	return nil, nil
}
func (f *fakeClient) GetStateValues(ctx context.Context, uuids []string) (map[string]any, error) {
	return nil, nil
}
func (f *fakeClient) GetAllDeviceStatesBatch(ctx context.Context) (map[string]map[string]any, error) {
	return nil, nil
}
func (f *fakeClient) GetSystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	return domain.SystemInfo{}, nil
}
func (f *fakeClient) HealthCheck(ctx context.Context) bool { return f.healthy.Load() }
func (f *fakeClient) GetAuthParams() string                { return "" }

func countingFactory(created *int64) ClientFactory {
	return func(ctx context.Context, preferred *AuthMethod) (domain.LoxoneClient, AuthMethod, error) {
		atomic.AddInt64(created, 1)
		return newFakeClient(), AuthMethodMock, nil
	}
}

// TestPropertyPoolBound covers Testable Property 5: the number of
// concurrently active connections never exceeds MaxConnections, even
// under heavy concurrent Acquire pressure.
func TestPropertyPoolBound(t *testing.T) {
	var created int64
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New(Config{MaxConnections: 3}, countingFactory(&created), func() time.Time { return clock })

	var wg sync.WaitGroup
	var mu sync.Mutex
	active := 0
	maxObserved := 0
	const workers = 30
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := p.Acquire(context.Background(), "")
			if err != nil {
				return
			}
			mu.Lock()
			active++
			if active > maxObserved {
				maxObserved = active
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			g.Release()
		}()
	}
	wg.Wait()

	if maxObserved > 3 {
		t.Fatalf("observed %d concurrently active connections, want <= MaxConnections (3)", maxObserved)
	}
	if atomic.LoadInt64(&created) > 3 {
		t.Fatalf("created %d connections, want <= MaxConnections (3)", created)
	}
}

func TestAcquireReturnsErrNoHealthyConnWhenAtCapacityAndUnhealthy(t *testing.T) {
	var created int64
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New(Config{MaxConnections: 1}, countingFactory(&created), func() time.Time { return clock })

	g, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error on first acquire: %v", err)
	}
	p.mu.Lock()
	p.conns[0].isHealthy = false
	p.mu.Unlock()
	g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "")
	if err != domain.ErrNoHealthyConn {
		t.Fatalf("err = %v, want ErrNoHealthyConn", err)
	}
}

func TestWarmUpCreatesMinConnectionsAndCollectsErrors(t *testing.T) {
	calls := 0
	factory := func(ctx context.Context, preferred *AuthMethod) (domain.LoxoneClient, AuthMethod, error) {
		calls++
		if calls == 2 {
			return nil, "", domain.NewError(domain.KindConnection, "boom")
		}
		return newFakeClient(), AuthMethodMock, nil
	}
	p := New(Config{MaxConnections: 5, MinConnections: 3}, factory, func() time.Time { return time.Unix(0, 0) })
	errs := p.WarmUp(context.Background())
	if len(errs) != 1 {
		t.Fatalf("WarmUp errs = %v, want exactly 1", errs)
	}
	if got := len(p.conns); got != 2 {
		t.Fatalf("warmed up %d connections, want 2 (one factory call failed)", got)
	}
}

func TestIdleCleanupEvictsOnlyBeyondMinConnections(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var created int64
	p := New(Config{MaxConnections: 5, MinConnections: 1, IdleTimeout: time.Minute}, countingFactory(&created), func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		g, err := p.Acquire(context.Background(), "")
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		g.Release()
	}
	if len(p.conns) != 3 {
		t.Fatalf("expected 3 connections before cleanup, got %d", len(p.conns))
	}

	clock = clock.Add(2 * time.Minute)
	p.evictIdle()
	if len(p.conns) != 1 {
		t.Fatalf("expected eviction to stop at MinConnections (1), got %d remaining", len(p.conns))
	}
}

func TestRoundRobinCyclesThroughEligibleConnections(t *testing.T) {
	var created int64
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New(Config{MaxConnections: 3, MinConnections: 3, Strategy: StrategyRoundRobin}, countingFactory(&created), func() time.Time { return clock })
	if errs := p.WarmUp(context.Background()); len(errs) != 0 {
		t.Fatalf("WarmUp errs = %v, want none", errs)
	}

	seen := map[*connMeta]int{}
	for i := 0; i < 6; i++ {
		g, err := p.Acquire(context.Background(), "")
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		seen[g.conn]++
		g.Release()
	}
	if len(seen) != 3 {
		t.Fatalf("expected round robin to visit all 3 connections, saw %d distinct", len(seen))
	}
	for conn, n := range seen {
		if n != 2 {
			t.Errorf("connection %p visited %d times, want 2 (even rotation)", conn, n)
		}
	}
}

func TestStatsAggregatesAcrossConnections(t *testing.T) {
	var created int64
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New(Config{MaxConnections: 2}, countingFactory(&created), func() time.Time { return clock })

	g, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	g.RecordResult(true, 10*time.Millisecond)
	g.Release()

	g2, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	g2.RecordResult(false, 20*time.Millisecond)
	g2.Release()

	stats := p.Stats()
	if stats.TotalRequests != 2 || stats.FailedRequests != 1 {
		t.Fatalf("stats = %+v, want 2 total / 1 failed", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", stats.SuccessRate)
	}
}
