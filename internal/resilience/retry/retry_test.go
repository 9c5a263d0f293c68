package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// TestDelayMonotonic covers Testable Property 3: with jitter disabled,
// for Exponential/Linear/Fibonacci the computed delay for attempt n+1
// is >= the delay for attempt n, and never exceeds MaxDelay.
func TestDelayMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	policies := map[string]Policy{
		"exponential": {InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Backoff: BackoffExponential, ExponentialMul: 2.0, Jitter: JitterNone},
		"linear":      {InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Backoff: BackoffLinear, LinearStep: 5 * time.Millisecond, Jitter: JitterNone},
		"fibonacci":   {InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Backoff: BackoffFibonacci, Jitter: JitterNone},
	}
	for name, p := range policies {
		t.Run(name, func(t *testing.T) {
			var prev time.Duration
			for attempt := 1; attempt <= 10; attempt++ {
				d := p.Delay(attempt, prev, rng)
				if d > p.MaxDelay {
					t.Fatalf("%s: attempt %d delay %v exceeds MaxDelay %v", name, attempt, d, p.MaxDelay)
				}
				if attempt > 1 && d < prev {
					t.Fatalf("%s: attempt %d delay %v is less than attempt %d delay %v", name, attempt, d, attempt-1, prev)
				}
				prev = d
			}
		})
	}
}

func TestDelayFixedIsConstant(t *testing.T) {
	p := Policy{InitialDelay: 50 * time.Millisecond, Backoff: BackoffFixed, Jitter: JitterNone}
	rng := rand.New(rand.NewSource(1))
	for attempt := 1; attempt <= 5; attempt++ {
		if got := p.Delay(attempt, 0, rng); got != 50*time.Millisecond {
			t.Errorf("attempt %d: delay = %v, want 50ms", attempt, got)
		}
	}
}

func TestDelayDecorrelatedFirstAttemptFallsBackToRawDelay(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Backoff: BackoffExponential, ExponentialMul: 2.0, Jitter: JitterDecorrelated, JitterFactor: 1.0}
	rng := rand.New(rand.NewSource(1))
	// attempt 1 has no previous delay; decorrelated jitter must fall back
	// to the raw (uncapped-by-jitter) delay, per spec edge case.
	if got, want := p.Delay(1, 0, rng), p.cap(p.rawDelay(1)); got != want {
		t.Errorf("first attempt decorrelated delay = %v, want fallback %v", got, want)
	}
}

func TestJitterFullAndEqualStayWithinBounds(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Backoff: BackoffFixed, JitterFactor: 1.0}
	rng := rand.New(rand.NewSource(7))

	p.Jitter = JitterFull
	for i := 0; i < 50; i++ {
		d := p.Delay(2, 0, rng)
		if d < 0 || d > p.InitialDelay {
			t.Fatalf("full jitter delay %v out of bounds [0, %v]", d, p.InitialDelay)
		}
	}

	p.Jitter = JitterEqual
	half := p.InitialDelay / 2
	for i := 0; i < 50; i++ {
		d := p.Delay(2, 0, rng)
		if d < half || d > p.InitialDelay {
			t.Fatalf("equal jitter delay %v out of bounds [%v, %v]", d, half, p.InitialDelay)
		}
	}
}

// TestDoRetryBackoffScenario encodes spec scenario S2: max_attempts=3,
// Exponential{mult:2.0, initial:100ms}, jitter off, three timeouts then
// success. Delays between attempts: 100ms, 200ms; total attempts: 3;
// result: Ok.
func TestDoRetryBackoffScenario(t *testing.T) {
	policy := Policy{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       time.Second,
		Backoff:        BackoffExponential,
		ExponentialMul: 2.0,
		Jitter:         JitterNone,
	}
	var attempts []int
	var delays []time.Duration
	var lastCall time.Time
	rng := rand.New(rand.NewSource(1))
	stats := &Stats{}

	err := Do(context.Background(), policy, stats, rng, func(ctx context.Context, attempt int) error {
		now := time.Now()
		if !lastCall.IsZero() {
			delays = append(delays, now.Sub(lastCall))
		}
		lastCall = now
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return domain.NewError(domain.KindTimeout, "simulated timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on attempt 3, got error: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d: %v", len(attempts), attempts)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 inter-attempt delays, got %d: %v", len(delays), delays)
	}
	// Allow generous scheduling slack; assert ordering/magnitude, not
	// exact wall-clock equality.
	if delays[0] < 90*time.Millisecond {
		t.Errorf("first delay %v shorter than expected ~100ms", delays[0])
	}
	if delays[1] < 2*delays[0]-20*time.Millisecond {
		t.Errorf("second delay %v did not roughly double the first %v", delays[1], delays[0])
	}

	snap := stats.Snapshot()
	if snap.Total != 1 || snap.SuccessfulAfter != 1 || snap.Failed != 0 {
		t.Errorf("unexpected stats snapshot: %+v", snap)
	}
}

func TestDoNeverRetriesAuthentication(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), nil, rand.New(rand.NewSource(1)), func(ctx context.Context, attempt int) error {
		calls++
		return domain.NewError(domain.KindAuthentication, "bad credentials")
	})
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for a never-retry kind, got %d", calls)
	}
	if !domain.IsKind(err, domain.KindAuthentication) {
		t.Errorf("expected the Authentication error to propagate unchanged, got %v", err)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 5, InitialDelay: time.Hour, Backoff: BackoffFixed}
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, policy, nil, rand.New(rand.NewSource(1)), func(ctx context.Context, attempt int) error {
		calls++
		return domain.NewError(domain.KindConnection, "retryable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt before the cancelled sleep aborted, got %d", calls)
	}
}

func TestFibonacci(t *testing.T) {
	want := []int64{0, 1, 1, 2, 3, 5, 8, 13}
	for n, w := range want {
		if got := fib(n); got != w {
			t.Errorf("fib(%d) = %d, want %d", n, got, w)
		}
	}
}
