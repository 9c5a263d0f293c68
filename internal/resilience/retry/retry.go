// Package retry computes backoff delays and executes retryable
// operations against the gateway's error taxonomy.
//
// Follows a familiar exponential-backoff math (base*2^(attempt-1),
// capped at MaxDelay), generalized to a full Fixed/Linear/Exponential/
// Fibonacci/jitter table, with an atomic-counter stats shape.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// Backoff is the closed set of delay-growth curves.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
	BackoffFibonacci   Backoff = "fibonacci"
	BackoffCustom      Backoff = "custom"
)

// Jitter is the closed set of randomization strategies applied on top
// of the raw backoff delay.
type Jitter string

const (
	JitterNone         Jitter = "none"
	JitterFull         Jitter = "full"
	JitterEqual        Jitter = "equal"
	JitterDecorrelated Jitter = "decorrelated"
)

// Policy configures one retry computation.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Backoff        Backoff
	LinearStep     time.Duration
	ExponentialMul float64
	Jitter         Jitter
	JitterFactor   float64
	// CustomDelay is consulted when Backoff == BackoffCustom.
	CustomDelay func(attempt int) time.Duration
	// RetryableKinds restricts retries to this set; empty means "retry
	// everything not in domain.NeverRetry".
	RetryableKinds map[domain.Kind]bool
}

// DefaultPolicy returns sensible defaults lifted into the richer
// policy shape.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialDelay:   1 * time.Second,
		MaxDelay:       60 * time.Second,
		Backoff:        BackoffExponential,
		ExponentialMul: 2.0,
		Jitter:         JitterNone,
		JitterFactor:   1.0,
	}
}

// fib returns the nth Fibonacci number (fib(1)=1, fib(2)=1, fib(3)=2, ...).
func fib(n int) int64 {
	if n <= 0 {
		return 0
	}
	var a, b int64 = 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}

// rawDelay computes the backoff curve's delay for retry n (1-indexed),
// before jitter and before the max-delay cap.
func (p Policy) rawDelay(attempt int) time.Duration {
	switch p.Backoff {
	case BackoffFixed:
		return p.InitialDelay
	case BackoffLinear:
		return p.InitialDelay + p.LinearStep*time.Duration(attempt-1)
	case BackoffExponential:
		mult := p.ExponentialMul
		if mult <= 0 {
			mult = 2.0
		}
		return time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	case BackoffFibonacci:
		return time.Duration(int64(p.InitialDelay) * fib(attempt))
	case BackoffCustom:
		if p.CustomDelay != nil {
			return p.CustomDelay(attempt)
		}
		return p.InitialDelay
	default:
		return p.InitialDelay
	}
}

func (p Policy) cap(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Delay computes the delay before retry n (1-indexed: n=1 is the wait
// after the first failed attempt, so Do waits Delay(attempt-1) before
// each later attempt), given the previous computed delay (0 if n==1,
// i.e. no prior delay yet) and an injectable random source for
// deterministic tests.
func (p Policy) Delay(attempt int, previous time.Duration, rng *rand.Rand) time.Duration {
	d := p.cap(p.rawDelay(attempt))
	switch p.Jitter {
	case JitterFull:
		return time.Duration(rng.Float64() * p.JitterFactor * float64(d))
	case JitterEqual:
		half := float64(d) / 2
		return time.Duration(half + rng.Float64()*p.JitterFactor*half)
	case JitterDecorrelated:
		if previous == 0 {
			// First computed delay: no previous, fall back to d.
			return d
		}
		upper := p.cap(3 * previous)
		lo := float64(p.InitialDelay)
		hi := float64(upper)
		if hi < lo {
			hi = lo
		}
		candidate := lo + rng.Float64()*(hi-lo)
		return p.cap(time.Duration(math.Min(float64(3*previous), candidate)))
	default:
		return d
	}
}

// Retryable reports whether err should trigger another attempt under
// this policy.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	kind := domain.KindOf(err)
	if domain.NeverRetry[kind] {
		return false
	}
	if len(p.RetryableKinds) == 0 {
		return true
	}
	return p.RetryableKinds[kind]
}

// Stats accumulates outcome counters across calls to Do, safe for
// concurrent use via atomics (hot-path counters, teacher's
// mutex-guarded-accumulator idiom adapted to lock-free atomics).
type Stats struct {
	total              atomic.Int64
	successfulFirst    atomic.Int64
	successfulAfter    atomic.Int64
	failed             atomic.Int64
	retrySum           atomic.Int64
}

// Snapshot is a point-in-time, race-free view of Stats.
type Snapshot struct {
	Total           int64
	SuccessfulFirst int64
	SuccessfulAfter int64
	Failed          int64
	AverageRetries  float64
}

func (s *Stats) Snapshot() Snapshot {
	total := s.total.Load()
	avg := 0.0
	if total > 0 {
		avg = float64(s.retrySum.Load()) / float64(total)
	}
	return Snapshot{
		Total:           total,
		SuccessfulFirst: s.successfulFirst.Load(),
		SuccessfulAfter: s.successfulAfter.Load(),
		Failed:          s.failed.Load(),
		AverageRetries:  avg,
	}
}

// Do runs fn under the policy, retrying on retryable failures with
// computed backoff delays, until it succeeds, exhausts MaxAttempts, or
// ctx is cancelled. rng defaults to a fresh time-seeded source if nil;
// tests should pass a deterministic one.
func Do(ctx context.Context, p Policy, stats *Stats, rng *rand.Rand, fn func(ctx context.Context, attempt int) error) error {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if stats != nil {
		stats.total.Add(1)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	var previousDelay time.Duration
	retries := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d := p.Delay(attempt-1, previousDelay, rng)
			previousDelay = d
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				if stats != nil {
					stats.failed.Add(1)
				}
				return ctx.Err()
			case <-timer.C:
			}
			retries++
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			if stats != nil {
				if attempt == 1 {
					stats.successfulFirst.Add(1)
				} else {
					stats.successfulAfter.Add(1)
				}
				stats.retrySum.Add(int64(retries))
			}
			return nil
		}
		if !p.Retryable(lastErr) {
			break
		}
	}
	if stats != nil {
		stats.failed.Add(1)
		stats.retrySum.Add(int64(retries))
	}
	return lastErr
}
