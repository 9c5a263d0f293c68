// Package coalesce batches concurrent requests for the same resource
// family into a single backend call, demultiplexing results back to
// each waiter.
//
// Follows a retry-queue idiom of accumulating work items under a mutex
// and draining them on a trigger condition, adapted here from "retry
// on failure" to "batch on size-or-time" fan-in.
package coalesce

import (
	"context"
	"sync"
	"time"
)

// RequestType is the closed set of batchable request families.
type RequestType string

const (
	TypeDeviceState   RequestType = "DeviceState"
	TypeRoomDevices   RequestType = "RoomDevices"
	TypeSensorReading RequestType = "SensorReading"
	TypeStructureInfo RequestType = "StructureInfo"
)

// Executor runs one batch of keys for a RequestType, returning a
// result per key. A missing key in the returned map is treated as a
// null-valued success.
type Executor func(ctx context.Context, reqType RequestType, keys []string) map[string]Result

// Result is one key's outcome from a batch execution.
type Result struct {
	Value any
	Err   error
}

// Config tunes batch formation.
type Config struct {
	MaxBatchSize int
	MaxWaitTime  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 25
	}
	if c.MaxWaitTime == 0 {
		c.MaxWaitTime = 50 * time.Millisecond
	}
	return c
}

type waiter struct {
	key    string
	result chan Result
}

type openBatch struct {
	reqType RequestType
	waiters []waiter
	timer   *time.Timer
}

// Coalescer batches same-RequestType requests arriving within
// MaxWaitTime of each other, or once MaxBatchSize is reached.
type Coalescer struct {
	cfg      Config
	exec     Executor
	now      func() time.Time

	mu    sync.Mutex
	open  map[RequestType]*openBatch
}

// New builds a Coalescer that executes batches through exec.
func New(cfg Config, exec Executor, now func() time.Time) *Coalescer {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Coalescer{cfg: cfg, exec: exec, now: now, open: make(map[RequestType]*openBatch)}
}

// Submit joins (or opens) the current batch for reqType/key and blocks
// until that batch executes or ctx is cancelled.
func (c *Coalescer) Submit(ctx context.Context, reqType RequestType, key string) (any, error) {
	w := waiter{key: key, result: make(chan Result, 1)}

	c.mu.Lock()
	b, ok := c.open[reqType]
	if !ok {
		b = &openBatch{reqType: reqType}
		c.open[reqType] = b
		b.timer = time.AfterFunc(c.cfg.MaxWaitTime, func() { c.flush(reqType) })
	}
	b.waiters = append(b.waiters, w)
	full := len(b.waiters) >= c.cfg.MaxBatchSize
	c.mu.Unlock()

	if full {
		c.flush(reqType)
	}

	select {
	case r := <-w.result:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flush executes and clears the currently open batch for reqType, if
// any. Safe to call concurrently; only the first caller for a given
// batch generation does the work.
func (c *Coalescer) flush(reqType RequestType) {
	c.mu.Lock()
	b, ok := c.open[reqType]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.open, reqType)
	c.mu.Unlock()

	b.timer.Stop()

	keys := make([]string, len(b.waiters))
	seen := make(map[string]bool, len(b.waiters))
	unique := keys[:0]
	for _, w := range b.waiters {
		if !seen[w.key] {
			seen[w.key] = true
			unique = append(unique, w.key)
		}
	}

	results := c.exec(context.Background(), reqType, unique)

	for _, w := range b.waiters {
		r, ok := results[w.key]
		if !ok {
			r = Result{Value: nil, Err: nil}
		}
		w.result <- r
	}
}

// PendingBatches reports how many RequestTypes currently have an open,
// unflushed batch — for diagnostics.
func (c *Coalescer) PendingBatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}
