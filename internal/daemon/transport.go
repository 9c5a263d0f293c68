package daemon

import (
	"context"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/coalesce"
	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
	"github.com/tutu-network/loxone-mcp-gateway/internal/pool"
)

// poolTransport adapts *pool.Pool's acquire/release cycle to the
// narrow Transport/CommandSender capabilities internal/resolver and
// internal/backend need, so those packages depend on small interfaces
// rather than the pool's full surface.
type poolTransport struct {
	pool *pool.Pool
}

func (t *poolTransport) withConn(ctx context.Context, fn func(ctx context.Context, c domain.LoxoneClient) error) error {
	start := time.Now()
	guard, err := t.pool.Acquire(ctx, "")
	if err != nil {
		return err
	}
	defer guard.Release()
	err = fn(ctx, guard.Client())
	guard.RecordResult(err == nil, time.Since(start))
	return err
}

// SendCommand implements backend.CommandSender.
func (t *poolTransport) SendCommand(ctx context.Context, uuid, cmd string) (domain.Envelope, error) {
	var env domain.Envelope
	err := t.withConn(ctx, func(ctx context.Context, c domain.LoxoneClient) error {
		var innerErr error
		env, innerErr = c.SendCommand(ctx, uuid, cmd)
		return innerErr
	})
	return env, err
}

// GetDeviceStates implements resolver.Transport's per-uuid fallback chain.
func (t *poolTransport) GetDeviceStates(ctx context.Context, uuid string) (map[string]any, error) {
	var out map[string]any
	err := t.withConn(ctx, func(ctx context.Context, c domain.LoxoneClient) error {
		var innerErr error
		out, innerErr = c.GetDeviceStates(ctx, uuid)
		return innerErr
	})
	return out, err
}

// GetStateValues implements resolver.Transport's batch path.
func (t *poolTransport) GetStateValues(ctx context.Context, uuids []string) (map[string]any, error) {
	var out map[string]any
	err := t.withConn(ctx, func(ctx context.Context, c domain.LoxoneClient) error {
		var innerErr error
		out, innerErr = c.GetStateValues(ctx, uuids)
		return innerErr
	})
	return out, err
}

// coalesceExecutor builds a coalesce.Executor over transport, routing
// every batchable RequestType through the batch-capable GetStateValues
// call. RoomDevices/StructureInfo batches aren't backed by a single
// Miniserver bulk endpoint, so each key in those families resolves
// independently through the same call — still one coalesced round
// trip per flush, just without a dedicated bulk primitive underneath.
func coalesceExecutor(transport *poolTransport) coalesce.Executor {
	return func(ctx context.Context, reqType coalesce.RequestType, keys []string) map[string]coalesce.Result {
		out := make(map[string]coalesce.Result, len(keys))
		values, err := transport.GetStateValues(ctx, keys)
		if err != nil {
			for _, k := range keys {
				out[k] = coalesce.Result{Err: err}
			}
			return out
		}
		for _, k := range keys {
			v, ok := values[k]
			if !ok {
				out[k] = coalesce.Result{Value: nil}
				continue
			}
			out[k] = coalesce.Result{Value: v}
		}
		return out
	}
}
