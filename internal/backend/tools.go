package backend

import (
	"context"
	"fmt"

	"github.com/tutu-network/loxone-mcp-gateway/internal/consent"
	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
	"github.com/tutu-network/loxone-mcp-gateway/internal/ratelimit"
)

// ToolAdapter resolves (tool_name already bound, params) to a content
// value: an adapter registry that resolves (tool_name, params) ->
// content.
type ToolAdapter func(ctx context.Context, params map[string]any) (any, error)

// ToolDescriptor is the metadata half of a registered tool, independent
// of any specific MCP SDK schema representation.
type ToolDescriptor struct {
	Name        string
	Description string
}

// CommandSender is the minimal capability call_tool needs to issue a
// Miniserver command — satisfied by a pool.Guard's embedded
// domain.LoxoneClient, wrapped through the resilience manager by the
// caller.
type CommandSender interface {
	SendCommand(ctx context.Context, uuid, cmd string) (domain.Envelope, error)
}

// Executor runs op against the Miniserver with resilience (breaker,
// retry, timeout, fallback) applied, per internal/resilience.Manager's
// Execute signature.
type Executor func(ctx context.Context, service string, op func(ctx context.Context) (any, error)) (any, error)

// RegisterTool adds or replaces an adapter in the registry.
func (b *Bridge) RegisterTool(name string, adapter ToolAdapter) {
	b.tools[name] = adapter
}

// ListTools returns the names of every registered tool.
func (b *Bridge) ListTools() []string {
	names := make([]string, 0, len(b.tools))
	for name := range b.tools {
		names = append(names, name)
	}
	return names
}

// CallTool dispatches to the named adapter. Adapter errors are
// returned as-is; the MCP transport layer (mcpserver.go) is
// responsible for mapping them onto a CallToolResult with error text.
func (b *Bridge) CallTool(ctx context.Context, name string, params map[string]any) (any, error) {
	adapter, ok := b.tools[name]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "unknown tool: "+name)
	}
	return adapter(ctx, params)
}

// ControlToolDeps bundles the services device/room control tools need:
// resilience-wrapped command execution, consent gating, and rate
// limiting.
type ControlToolDeps struct {
	Execute   Executor
	Sender    CommandSender
	Consent   *consent.Manager
	RateLimit *ratelimit.Limiter
}

// RegisterControlTools wires the device/room control adapter family
// that exercises the resilience manager, consent flow, and rate
// limiter together — the path every mutating operation takes.
func (b *Bridge) RegisterControlTools(clientID string, d ControlToolDeps) {
	b.RegisterTool("control_device", func(ctx context.Context, params map[string]any) (any, error) {
		return controlDevice(ctx, d, clientID, params)
	})
	b.RegisterTool("control_room", func(ctx context.Context, params map[string]any) (any, error) {
		return controlRoom(ctx, d, clientID, params)
	})
}

func controlDevice(ctx context.Context, d ControlToolDeps, clientID string, params map[string]any) (any, error) {
	uuid, _ := params["uuid"].(string)
	action, _ := params["action"].(string)

	if !domain.ValidUUID(uuid) {
		return nil, domain.NewError(domain.KindInvalidInput, "invalid device uuid")
	}
	if !domain.ValidAction(action) {
		return nil, domain.NewError(domain.KindInvalidInput, "invalid device action")
	}

	if d.RateLimit != nil {
		if res := d.RateLimit.CheckRequest(ratelimit.ToolIdentifier(clientID, "control_device")); res.Decision == ratelimit.Limited {
			return nil, domain.NewError(domain.KindRateLimit, "rate limit exceeded for control_device")
		}
	}

	if d.Consent != nil {
		decision, err := d.Consent.RequestConsent(ctx, consent.Operation{
			Type: consent.OpDeviceControl,
			Key:  uuid,
			Source: clientID,
		})
		if err != nil {
			return nil, err
		}
		if decision != consent.DecisionApproved && decision != consent.DecisionAutoApproved {
			return nil, domain.NewError(domain.KindConsentDenied, "consent not granted for device control: "+string(decision))
		}
	}

	result, err := d.Execute(ctx, "miniserver.command", func(ctx context.Context) (any, error) {
		env, sendErr := d.Sender.SendCommand(ctx, uuid, action)
		if sendErr != nil {
			return nil, sendErr
		}
		return env, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func controlRoom(ctx context.Context, d ControlToolDeps, clientID string, params map[string]any) (any, error) {
	roomUUIDsAny, _ := params["uuids"].([]any)
	action, _ := params["action"].(string)
	if !domain.ValidAction(action) {
		return nil, domain.NewError(domain.KindInvalidInput, "invalid room action")
	}

	uuids := make([]string, 0, len(roomUUIDsAny))
	for _, v := range roomUUIDsAny {
		if s, ok := v.(string); ok && domain.ValidUUID(s) {
			uuids = append(uuids, s)
		}
	}
	if len(uuids) == 0 {
		return nil, domain.NewError(domain.KindInvalidInput, "no valid device uuids in room control request")
	}

	if d.Consent != nil && d.Consent.BulkRequiresConsent(len(uuids)) {
		decision, err := d.Consent.RequestConsent(ctx, consent.Operation{
			Type: consent.OpBulkDeviceControl,
			Key:  fmt.Sprintf("room:%d-devices", len(uuids)),
			Source: clientID,
		})
		if err != nil {
			return nil, err
		}
		if decision != consent.DecisionApproved && decision != consent.DecisionAutoApproved {
			return nil, domain.NewError(domain.KindConsentDenied, "consent not granted for bulk room control: "+string(decision))
		}
	}

	results := make(map[string]domain.Envelope, len(uuids))
	for _, uuid := range uuids {
		v, err := d.Execute(ctx, "miniserver.command", func(ctx context.Context) (any, error) {
			return d.Sender.SendCommand(ctx, uuid, action)
		})
		if err != nil {
			return nil, err
		}
		if env, ok := v.(domain.Envelope); ok {
			results[uuid] = env
		}
	}
	return results, nil
}
