package backend

import (
	"context"
	"fmt"
	"sort"

	"github.com/tutu-network/loxone-mcp-gateway/internal/consent"
	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// ConsentGate is the minimal capability the default tool adapters need
// from internal/consent.Manager to gate a mutating call.
type ConsentGate interface {
	RequestConsent(ctx context.Context, op consent.Operation) (consent.Decision, error)
	BulkRequiresConsent(n int) bool
}

// Discoverer is the capability internal/discovery.Discoverer exposes
// to the "discover_miniservers" tool.
type Discoverer interface {
	Scan(ctx context.Context) ([]domain.DiscoveredDevice, error)
}

// AdapterDeps bundles what RegisterDefaultTools needs to build the
// standard device/room/sensor/workflow tool set. Any of Resolve,
// Consent, Discovery may be nil: a nil Consent disables gating, a nil
// Resolve makes sensor_read fail with a ServiceUnavailable error,
// a nil Discovery drops the discover_miniservers tool.
type AdapterDeps struct {
	Context   StructureSource
	Send      CommandSender
	Resolve   func(ctx context.Context, uuid string) (domain.ResolvedValue, error)
	Exec      Executor
	Consent   ConsentGate
	Discovery Discoverer
	ClientID  string
}

// RegisterDefaultTools installs the gateway's built-in tool catalog
// onto b: single and bulk device control, room control, a sensor
// reading, a network discovery scan, and a small scripted demo
// workflow. Deliberately not a generalized workflow-authoring surface.
func RegisterDefaultTools(b *Bridge, deps AdapterDeps) {
	b.RegisterTool("device_control", deviceControlAdapter(deps))
	b.RegisterTool("bulk_device_control", bulkDeviceControlAdapter(deps))
	b.RegisterTool("room_control", roomControlAdapter(deps))
	b.RegisterTool("sensor_read", sensorReadAdapter(deps))
	b.RegisterTool("list_rooms", listRoomsAdapter(deps))
	b.RegisterTool("goodnight_scene", goodnightSceneAdapter(deps))
	if deps.Discovery != nil {
		b.RegisterTool("discover_miniservers", discoverMiniserversAdapter(deps))
	}
}

// discoverMiniserversAdapter implements "discover_miniservers": run
// the mDNS/UDP-broadcast/HTTP-scan sweep and return what was found.
func discoverMiniserversAdapter(deps AdapterDeps) ToolAdapter {
	return func(ctx context.Context, params map[string]any) (any, error) {
		return deps.Discovery.Scan(ctx)
	}
}

type deviceControlResult struct {
	UUID   string         `json:"uuid"`
	Action string         `json:"action"`
	Result domain.Envelope `json:"result"`
}

// deviceControlAdapter implements the "device_control" tool: validate
// uuid+action, gate on consent (OpDeviceControl, Low sensitivity —
// auto-approved unless the operator's config requires Low gating too),
// send the command through the resilience-wrapped executor.
func deviceControlAdapter(deps AdapterDeps) ToolAdapter {
	return func(ctx context.Context, params map[string]any) (any, error) {
		uuid, _ := params["uuid"].(string)
		action, _ := params["action"].(string)
		if !domain.ValidUUID(uuid) {
			return nil, domain.NewError(domain.KindInvalidInput, "invalid device uuid: "+uuid)
		}
		if !domain.ValidAction(action) {
			return nil, domain.NewError(domain.KindInvalidInput, "invalid device action: "+action)
		}
		if err := gate(ctx, deps, consent.OpDeviceControl, uuid+":"+action); err != nil {
			return nil, err
		}
		res, err := deps.Exec(ctx, "device_control", func(ctx context.Context) (any, error) {
			return deps.Send.SendCommand(ctx, uuid, action)
		})
		if err != nil {
			return nil, err
		}
		return deviceControlResult{UUID: uuid, Action: action, Result: res.(domain.Envelope)}, nil
	}
}

// bulkDeviceControlAdapter implements "bulk_device_control": the same
// action fanned out over several uuids, consent-gated as one
// BulkDeviceControl operation once the batch reaches the configured
// bulk-consent threshold.
func bulkDeviceControlAdapter(deps AdapterDeps) ToolAdapter {
	return func(ctx context.Context, params map[string]any) (any, error) {
		action, _ := params["action"].(string)
		if !domain.ValidAction(action) {
			return nil, domain.NewError(domain.KindInvalidInput, "invalid device action: "+action)
		}
		rawUUIDs, _ := params["uuids"].([]any)
		uuids := make([]string, 0, len(rawUUIDs))
		for _, v := range rawUUIDs {
			s, _ := v.(string)
			if !domain.ValidUUID(s) {
				return nil, domain.NewError(domain.KindInvalidInput, "invalid device uuid: "+s)
			}
			uuids = append(uuids, s)
		}
		if len(uuids) == 0 {
			return nil, domain.NewError(domain.KindInvalidInput, "uuids must be non-empty")
		}
		if deps.Consent != nil && deps.Consent.BulkRequiresConsent(len(uuids)) {
			if err := gate(ctx, deps, consent.OpBulkDeviceControl, fmt.Sprintf("bulk:%d:%s", len(uuids), action)); err != nil {
				return nil, err
			}
		}
		results := make([]deviceControlResult, 0, len(uuids))
		for _, uuid := range uuids {
			res, err := deps.Exec(ctx, "device_control", func(ctx context.Context) (any, error) {
				return deps.Send.SendCommand(ctx, uuid, action)
			})
			if err != nil {
				errEnv, _ := domain.NewEnvelope(0, err.Error())
				results = append(results, deviceControlResult{UUID: uuid, Action: action, Result: errEnv})
				continue
			}
			results = append(results, deviceControlResult{UUID: uuid, Action: action, Result: res.(domain.Envelope)})
		}
		return results, nil
	}
}

// roomControlAdapter implements "room_control": apply action to every
// device in room_name matching an optional category filter.
func roomControlAdapter(deps AdapterDeps) ToolAdapter {
	return func(ctx context.Context, params map[string]any) (any, error) {
		roomName, _ := params["room_name"].(string)
		action, _ := params["action"].(string)
		category, _ := params["category"].(string)
		if roomName == "" {
			return nil, domain.NewError(domain.KindInvalidInput, "room_name is required")
		}
		if !domain.ValidAction(action) {
			return nil, domain.NewError(domain.KindInvalidInput, "invalid device action: "+action)
		}
		var targets []string
		for _, d := range deps.Context.Devices() {
			if d.Room != roomName {
				continue
			}
			if category != "" && string(d.Category) != category {
				continue
			}
			targets = append(targets, d.UUID)
		}
		if len(targets) == 0 {
			return []deviceControlResult{}, nil
		}
		if deps.Consent != nil && deps.Consent.BulkRequiresConsent(len(targets)) {
			if err := gate(ctx, deps, consent.OpBulkDeviceControl, fmt.Sprintf("room:%s:%s", roomName, action)); err != nil {
				return nil, err
			}
		}
		results := make([]deviceControlResult, 0, len(targets))
		for _, uuid := range targets {
			res, err := deps.Exec(ctx, "device_control", func(ctx context.Context) (any, error) {
				return deps.Send.SendCommand(ctx, uuid, action)
			})
			if err != nil {
				continue
			}
			results = append(results, deviceControlResult{UUID: uuid, Action: action, Result: res.(domain.Envelope)})
		}
		return results, nil
	}
}

// sensorReadAdapter implements "sensor_read": resolve a single uuid's
// current semantic value through the resolver.
func sensorReadAdapter(deps AdapterDeps) ToolAdapter {
	return func(ctx context.Context, params map[string]any) (any, error) {
		uuid, _ := params["uuid"].(string)
		if !domain.ValidUUID(uuid) {
			return nil, domain.NewError(domain.KindInvalidInput, "invalid device uuid: "+uuid)
		}
		if deps.Resolve == nil {
			return nil, domain.NewError(domain.KindServiceUnavailable, "resolver not configured")
		}
		return deps.Resolve(ctx, uuid)
	}
}

// listRoomsAdapter implements "list_rooms": a read-only, never-gated
// structural listing.
func listRoomsAdapter(deps AdapterDeps) ToolAdapter {
	return func(ctx context.Context, params map[string]any) (any, error) {
		rooms := deps.Context.Rooms()
		names := make([]string, 0, len(rooms))
		for _, r := range rooms {
			names = append(names, r.Name)
		}
		sort.Strings(names)
		return names, nil
	}
}

// goodnightSceneAdapter is a small scripted demo workflow: a fixed,
// non-generalized script that turns off every lighting device and
// closes every blind, gated as a single BulkDeviceControl operation.
// Deliberately not a generalized workflow engine.
func goodnightSceneAdapter(deps AdapterDeps) ToolAdapter {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var lights, blinds []string
		for _, d := range deps.Context.Devices() {
			switch d.Category {
			case domain.CategoryLights:
				lights = append(lights, d.UUID)
			case domain.CategoryBlinds:
				blinds = append(blinds, d.UUID)
			}
		}
		total := len(lights) + len(blinds)
		if total == 0 {
			return map[string]any{"devices_affected": 0}, nil
		}
		if deps.Consent != nil && deps.Consent.BulkRequiresConsent(total) {
			if err := gate(ctx, deps, consent.OpBulkDeviceControl, "scene:goodnight"); err != nil {
				return nil, err
			}
		}
		affected := 0
		for _, uuid := range lights {
			if _, err := deps.Exec(ctx, "device_control", func(ctx context.Context) (any, error) {
				return deps.Send.SendCommand(ctx, uuid, "off")
			}); err == nil {
				affected++
			}
		}
		for _, uuid := range blinds {
			if _, err := deps.Exec(ctx, "device_control", func(ctx context.Context) (any, error) {
				return deps.Send.SendCommand(ctx, uuid, "fulldown")
			}); err == nil {
				affected++
			}
		}
		return map[string]any{"devices_affected": affected}, nil
	}
}

func gate(ctx context.Context, deps AdapterDeps, op consent.OperationType, key string) error {
	if deps.Consent == nil {
		return nil
	}
	decision, err := deps.Consent.RequestConsent(ctx, consent.Operation{Type: op, Key: key, Source: deps.ClientID})
	if err != nil {
		return err
	}
	switch decision {
	case consent.DecisionApproved, consent.DecisionAutoApproved:
		return nil
	default:
		return domain.NewError(domain.KindConsentDenied, fmt.Sprintf("consent %s for %s", decision, key))
	}
}
