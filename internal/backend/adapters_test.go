package backend

import (
	"context"
	"testing"

	"github.com/tutu-network/loxone-mcp-gateway/internal/consent"
	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

func newTestAdapterDeps(t *testing.T, structure StructureSource, sender CommandSender, consentCfg consent.Config) AdapterDeps {
	t.Helper()
	return AdapterDeps{
		Context:  structure,
		Send:     sender,
		Exec:     directExecutor,
		Consent:  newTestConsentManager(t, consentCfg),
		ClientID: "client-a",
	}
}

func TestDeviceControlAdapter_RejectsInvalidInput(t *testing.T) {
	b, structure, _, _, _ := newTestBridge()
	sender := &fakeSender{}
	cfg := consent.DefaultConfig()
	cfg.Enabled = false
	RegisterDefaultTools(b, newTestAdapterDeps(t, structure, sender, cfg))

	if _, err := b.CallTool(context.Background(), "device_control", map[string]any{"uuid": "not-a-uuid", "action": "on"}); err == nil {
		t.Error("expected error for invalid uuid")
	}
	if _, err := b.CallTool(context.Background(), "device_control", map[string]any{"uuid": "0504508d-00cc-0a32-8000-403fb0c34b9e", "action": "blorp"}); err == nil {
		t.Error("expected error for invalid action")
	}
	if len(sender.calls) != 0 {
		t.Errorf("expected no commands sent, got %v", sender.calls)
	}
}

func TestDeviceControlAdapter_SendsCommandOnValidInput(t *testing.T) {
	b, structure, _, _, _ := newTestBridge()
	sender := &fakeSender{}
	cfg := consent.DefaultConfig()
	cfg.Enabled = false
	RegisterDefaultTools(b, newTestAdapterDeps(t, structure, sender, cfg))

	uuid := "0504508d-00cc-0a32-8000-403fb0c34b9e"
	result, err := b.CallTool(context.Background(), "device_control", map[string]any{"uuid": uuid, "action": "on"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.calls) != 1 || sender.calls[0] != uuid+":on" {
		t.Errorf("expected one call %s:on, got %v", uuid, sender.calls)
	}
	res, ok := result.(deviceControlResult)
	if !ok || res.UUID != uuid || res.Action != "on" {
		t.Errorf("unexpected result shape: %#v", result)
	}
}

func TestDeviceControlAdapter_DeniedByConsent(t *testing.T) {
	b, structure, _, _, _ := newTestBridge()
	sender := &fakeSender{}
	uuid := "0504508d-00cc-0a32-8000-403fb0c34b9e"

	cfg := consent.DefaultConfig()
	cfg.Enabled = true
	cfg.RequiredFor[consent.SensitivityLow] = true
	cfg.AutoDeny = map[string]bool{uuid + ":on": true}
	RegisterDefaultTools(b, newTestAdapterDeps(t, structure, sender, cfg))

	if _, err := b.CallTool(context.Background(), "device_control", map[string]any{"uuid": uuid, "action": "on"}); err == nil {
		t.Error("expected consent denial error")
	}
	if len(sender.calls) != 0 {
		t.Errorf("expected no command sent once consent was denied, got %v", sender.calls)
	}
}

func TestBulkDeviceControlAdapter_RejectsEmptyAndInvalidUUIDs(t *testing.T) {
	b, structure, _, _, _ := newTestBridge()
	sender := &fakeSender{}
	cfg := consent.DefaultConfig()
	cfg.Enabled = false
	RegisterDefaultTools(b, newTestAdapterDeps(t, structure, sender, cfg))

	if _, err := b.CallTool(context.Background(), "bulk_device_control", map[string]any{"action": "on", "uuids": []any{}}); err == nil {
		t.Error("expected error for empty uuids")
	}
	if _, err := b.CallTool(context.Background(), "bulk_device_control", map[string]any{"action": "on", "uuids": []any{"nope"}}); err == nil {
		t.Error("expected error for invalid uuid in batch")
	}
}

func TestBulkDeviceControlAdapter_SendsOneCommandPerUUID(t *testing.T) {
	b, structure, _, _, _ := newTestBridge()
	sender := &fakeSender{}
	cfg := consent.DefaultConfig()
	cfg.Enabled = false
	RegisterDefaultTools(b, newTestAdapterDeps(t, structure, sender, cfg))

	uuids := []any{"0504508d-00cc-0a32-8000-403fb0c34b9e", "1504508d-00cc-0a32-8001-403fb0c34b9e"}
	result, err := b.CallTool(context.Background(), "bulk_device_control", map[string]any{"action": "off", "uuids": uuids})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.calls) != 2 {
		t.Errorf("expected 2 commands sent, got %v", sender.calls)
	}
	results, ok := result.([]deviceControlResult)
	if !ok || len(results) != 2 {
		t.Errorf("unexpected result shape: %#v", result)
	}
}

func TestListRoomsAdapter_ReturnsSortedNames(t *testing.T) {
	b, structure, _, _, _ := newTestBridge()
	sender := &fakeSender{}
	cfg := consent.DefaultConfig()
	cfg.Enabled = false
	RegisterDefaultTools(b, newTestAdapterDeps(t, structure, sender, cfg))

	result, err := b.CallTool(context.Background(), "list_rooms", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names, ok := result.([]string)
	if !ok || len(names) != len(structure.rooms) {
		t.Fatalf("unexpected result: %#v", result)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("expected sorted room names, got %v", names)
		}
	}
}

func TestGoodnightSceneAdapter_TurnsOffLightsAndClosesBlinds(t *testing.T) {
	structure := &fakeStructure{
		devices: map[string]domain.Device{
			"light1": {UUID: "light1", Category: domain.CategoryLights},
			"blind1": {UUID: "blind1", Category: domain.CategoryBlinds},
			"sensor1": {UUID: "sensor1", Category: domain.CategoryOther},
		},
		rooms: map[string]domain.Room{},
		caps:  domain.Capabilities{},
		conn:  true,
	}
	b := New(Deps{Structure: structure})
	sender := &fakeSender{}
	cfg := consent.DefaultConfig()
	cfg.Enabled = false
	RegisterDefaultTools(b, newTestAdapterDeps(t, structure, sender, cfg))

	result, err := b.CallTool(context.Background(), "goodnight_scene", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	summary, ok := result.(map[string]any)
	if !ok || summary["devices_affected"] != 2 {
		t.Errorf("expected 2 devices affected, got %#v", result)
	}
	wantCalls := map[string]bool{"light1:off": true, "blind1:fulldown": true}
	if len(sender.calls) != 2 || !wantCalls[sender.calls[0]] || !wantCalls[sender.calls[1]] {
		t.Errorf("unexpected calls: %v", sender.calls)
	}
}

func TestSensorReadAdapter_ErrorsWithoutResolver(t *testing.T) {
	b, structure, _, _, _ := newTestBridge()
	sender := &fakeSender{}
	cfg := consent.DefaultConfig()
	cfg.Enabled = false
	deps := newTestAdapterDeps(t, structure, sender, cfg)
	RegisterDefaultTools(b, deps)

	if _, err := b.CallTool(context.Background(), "sensor_read", map[string]any{"uuid": "0504508d-00cc-0a32-8000-403fb0c34b9e"}); err == nil {
		t.Error("expected error when no resolver is configured")
	}
}

type fakeDiscoverer struct {
	found []domain.DiscoveredDevice
	err   error
}

func (f *fakeDiscoverer) Scan(ctx context.Context) ([]domain.DiscoveredDevice, error) {
	return f.found, f.err
}

func TestDiscoverMiniserversAdapter_OmittedWithoutDiscoverer(t *testing.T) {
	b, structure, _, _, _ := newTestBridge()
	cfg := consent.DefaultConfig()
	cfg.Enabled = false
	RegisterDefaultTools(b, newTestAdapterDeps(t, structure, &fakeSender{}, cfg))

	for _, name := range b.ListTools() {
		if name == "discover_miniservers" {
			t.Fatal("expected discover_miniservers to be omitted when no Discoverer is configured")
		}
	}
}

func TestDiscoverMiniserversAdapter_ReturnsScanResults(t *testing.T) {
	b, structure, _, _, _ := newTestBridge()
	cfg := consent.DefaultConfig()
	cfg.Enabled = false
	deps := newTestAdapterDeps(t, structure, &fakeSender{}, cfg)
	deps.Discovery = &fakeDiscoverer{found: []domain.DiscoveredDevice{{IP: "10.0.0.5", Name: "miniserver-1"}}}
	RegisterDefaultTools(b, deps)

	result, err := b.CallTool(context.Background(), "discover_miniservers", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found, ok := result.([]domain.DiscoveredDevice)
	if !ok || len(found) != 1 || found[0].IP != "10.0.0.5" {
		t.Errorf("unexpected result: %#v", result)
	}
}
