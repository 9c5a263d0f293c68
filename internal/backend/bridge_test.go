package backend

import (
	"context"
	"strings"
	"testing"

	"github.com/tutu-network/loxone-mcp-gateway/internal/config"
	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

func TestInitialize_RejectsMissingURL(t *testing.T) {
	b, _, _, _, _ := newTestBridge()
	err := b.Initialize(context.Background(), config.MiniserverConfig{Username: "admin"}, nil)
	if err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestInitialize_PreloadTolerated(t *testing.T) {
	b, _, _, _, _ := newTestBridge()
	called := false
	err := b.Initialize(context.Background(), config.MiniserverConfig{URL: "http://x", Username: "admin"},
		func(ctx context.Context) error { called = true; return domain.NewError(domain.KindConnection, "boom") })
	if err != nil {
		t.Fatalf("preload failure should be tolerated, got %v", err)
	}
	if !called {
		t.Error("preload should have been invoked since health check passed")
	}
}

func TestListResources_ReturnsFixedCatalog(t *testing.T) {
	b, _, _, _, _ := newTestBridge()
	resources := b.ListResources()
	if len(resources) == 0 {
		t.Fatal("expected a non-empty literal resource catalog")
	}
	found := false
	for _, r := range resources {
		if r.URI == "loxone://devices/all" {
			found = true
		}
	}
	if !found {
		t.Error("expected loxone://devices/all in the catalog")
	}
}

func TestSubscribe_RejectsUnknownURI(t *testing.T) {
	b, _, _, _, _ := newTestBridge()
	if _, err := b.Subscribe("client-a", "loxone://not/a/real/uri", domain.SubscriptionFilter{}); err == nil {
		t.Error("expected error for unknown uri")
	}
}

func TestSubscribe_AcceptsLiteralURI(t *testing.T) {
	b, _, _, _, subs := newTestBridge()
	if _, err := b.Subscribe("client-a", "loxone://devices/all", domain.SubscriptionFilter{}); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	if len(subs.added) != 1 {
		t.Errorf("expected one delegated AddSubscription call, got %d", len(subs.added))
	}
}

func TestSubscribe_AcceptsTemplateMatch(t *testing.T) {
	b, _, _, _, _ := newTestBridge()
	if _, err := b.Subscribe("client-a", "loxone://rooms/Kitchen/devices", domain.SubscriptionFilter{}); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
}

func TestComplete_RoomNamePrefixFilter(t *testing.T) {
	b, _, _, _, _ := newTestBridge()
	got := b.Complete(CompleteRoomName, "Liv")
	if len(got) != 1 || got[0] != "Living Room" {
		t.Errorf("Complete(room_name, Liv) = %v, want [Living Room]", got)
	}
}

func TestComplete_ActionVocabularyIsFixed(t *testing.T) {
	b, _, _, _, _ := newTestBridge()
	got := b.Complete(CompleteAction, "f")
	if len(got) != 2 {
		t.Errorf("Complete(action, f) = %v, want [fullup fulldown]", got)
	}
}

func TestListPrompts_IncludesLiveDeviceCount(t *testing.T) {
	b, _, _, _, _ := newTestBridge()
	prompts := b.ListPrompts()
	if len(prompts) == 0 {
		t.Fatal("expected a non-empty prompt catalog")
	}
	if !strings.Contains(prompts[0].Description, "(3 devices known)") {
		t.Errorf("description %q does not carry the live device count", prompts[0].Description)
	}
}

func TestGetPrompt_UnknownNameErrors(t *testing.T) {
	b, _, _, _, _ := newTestBridge()
	if _, err := b.GetPrompt("no-such-prompt", nil); err == nil {
		t.Error("expected error for unknown prompt name")
	}
}
