package state

import (
	"testing"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
	"github.com/tutu-network/loxone-mcp-gateway/internal/subscription"
)

type staticLookup map[string]domain.Device

func (s staticLookup) Device(uuid string) (domain.Device, bool) {
	d, ok := s[uuid]
	return d, ok
}

func floatPtr(f float64) *float64 { return &f }

func TestManagerUpdateRecordsChangeAndSuppressesNoop(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lookup := staticLookup{"d1": domain.Device{UUID: "d1", Room: "Kitchen", DeviceType: "Switch"}}
	bus := subscription.NewBus(4)
	events, unsub := bus.Subscribe()
	defer unsub()

	m := New(lookup, bus, 5, func() time.Time { return now })

	m.Update(domain.ResolvedValue{DeviceUUID: "d1", NumericValue: floatPtr(1)})
	select {
	case ev := <-events:
		if ev.Change.URI != "loxone://devices/d1" {
			t.Fatalf("unexpected event uri: %s", ev.Change.URI)
		}
	default:
		t.Fatalf("expected a ResourceChanged event on first update")
	}

	// Same value again — should not re-emit or grow history.
	m.Update(domain.ResolvedValue{DeviceUUID: "d1", NumericValue: floatPtr(1)})
	select {
	case ev := <-events:
		t.Fatalf("expected no event for unchanged value, got %+v", ev)
	default:
	}

	hist := m.GetDeviceHistory("d1", 0)
	if len(hist) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(hist))
	}

	stats := m.GetChangeStatistics()
	if stats.TotalChanges != 1 || stats.ChangesByRoom["Kitchen"] != 1 || stats.ChangesByType["Switch"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestManagerHistoryBounded(t *testing.T) {
	m := New(nil, nil, 3, func() time.Time { return time.Now() })
	for i := 0; i < 10; i++ {
		m.Update(domain.ResolvedValue{DeviceUUID: "d1", NumericValue: floatPtr(float64(i)), Raw: float64(i)})
	}
	hist := m.GetDeviceHistory("d1", 0)
	if len(hist) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(hist))
	}
	// Newest first.
	if hist[0].NewValue.(float64) != 9 {
		t.Fatalf("expected newest record first, got %+v", hist[0])
	}
}

func TestGetAllDeviceStates(t *testing.T) {
	m := New(nil, nil, 5, nil)
	m.Update(domain.ResolvedValue{DeviceUUID: "a", FormattedText: "on"})
	m.Update(domain.ResolvedValue{DeviceUUID: "b", FormattedText: "off"})
	all := m.GetAllDeviceStates()
	if len(all) != 2 {
		t.Fatalf("expected 2 tracked devices, got %d", len(all))
	}
}
