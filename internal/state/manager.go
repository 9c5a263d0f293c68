package state

import (
	"sync"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
	"github.com/tutu-network/loxone-mcp-gateway/internal/subscription"
)

const defaultHistoryCapacity = 200

// DeviceLookup resolves a uuid's owning room and device type so change
// statistics can be broken down per room and per device type without
// the state manager importing the whole client context directly.
type DeviceLookup interface {
	Device(uuid string) (domain.Device, bool)
}

// Manager is the authoritative uuid → ResolvedValue mirror. Every
// update — whether from a WebSocket delta or an HTTP poll — flows
// through Update, which normalizes, diffs against the previous value,
// and on an actual change appends to that device's history ring and
// publishes a ResourceChanged event.
type Manager struct {
	lookup  DeviceLookup
	bus     *subscription.Bus
	now     func() time.Time
	historyCapacity int

	mu        sync.RWMutex
	current   map[string]domain.ResolvedValue
	histories map[string]*history
	stats     changeStats
}

// New builds a Manager publishing changes onto bus. A nil lookup is
// tolerated — per-room/per-device-type breakdowns are simply omitted.
func New(lookup DeviceLookup, bus *subscription.Bus, historyCapacity int, now func() time.Time) *Manager {
	if historyCapacity <= 0 {
		historyCapacity = defaultHistoryCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		lookup:          lookup,
		bus:             bus,
		now:             now,
		historyCapacity: historyCapacity,
		current:         make(map[string]domain.ResolvedValue),
		histories:       make(map[string]*history),
		stats:           newChangeStats(),
	}
}

// Update records rv as uuid's current value. If rv differs from the
// previously recorded value, the change is appended to history,
// folded into the running statistics, and published on the bus.
func (m *Manager) Update(rv domain.ResolvedValue) {
	uuid := rv.DeviceUUID
	now := m.now()

	m.mu.Lock()
	prev, had := m.current[uuid]
	changed := !had || !sameValue(prev, rv)
	if !changed {
		m.mu.Unlock()
		return
	}
	m.current[uuid] = rv

	h, ok := m.histories[uuid]
	if !ok {
		h = newHistory(m.historyCapacity)
		m.histories[uuid] = h
	}
	rec := domain.ChangeRecord{
		ResourceURI:   "loxone://devices/" + uuid,
		ChangeType:    domain.ChangeDeviceState,
		Timestamp:     now,
		SourceUUID:    uuid,
		NewValue:      rv.Raw,
	}
	if had {
		rec.PreviousValue = prev.Raw
	}
	h.append(rec)

	room, deviceType := m.classify(uuid)
	m.stats.record(now, room, deviceType)
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(subscription.Event{
			Kind: subscription.EventResourceChanged,
			Change: subscription.ChangeNotice{
				URI:          rec.ResourceURI,
				ChangeType:   string(rec.ChangeType),
				PreviousData: rec.PreviousValue,
				NewData:      rec.NewValue,
			},
		})
	}
}

func sameValue(a, b domain.ResolvedValue) bool {
	if a.NumericValue != nil && b.NumericValue != nil {
		return *a.NumericValue == *b.NumericValue
	}
	if a.NumericValue != nil || b.NumericValue != nil {
		return false
	}
	return a.FormattedText == b.FormattedText
}

func (m *Manager) classify(uuid string) (room, deviceType string) {
	if m.lookup == nil {
		return "", ""
	}
	d, ok := m.lookup.Device(uuid)
	if !ok {
		return "", ""
	}
	return d.Room, d.DeviceType
}

// GetDeviceState returns uuid's last recorded value.
func (m *Manager) GetDeviceState(uuid string) (domain.ResolvedValue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rv, ok := m.current[uuid]
	return rv, ok
}

// GetAllDeviceStates returns a copy of the full current-value map.
func (m *Manager) GetAllDeviceStates() map[string]domain.ResolvedValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ResolvedValue, len(m.current))
	for k, v := range m.current {
		out[k] = v
	}
	return out
}

// GetDeviceHistory returns up to limit of uuid's most recent change
// records, newest first. limit <= 0 returns the full ring.
func (m *Manager) GetDeviceHistory(uuid string, limit int) []domain.ChangeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.histories[uuid]
	if !ok {
		return nil
	}
	return h.recent(limit)
}

// GetChangeStatistics returns totals, per-room, per-device-type, and
// changes-per-hour derived from recorded history.
func (m *Manager) GetChangeStatistics() ChangeStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats.snapshot(m.now())
}
