package subscription

import (
	"context"
	"sync"
	"time"
)

// Source supplies the detector with the current value for a watched
// URI, letting it poll without depending on the resolver or state
// manager package directly.
type Source interface {
	CurrentValues() map[string]SourceValue
}

// SourceValue is what the detector compares against its last-published
// record for one URI.
type SourceValue struct {
	ChangeType string
	Value      any
}

// Detector compares current values to the last values it published and
// emits ResourceChanged events for anything that differs, both on a
// periodic poll and on direct pushes (e.g. from the WebSocket channel).
type Detector struct {
	bus  *Bus
	mu   sync.Mutex
	last map[string]SourceValue
}

// NewDetector builds a Detector publishing onto bus.
func NewDetector(bus *Bus) *Detector {
	return &Detector{bus: bus, last: make(map[string]SourceValue)}
}

// Observe compares uri's newValue against the last published value and,
// if different, publishes a ResourceChanged event. Used for
// WebSocket-pushed deltas, which arrive outside the poll loop.
func (d *Detector) Observe(uri, changeType string, newValue any) {
	d.mu.Lock()
	prev, had := d.last[uri]
	changed := !had || prev.Value != newValue
	var prevValue any
	if had {
		prevValue = prev.Value
	}
	if changed {
		d.last[uri] = SourceValue{ChangeType: changeType, Value: newValue}
	}
	d.mu.Unlock()

	if !changed {
		return
	}
	d.bus.Publish(Event{
		Kind: EventResourceChanged,
		Change: ChangeNotice{
			URI:          uri,
			ChangeType:   changeType,
			PreviousData: prevValue,
			NewData:      newValue,
		},
	})
}

// Poll runs Observe against every URI source.CurrentValues() reports,
// once per interval, until ctx is cancelled.
func (d *Detector) Poll(ctx context.Context, source Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for uri, sv := range source.CurrentValues() {
				d.Observe(uri, sv.ChangeType, sv.Value)
			}
		}
	}
}
