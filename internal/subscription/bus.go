package subscription

import "sync"

// EventKind closes the set of messages that flow over the broadcast
// bus between the Detector and the Dispatcher.
type EventKind string

const (
	EventResourceChanged    EventKind = "ResourceChanged"
	EventClientSubscribed   EventKind = "ClientSubscribed"
	EventClientUnsubscribed EventKind = "ClientUnsubscribed"
	EventClientDisconnected EventKind = "ClientDisconnected"
	EventSystemShutdown     EventKind = "SystemShutdown"
)

// Event is one message on the broadcast bus.
type Event struct {
	Kind             EventKind
	Change           ChangeNotice
	ClientID         string
	DisconnectReason string
}

// ChangeNotice carries the payload of a ResourceChanged event.
type ChangeNotice struct {
	URI          string
	ChangeType   string
	PreviousData any
	NewData      any
}

// Bus is a bounded multi-producer/multi-consumer broadcast channel: one
// Publish fans an Event out to every registered Subscribe() channel. A
// slow consumer does not block the publisher — its event is dropped and
// counted in Publish's return value. The consumer that missed the event
// is not told, so the dispatcher neither sees nor logs the lag.
//
// Follows golang.org/x/sync's composable concurrency primitives and a
// policy-gated notification delivery shape; true broadcast fan-out is
// original within that idiom.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	cap    int
}

// NewBus builds a Bus whose per-subscriber channel buffers cap events.
func NewBus(cap int) *Bus {
	if cap <= 0 {
		cap = 64
	}
	return &Bus{subs: make(map[int]chan Event), cap: cap}
}

// Subscribe registers a new consumer, returning its channel and an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.cap)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish fans ev out to every subscriber. A full subscriber channel is
// skipped rather than blocked on; Lagged reports how many subscribers
// missed this event.
func (b *Bus) Publish(ev Event) (lagged int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			lagged++
		}
	}
	return lagged
}

// Close shuts down every subscriber channel; used on SystemShutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
