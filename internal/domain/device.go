package domain

import (
	"sync/atomic"
	"time"
)

// Device is a single Miniserver control: a light, blind, climate zone,
// sensor, or similar. Devices are owned by the Client Context's device map
// and are created once when structure loads. Live values are kept
// apart, as ResolvedValue records in the state manager (internal/state),
// which does not modify Device records.
type Device struct {
	UUID       string            `json:"uuid"`
	Name       string            `json:"name"`
	DeviceType string            `json:"device_type"`
	Category   Category          `json:"category"`
	Room       string            `json:"room,omitempty"`
	// States maps a state name (e.g. "value", "active") to either a
	// literal value or the UUID of another state that carries it.
	States map[string]string `json:"states"`
}

// Room groups devices by physical location.
type Room struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Capabilities counts devices per category, recomputed on every structure
// load.
type Capabilities map[Category]int

// ClientContext is the process-wide aggregate mirroring the Miniserver's
// structure: the device map, room map, capability counts, and connection
// state. Invariant: all four fields are always mutually consistent —
// readers only ever observe the result of one completed UpdateStructure
// call (see Testable Property 1, "structure atomicity").
//
// Grounded on internal/infra/engine.Pool's single-mutex-guarded-map idiom,
// generalized to a read-mostly snapshot swap instead of per-field locking,
// since readers vastly outnumber the rare structure-reload writer.
type ClientContext struct {
	snapshot atomic.Pointer[contextSnapshot]
}

type contextSnapshot struct {
	devices      map[string]Device
	rooms        map[string]Room
	capabilities Capabilities
	connected    bool
	refreshedAt  time.Time
	stateOwners  map[string]stateOwner
}

// stateOwner records which device and state-name a state uuid belongs
// to, so the resolver can classify its semantic type without scanning
// every device on each access.
type stateOwner struct {
	deviceType string
	stateName  string
}

// NewClientContext returns an empty, disconnected context.
func NewClientContext() *ClientContext {
	c := &ClientContext{}
	snap := emptySnapshot()
	c.snapshot.Store(&snap)
	return c
}

func (c *ClientContext) load() contextSnapshot {
	return *c.snapshot.Load()
}

func (c *ClientContext) swap(next contextSnapshot) {
	c.snapshot.Store(&next)
}

func emptySnapshot() contextSnapshot {
	return contextSnapshot{
		devices:      map[string]Device{},
		rooms:        map[string]Room{},
		capabilities: Capabilities{},
	}
}

// UpdateStructure is the only operation that may mutate the device/room
// maps. It atomically replaces the published snapshot so concurrent
// readers always observe a consistent (devices, rooms, capabilities)
// triple drawn from exactly one snapshot.
func (c *ClientContext) UpdateStructure(devices map[string]Device, rooms map[string]Room) {
	caps := Capabilities{}
	owners := make(map[string]stateOwner, len(devices))
	for _, d := range devices {
		if ValidCategory(d.Category) {
			caps[d.Category]++
		}
		for stateName, target := range d.States {
			owners[target] = stateOwner{deviceType: d.DeviceType, stateName: stateName}
		}
	}
	next := contextSnapshot{
		devices:      devices,
		rooms:        rooms,
		capabilities: caps,
		connected:    true,
		refreshedAt:  time.Now(),
		stateOwners:  owners,
	}
	c.swap(next)
}

// StateOwner resolves a state uuid back to the device_type and state
// name that reference it, letting the resolver (internal/resolver)
// classify a sensor's semantic type without holding its own copy of
// the structure. Satisfies resolver.DeviceLookup.
func (c *ClientContext) StateOwner(uuid string) (deviceType, stateName string, ok bool) {
	snap := c.load()
	owner, ok := snap.stateOwners[uuid]
	if !ok {
		return "", "", false
	}
	return owner.deviceType, owner.stateName, true
}

// SetConnected flips the connected flag without touching the structure,
// used by the transport/pool layers to report liveness.
func (c *ClientContext) SetConnected(connected bool) {
	cur := c.load()
	cur.connected = connected
	c.swap(cur)
}

// Device returns the device by uuid, or false if unknown in the current
// snapshot.
func (c *ClientContext) Device(uuid string) (Device, bool) {
	snap := c.load()
	d, ok := snap.devices[uuid]
	return d, ok
}

// Room returns the room by uuid, or false if unknown.
func (c *ClientContext) Room(uuid string) (Room, bool) {
	snap := c.load()
	r, ok := snap.rooms[uuid]
	return r, ok
}

// Devices returns a copy of the current device map.
func (c *ClientContext) Devices() map[string]Device {
	snap := c.load()
	out := make(map[string]Device, len(snap.devices))
	for k, v := range snap.devices {
		out[k] = v
	}
	return out
}

// Rooms returns a copy of the current room map.
func (c *ClientContext) Rooms() map[string]Room {
	snap := c.load()
	out := make(map[string]Room, len(snap.rooms))
	for k, v := range snap.rooms {
		out[k] = v
	}
	return out
}

// Capabilities returns a copy of the current per-category device counts.
func (c *ClientContext) Capabilities() Capabilities {
	snap := c.load()
	out := make(Capabilities, len(snap.capabilities))
	for k, v := range snap.capabilities {
		out[k] = v
	}
	return out
}

// Connected reports the last-known connection state.
func (c *ClientContext) Connected() bool {
	return c.load().connected
}

// RefreshedAt returns the timestamp of the last successful structure load.
func (c *ClientContext) RefreshedAt() time.Time {
	return c.load().refreshedAt
}
