package backend

import (
	"context"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

type fakeStructure struct {
	devices map[string]domain.Device
	rooms   map[string]domain.Room
	caps    domain.Capabilities
	conn    bool
}

func (f *fakeStructure) Devices() map[string]domain.Device { return f.devices }

// Rooms returns a copy, mirroring domain.ClientContext.Rooms()'s
// snapshot-copy semantics so callers can't mutate the bridge's view
// through the returned map.
func (f *fakeStructure) Rooms() map[string]domain.Room {
	out := make(map[string]domain.Room, len(f.rooms))
	for k, v := range f.rooms {
		out[k] = v
	}
	return out
}
func (f *fakeStructure) Capabilities() domain.Capabilities  { return f.caps }
func (f *fakeStructure) Connected() bool                    { return f.conn }
func (f *fakeStructure) RefreshedAt() time.Time              { return time.Time{} }

type fakeState struct {
	values map[string]domain.ResolvedValue
}

func (f *fakeState) GetDeviceState(uuid string) (domain.ResolvedValue, bool) {
	v, ok := f.values[uuid]
	return v, ok
}
func (f *fakeState) GetAllDeviceStates() map[string]domain.ResolvedValue { return f.values }
func (f *fakeState) GetDeviceHistory(uuid string, limit int) []domain.ChangeRecord {
	return nil
}

type fakeCache struct {
	entries map[string]any
}

func newFakeCache() *fakeCache { return &fakeCache{entries: make(map[string]any)} }

func (f *fakeCache) Get(key string) (any, bool) {
	v, ok := f.entries[key]
	return v, ok
}
func (f *fakeCache) Put(key string, value any, ttl time.Duration, sizeHint int64) {
	f.entries[key] = value
}

type fakeSubs struct {
	added   []string
	removed []string
}

func (f *fakeSubs) AddSubscription(clientID, uri string, filter domain.SubscriptionFilter) domain.Subscription {
	f.added = append(f.added, clientID+"|"+uri)
	return domain.Subscription{ClientID: clientID, ResourceURI: uri}
}
func (f *fakeSubs) RemoveSubscription(clientID, uri string) {
	f.removed = append(f.removed, clientID+"|"+uri)
}
func (f *fakeSubs) RegisterClient(info domain.ClientInfo) {}

func newTestBridge() (*Bridge, *fakeStructure, *fakeState, *fakeCache, *fakeSubs) {
	structure := &fakeStructure{
		devices: map[string]domain.Device{
			"d1": {UUID: "d1", Name: "Living Room Light", DeviceType: "Switch", Category: domain.CategoryLights, Room: "Living Room"},
			"d2": {UUID: "d2", Name: "RoomController", DeviceType: "IRoomControllerV2", Category: domain.CategoryClimate, Room: "Office"},
			"d3": {UUID: "d3", Name: "Terrasse Temperature", DeviceType: "Sensor", Category: domain.CategoryOther, Room: "Outdoor"},
		},
		rooms: map[string]domain.Room{
			"r1": {UUID: "r1", Name: "Living Room"},
			"r2": {UUID: "r2", Name: "Office"},
		},
		caps: domain.Capabilities{domain.CategoryLights: 1, domain.CategoryClimate: 1},
		conn: true,
	}
	state := &fakeState{values: map[string]domain.ResolvedValue{}}
	cache := newFakeCache()
	subs := &fakeSubs{}

	b := New(Deps{
		Structure:   structure,
		State:       state,
		Cache:       cache,
		Subs:        subs,
		HealthCheck: func(ctx context.Context) bool { return true },
	})
	return b, structure, state, cache, subs
}
