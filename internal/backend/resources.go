package backend

import (
	"context"
	"strings"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// StructureSource is the read surface of domain.ClientContext the
// bridge needs to render resources.
type StructureSource interface {
	Devices() map[string]domain.Device
	Rooms() map[string]domain.Room
	Capabilities() domain.Capabilities
	Connected() bool
	RefreshedAt() time.Time
}

// StateSource is the read surface of internal/state.Manager.
type StateSource interface {
	GetDeviceState(uuid string) (domain.ResolvedValue, bool)
	GetAllDeviceStates() map[string]domain.ResolvedValue
	GetDeviceHistory(uuid string, limit int) []domain.ChangeRecord
}

// ResponseCache is the read/write surface of internal/respcache.Cache.
type ResponseCache interface {
	Get(key string) (any, bool)
	Put(key string, value any, ttl time.Duration, sizeHint int64)
}

// deviceRecord pairs structural metadata with its resolved value for
// resource JSON bodies.
type deviceRecord struct {
	Device domain.Device        `json:"device"`
	State  *domain.ResolvedValue `json:"state,omitempty"`
}

func (b *Bridge) deviceRecord(d domain.Device) deviceRecord {
	rec := deviceRecord{Device: d}
	if rv, ok := b.state.GetDeviceState(d.UUID); ok {
		rec.State = &rv
	}
	return rec
}

// ReadResource implements read_resource: cache probe, then exact
// dispatch, then template dispatch.
func (b *Bridge) ReadResource(ctx context.Context, uri string) (any, error) {
	if isCacheable(uri) {
		if v, ok := b.cache.Get(uri); ok {
			return v, nil
		}
	}

	value, err := b.dispatch(ctx, uri)
	if err != nil {
		return nil, err
	}

	if isCacheable(uri) {
		b.cache.Put(uri, value, ttlFor(uri), 1)
	}
	return value, nil
}

func (b *Bridge) dispatch(ctx context.Context, uri string) (any, error) {
	switch uri {
	case "loxone://system/info":
		return b.systemInfo(ctx)
	case "loxone://structure/rooms":
		return b.structure.Rooms(), nil
	case "loxone://config/devices":
		return b.structure.Devices(), nil
	case "loxone://status/health":
		return b.healthSnapshot(ctx), nil
	case "loxone://system/capabilities":
		return b.structure.Capabilities(), nil
	case "loxone://system/categories":
		return allCategories(), nil
	case "loxone://rooms":
		return b.structure.Rooms(), nil
	case "loxone://devices/all":
		return b.allDeviceRecords(), nil
	case "loxone://devices/category/lighting":
		return b.devicesByCategory(domain.CategoryLights), nil
	case "loxone://devices/category/blinds":
		return b.devicesByCategory(domain.CategoryBlinds), nil
	case "loxone://devices/category/climate":
		return b.climateDevices(), nil
	case "loxone://audio/zones", "loxone://audio/sources":
		return b.devicesByCategory(domain.CategoryAudio), nil
	case "loxone://sensors/temperature":
		return b.sensorsByType(domain.SensorTemperature), nil
	case "loxone://sensors/door-window":
		return b.devicesMatchingName("door", "window", "contact"), nil
	case "loxone://sensors/motion":
		return b.devicesMatchingName("motion", "presence", "pir"), nil
	case "loxone://weather/current":
		return b.weatherCurrent(), nil
	case "loxone://energy/consumption":
		return b.devicesByCategory(domain.CategoryEnergy), nil
	}

	for _, tmpl := range resourceTemplates {
		params, ok := MatchTemplate(tmpl.URITemplate, uri)
		if !ok {
			continue
		}
		return b.dispatchTemplate(ctx, tmpl.URITemplate, params)
	}

	return nil, domain.NewError(domain.KindNotFound, "not supported: "+uri)
}

func (b *Bridge) dispatchTemplate(ctx context.Context, tmpl string, params map[string]string) (any, error) {
	switch tmpl {
	case "loxone://rooms/{room_name}/devices":
		return b.devicesInRoom(params["room_name"], ""), nil
	case "loxone://rooms/{room_name}/lights":
		return b.devicesInRoom(params["room_name"], domain.CategoryLights), nil
	case "loxone://rooms/{room_name}/blinds":
		return b.devicesInRoom(params["room_name"], domain.CategoryBlinds), nil
	case "loxone://rooms/{room_name}/climate":
		return b.devicesInRoom(params["room_name"], domain.CategoryClimate), nil
	case "loxone://rooms/{room_name}/status":
		return b.roomStatus(params["room_name"]), nil
	case "loxone://devices/{device_id}/state":
		return b.deviceState(params["device_id"])
	case "loxone://devices/{device_id}/history":
		return b.state.GetDeviceHistory(params["device_id"], 100), nil
	case "loxone://devices/category/{category}":
		return b.devicesByCategory(domain.Category(params["category"])), nil
	case "loxone://devices/type/{device_type}":
		return b.devicesByType(params["device_type"]), nil
	case "loxone://sensors/{sensor_type}":
		return b.sensorsByType(domain.SensorType(params["sensor_type"])), nil
	case "loxone://sensors/{sensor_type}/rooms/{room_name}":
		return b.sensorsInRoom(domain.SensorType(params["sensor_type"]), params["room_name"]), nil
	case "loxone://system/rooms/{room_name}":
		return b.roomByName(params["room_name"])
	case "loxone://monitoring/{metric_type}":
		return b.monitoring(params["metric_type"]), nil
	case "loxone://history/{date}/summary":
		return b.historySummary(params["date"]), nil
	case "loxone://audio/zones/{name}", "loxone://audio/rooms/{name}":
		return b.devicesMatchingName(params["name"]), nil
	case "loxone://security/zones/{zone_name}":
		return b.devicesMatchingName(params["zone_name"]), nil
	case "loxone://access/doors/{door_id}":
		return b.deviceState(params["door_id"])
	case "loxone://energy/rooms/{room_name}":
		return b.devicesInRoom(params["room_name"], domain.CategoryEnergy), nil
	case "loxone://weather/locations/{location}":
		return b.devicesMatchingName(params["location"]), nil
	}
	return nil, domain.NewError(domain.KindNotFound, "not supported template: "+tmpl)
}

func allCategories() []domain.Category {
	return []domain.Category{
		domain.CategoryLights, domain.CategoryBlinds, domain.CategoryClimate,
		domain.CategorySensors, domain.CategoryAudio, domain.CategorySecurity,
		domain.CategoryEnergy, domain.CategoryWeather, domain.CategoryOther,
	}
}

func (b *Bridge) allDeviceRecords() []deviceRecord {
	devices := b.structure.Devices()
	out := make([]deviceRecord, 0, len(devices))
	for _, d := range devices {
		out = append(out, b.deviceRecord(d))
	}
	return out
}

func (b *Bridge) devicesByCategory(cat domain.Category) []deviceRecord {
	var out []deviceRecord
	for _, d := range b.structure.Devices() {
		if d.Category == cat {
			out = append(out, b.deviceRecord(d))
		}
	}
	return out
}

func (b *Bridge) devicesByType(deviceType string) []deviceRecord {
	var out []deviceRecord
	for _, d := range b.structure.Devices() {
		if strings.EqualFold(d.DeviceType, deviceType) {
			out = append(out, b.deviceRecord(d))
		}
	}
	return out
}

// climateDevices implements the special devices/category/climate rule:
// category climate, or type/name keywords temperature/climate/
// thermostat/RoomController.
func (b *Bridge) climateDevices() []deviceRecord {
	var out []deviceRecord
	for _, d := range b.structure.Devices() {
		if d.Category == domain.CategoryClimate || containsAnyFold(d.DeviceType+" "+d.Name,
			"temperature", "climate", "thermostat", "roomcontroller") {
			out = append(out, b.deviceRecord(d))
		}
	}
	return out
}

func (b *Bridge) devicesMatchingName(keywords ...string) []deviceRecord {
	var out []deviceRecord
	for _, d := range b.structure.Devices() {
		if containsAnyFold(d.Name+" "+d.Room, keywords...) {
			out = append(out, b.deviceRecord(d))
		}
	}
	return out
}

func (b *Bridge) devicesInRoom(roomName string, cat domain.Category) []deviceRecord {
	var out []deviceRecord
	for _, d := range b.structure.Devices() {
		if !strings.EqualFold(d.Room, roomName) {
			continue
		}
		if cat != "" && d.Category != cat {
			continue
		}
		out = append(out, b.deviceRecord(d))
	}
	return out
}

func (b *Bridge) roomByName(name string) (domain.Room, error) {
	for _, r := range b.structure.Rooms() {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return domain.Room{}, domain.NewError(domain.KindNotFound, "unknown room: "+name)
}

func (b *Bridge) roomStatus(roomName string) map[string]any {
	devices := b.devicesInRoom(roomName, "")
	return map[string]any{"room": roomName, "device_count": len(devices), "devices": devices}
}

func (b *Bridge) deviceState(uuid string) (domain.ResolvedValue, error) {
	rv, ok := b.state.GetDeviceState(uuid)
	if !ok {
		return domain.ResolvedValue{}, domain.NewError(domain.KindNotFound, "unknown device: "+uuid)
	}
	return rv, nil
}

// sensorsByType filters devices whose classified sensor type matches,
// using their "value" state name as the classification input.
func (b *Bridge) sensorsByType(st domain.SensorType) []deviceRecord {
	var out []deviceRecord
	for _, d := range b.structure.Devices() {
		if domain.ClassifySensor(d.DeviceType, "value") == st {
			out = append(out, b.deviceRecord(d))
		}
	}
	return out
}

func (b *Bridge) sensorsInRoom(st domain.SensorType, roomName string) []deviceRecord {
	var out []deviceRecord
	for _, rec := range b.sensorsByType(st) {
		if strings.EqualFold(rec.Device.Room, roomName) {
			out = append(out, rec)
		}
	}
	return out
}

// weatherCurrent implements the fallback rule: weather-category
// devices, or outdoor temperature sensors whose name/room contains
// terrasse/outdoor/außen.
func (b *Bridge) weatherCurrent() []deviceRecord {
	weather := b.devicesByCategory(domain.CategoryWeather)
	if len(weather) > 0 {
		return weather
	}
	var out []deviceRecord
	for _, rec := range b.devicesMatchingName("terrasse", "outdoor", "außen") {
		if domain.ClassifySensor(rec.Device.DeviceType, rec.Device.Name) == domain.SensorTemperature {
			out = append(out, rec)
		}
	}
	return out
}

func (b *Bridge) monitoring(metricType string) map[string]any {
	return map[string]any{"metric_type": metricType, "connected": b.structure.Connected()}
}

func (b *Bridge) historySummary(date string) map[string]any {
	return map[string]any{"date": date, "changes": []domain.ChangeRecord{}}
}

func (b *Bridge) healthSnapshot(ctx context.Context) map[string]any {
	return map[string]any{
		"connected":    b.structure.Connected(),
		"refreshed_at": b.structure.RefreshedAt(),
		"healthy":      b.healthCheck(ctx),
	}
}

func containsAnyFold(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
