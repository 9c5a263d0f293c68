package backend

import (
	"strings"
	"time"
)

// ResourceDescriptor is one entry in the fixed literal resource
// catalog returned by list_resources.
type ResourceDescriptor struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
}

// literalResources is the fixed top-level loxone:// catalog.
// system/info and status/health are never cached — every other entry
// is.
var literalResources = []ResourceDescriptor{
	{URI: "loxone://system/info", Name: "System Info", Description: "Miniserver identity and project metadata", MIMEType: "application/json"},
	{URI: "loxone://structure/rooms", Name: "Structure Rooms", Description: "Raw room structure document", MIMEType: "application/json"},
	{URI: "loxone://config/devices", Name: "Config Devices", Description: "Raw device structure document", MIMEType: "application/json"},
	{URI: "loxone://status/health", Name: "Status Health", Description: "Transport and pool health snapshot", MIMEType: "application/json"},
	{URI: "loxone://system/capabilities", Name: "System Capabilities", Description: "Per-category device counts", MIMEType: "application/json"},
	{URI: "loxone://system/categories", Name: "System Categories", Description: "The closed set of device categories", MIMEType: "application/json"},
	{URI: "loxone://rooms", Name: "Rooms", Description: "All rooms", MIMEType: "application/json"},
	{URI: "loxone://devices/all", Name: "All Devices", Description: "Every known device and its resolved state", MIMEType: "application/json"},
	{URI: "loxone://devices/category/lighting", Name: "Lighting Devices", Description: "Devices in the lighting category", MIMEType: "application/json"},
	{URI: "loxone://devices/category/blinds", Name: "Blind Devices", Description: "Devices in the blinds category", MIMEType: "application/json"},
	{URI: "loxone://devices/category/climate", Name: "Climate Devices", Description: "Devices in the climate category", MIMEType: "application/json"},
	{URI: "loxone://audio/zones", Name: "Audio Zones", Description: "Audio zone devices", MIMEType: "application/json"},
	{URI: "loxone://audio/sources", Name: "Audio Sources", Description: "Audio source devices", MIMEType: "application/json"},
	{URI: "loxone://sensors/temperature", Name: "Temperature Sensors", Description: "Devices classified as temperature sensors", MIMEType: "application/json"},
	{URI: "loxone://sensors/door-window", Name: "Door/Window Sensors", Description: "Devices classified as door/window contacts", MIMEType: "application/json"},
	{URI: "loxone://sensors/motion", Name: "Motion Sensors", Description: "Devices classified as motion sensors", MIMEType: "application/json"},
	{URI: "loxone://weather/current", Name: "Current Weather", Description: "Weather-device states, falling back to outdoor temperature sensors", MIMEType: "application/json"},
	{URI: "loxone://energy/consumption", Name: "Energy Consumption", Description: "Devices in the energy category", MIMEType: "application/json"},
}

// ResourceTemplateDescriptor is one entry in the fixed URI template
// table.
type ResourceTemplateDescriptor struct {
	URITemplate string
	Name        string
	Description string
	MIMEType    string
}

var resourceTemplates = []ResourceTemplateDescriptor{
	{URITemplate: "loxone://rooms/{room_name}/devices", Name: "Room Devices", Description: "Devices in a named room", MIMEType: "application/json"},
	{URITemplate: "loxone://rooms/{room_name}/lights", Name: "Room Lights", Description: "Lighting devices in a named room", MIMEType: "application/json"},
	{URITemplate: "loxone://rooms/{room_name}/blinds", Name: "Room Blinds", Description: "Blind devices in a named room", MIMEType: "application/json"},
	{URITemplate: "loxone://rooms/{room_name}/climate", Name: "Room Climate", Description: "Climate devices in a named room", MIMEType: "application/json"},
	{URITemplate: "loxone://rooms/{room_name}/status", Name: "Room Status", Description: "Aggregate status for a named room", MIMEType: "application/json"},
	{URITemplate: "loxone://devices/{device_id}/state", Name: "Device State", Description: "Resolved current state of one device", MIMEType: "application/json"},
	{URITemplate: "loxone://devices/{device_id}/history", Name: "Device History", Description: "Change history of one device", MIMEType: "application/json"},
	{URITemplate: "loxone://devices/category/{category}", Name: "Devices By Category", Description: "Devices in an arbitrary category", MIMEType: "application/json"},
	{URITemplate: "loxone://devices/type/{device_type}", Name: "Devices By Type", Description: "Devices of an arbitrary Miniserver type", MIMEType: "application/json"},
	{URITemplate: "loxone://sensors/{sensor_type}", Name: "Sensors By Type", Description: "Devices classified as a semantic sensor type", MIMEType: "application/json"},
	{URITemplate: "loxone://sensors/{sensor_type}/rooms/{room_name}", Name: "Sensors By Type And Room", Description: "Sensor type narrowed to a room", MIMEType: "application/json"},
	{URITemplate: "loxone://system/rooms/{room_name}", Name: "System Room", Description: "Single room record", MIMEType: "application/json"},
	{URITemplate: "loxone://monitoring/{metric_type}", Name: "Monitoring Metric", Description: "A resilience/pool/subscription metric snapshot", MIMEType: "application/json"},
	{URITemplate: "loxone://history/{date}/summary", Name: "History Summary", Description: "Change summary for a calendar date", MIMEType: "application/json"},
	{URITemplate: "loxone://audio/zones/{name}", Name: "Audio Zone", Description: "Single named audio zone", MIMEType: "application/json"},
	{URITemplate: "loxone://audio/rooms/{name}", Name: "Audio Room", Description: "Audio devices in a named room", MIMEType: "application/json"},
	{URITemplate: "loxone://security/zones/{zone_name}", Name: "Security Zone", Description: "Single named security zone", MIMEType: "application/json"},
	{URITemplate: "loxone://access/doors/{door_id}", Name: "Access Door", Description: "Single door/access-control device", MIMEType: "application/json"},
	{URITemplate: "loxone://energy/rooms/{room_name}", Name: "Room Energy", Description: "Energy devices in a named room", MIMEType: "application/json"},
	{URITemplate: "loxone://weather/locations/{location}", Name: "Weather Location", Description: "Weather state for a named location", MIMEType: "application/json"},
}

// uncacheable is the set of resources read_resource never caches —
// they must always reflect live transport/pool state.
var uncacheable = map[string]bool{
	"loxone://system/info":   true,
	"loxone://status/health": true,
}

// ttlFor returns the per-URI cache TTL: sensor/motion 5s, energy/
// weather 30s, devices/audio 5min, rooms/system 1h, default 60s.
func ttlFor(uri string) time.Duration {
	switch {
	case strings.Contains(uri, "sensors/"), strings.Contains(uri, "/motion"):
		return 5 * time.Second
	case strings.Contains(uri, "energy/"), strings.Contains(uri, "weather/"):
		return 30 * time.Second
	case strings.Contains(uri, "devices/"), strings.Contains(uri, "audio/"):
		return 5 * time.Minute
	case strings.Contains(uri, "rooms"), strings.Contains(uri, "system/"):
		return time.Hour
	default:
		return 60 * time.Second
	}
}

// isCacheable reports whether uri may ever be cached by read_resource.
func isCacheable(uri string) bool { return !uncacheable[uri] }
