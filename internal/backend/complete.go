package backend

import (
	"strings"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// deviceActions and controlScopes are the closed vocabularies
// completions offer for action-shaped arguments.
var deviceActions = []string{"on", "off", "toggle", "pulse", "up", "down", "stop", "fullup", "fulldown"}
var controlScopes = []string{"device", "room", "category"}
var sensorTypes = []string{
	string(domain.SensorTemperature), string(domain.SensorHumidity), string(domain.SensorBrightness),
	string(domain.SensorPosition), string(domain.SensorBoolean), string(domain.SensorLux),
	string(domain.SensorPressure), string(domain.SensorWindSpeed),
}

// CompletionKind selects which live-context vocabulary Complete draws
// from.
type CompletionKind string

const (
	CompleteRoomName        CompletionKind = "room_name"
	CompleteRoomByCategory  CompletionKind = "room_with_category"
	CompleteDeviceName      CompletionKind = "device_name"
	CompleteDeviceID        CompletionKind = "device_id"
	CompleteCategory        CompletionKind = "category"
	CompleteAction          CompletionKind = "action"
	CompleteSensorType      CompletionKind = "sensor_type"
	CompleteControlScope    CompletionKind = "control_scope"
	CompleteResourceURI     CompletionKind = "resource_uri"
)

// Complete returns context-sensitive completions for kind, filtered to
// entries that start with partial (case-insensitive).
func (b *Bridge) Complete(kind CompletionKind, partial string) []string {
	var candidates []string
	switch kind {
	case CompleteRoomName:
		for _, r := range b.structure.Rooms() {
			candidates = append(candidates, r.Name)
		}
	case CompleteRoomByCategory:
		seen := map[string]bool{}
		for _, d := range b.structure.Devices() {
			if d.Room != "" && !seen[d.Room] {
				seen[d.Room] = true
				candidates = append(candidates, d.Room)
			}
		}
	case CompleteDeviceName:
		for _, d := range b.structure.Devices() {
			candidates = append(candidates, d.Name)
		}
	case CompleteDeviceID:
		for uuid := range b.structure.Devices() {
			candidates = append(candidates, uuid)
		}
	case CompleteCategory:
		for _, c := range allCategories() {
			candidates = append(candidates, string(c))
		}
	case CompleteAction:
		candidates = deviceActions
	case CompleteSensorType:
		candidates = sensorTypes
	case CompleteControlScope:
		candidates = controlScopes
	case CompleteResourceURI:
		for _, r := range literalResources {
			candidates = append(candidates, r.URI)
		}
	}

	return filterPrefix(candidates, partial)
}

func filterPrefix(candidates []string, partial string) []string {
	if partial == "" {
		return candidates
	}
	lower := strings.ToLower(partial)
	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), lower) {
			out = append(out, c)
		}
	}
	return out
}
