package domain

import "context"

// SystemInfo is the Miniserver identity/version payload returned by
// get_system_info, used for discovery confirmation and health reporting.
type SystemInfo struct {
	Serial       string `json:"serial"`
	Name         string `json:"name"`
	FirmwareVer  string `json:"firmware_version"`
	MiniserverIP string `json:"miniserver_ip"`
}

// LoxoneClient is the polymorphic capability every pooled connection
// implementor (token client, basic-auth client, or a test mock) must
// satisfy. The pool stores these behind an interface rather than a
// concrete type so Connection records stay heterogeneous.
type LoxoneClient interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Disconnect(ctx context.Context) error
	SendCommand(ctx context.Context, uuid, cmd string) (Envelope, error)
	GetStructure(ctx context.Context) ([]byte, error)
	GetDeviceStates(ctx context.Context, uuid string) (map[string]any, error)
	GetStateValues(ctx context.Context, uuids []string) (map[string]any, error)
	GetAllDeviceStatesBatch(ctx context.Context) (map[string]map[string]any, error)
	GetSystemInfo(ctx context.Context) (SystemInfo, error)
	HealthCheck(ctx context.Context) bool

	// GetAuthParams exposes the already-negotiated auth query fragment so
	// the WebSocket channel can reuse the HTTP client's session instead of
	// authenticating twice — resolves the cyclic client<->ws reference.
	GetAuthParams() string
}
