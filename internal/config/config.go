// Package config loads and assembles the gateway's configuration:
// BurntSushi/toml, a per-subsystem nested struct, a sensible-defaults
// constructor. Rather than calling os.Getenv
// directly from deep inside discovery setup, a Builder assembles the
// whole Config from an explicit environment snapshot (a plain
// map[string]string) so tests can construct isolated environments
// instead of mutating the real process environment, avoiding flaky
// integration tests under parallel environment mutation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/loxone-mcp-gateway/internal/pool"
)

// MiniserverConfig addresses and authenticates to the Miniserver.
type MiniserverConfig struct {
	URL             string        `toml:"url"`
	Username        string        `toml:"username"`
	Password        string        `toml:"password"`
	Timeout         time.Duration `toml:"timeout"`
	RefreshInterval time.Duration `toml:"refresh_interval"`
	MaxRetries      int           `toml:"max_retries"`
}

// ServerConfig controls the gateway's own listening surface.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	Transport  string `toml:"transport"` // "stdio" | "http_sse" | "websocket"
}

// PoolConfig mirrors internal/pool.Config for TOML/env assembly.
type PoolConfig struct {
	MaxConnections      int64         `toml:"max_connections"`
	MinConnections      int           `toml:"min_connections"`
	IdleTimeout         time.Duration `toml:"idle_timeout"`
	HealthCheckInterval time.Duration `toml:"health_check_interval"`
	Strategy            string        `toml:"strategy"`
}

// ToPoolConfig converts the TOML-shaped config into pool.Config.
func (p PoolConfig) ToPoolConfig() pool.Config {
	return pool.Config{
		MaxConnections:      p.MaxConnections,
		MinConnections:      p.MinConnections,
		IdleTimeout:         p.IdleTimeout,
		HealthCheckInterval: p.HealthCheckInterval,
		Strategy:            pool.Strategy(p.Strategy),
	}
}

// DiscoveryConfig controls Miniserver network discovery.
//
// Populated from the DISCOVERY_* environment variables:
// DISCOVERY_UDP_PORTS (JSON array), DISCOVERY_BROADCAST_ADDRESS,
// DISCOVERY_DNS_SERVER, DISCOVERY_DNS_PORT.
type DiscoveryConfig struct {
	UDPPorts         []int         `toml:"udp_ports"`
	BroadcastAddress string        `toml:"broadcast_address"`
	DNSServer        string        `toml:"dns_server"`
	DNSPort          int           `toml:"dns_port"`
	MinScanInterval  time.Duration `toml:"min_scan_interval"`
	CacheCapacity    int           `toml:"cache_capacity"`
	PersistPath      string        `toml:"persist_path"`
}

// ConsentConfig toggles the consent flow.
type ConsentConfig struct {
	Enabled            bool          `toml:"enabled"`
	CacheDuration      time.Duration `toml:"cache_duration"`
	MaxPendingRequests int           `toml:"max_pending_requests"`
	DefaultTimeout     time.Duration `toml:"default_timeout"`
	BulkThreshold      int           `toml:"bulk_threshold"`
}

// RateLimitConfig tunes the per-identifier request limiter.
type RateLimitConfig struct {
	MaxRequests    int           `toml:"max_requests"`
	WindowDuration time.Duration `toml:"window_duration"`
	BurstSize      int           `toml:"burst_size"`
}

// LoggingConfig controls the zap logger (internal/obslog).
type LoggingConfig struct {
	Level string `toml:"level"` // debug|info|warn|error
	JSON  bool   `toml:"json"`
}

// Config is the gateway's complete, assembled configuration.
type Config struct {
	Miniserver MiniserverConfig `toml:"miniserver"`
	Server     ServerConfig     `toml:"server"`
	Pool       PoolConfig       `toml:"pool"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Consent    ConsentConfig    `toml:"consent"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Logging    LoggingConfig    `toml:"logging"`
}

// Default returns the gateway's built-in defaults.
func Default() Config {
	return Config{
		Miniserver: MiniserverConfig{
			Timeout:         30 * time.Second,
			RefreshInterval: time.Hour,
			MaxRetries:      3,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8383",
			Transport:  "stdio",
		},
		Pool: PoolConfig{
			MaxConnections:      10,
			MinConnections:      1,
			IdleTimeout:         5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
			Strategy:            "round_robin",
		},
		Discovery: DiscoveryConfig{
			UDPPorts:         []int{7777, 7700, 80, 8080},
			BroadcastAddress: "255.255.255.255",
			DNSPort:          5353,
			MinScanInterval:  5 * time.Minute,
			CacheCapacity:    256,
		},
		Consent: ConsentConfig{
			Enabled:            true,
			CacheDuration:      5 * time.Minute,
			MaxPendingRequests: 50,
			DefaultTimeout:     5 * time.Minute,
			BulkThreshold:      5,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:    120,
			WindowDuration: time.Minute,
			BurstSize:      20,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// Builder assembles a Config from explicit sources rather than reading
// the live process environment, so callers (including tests) can
// compose isolated configurations without mutating shared global state.
type Builder struct {
	cfg Config
}

// NewBuilder starts from the built-in defaults.
func NewBuilder() *Builder {
	return &Builder{cfg: Default()}
}

// FromFile merges a TOML file's contents over the builder's current
// config. A missing file is not an error — the builder's existing
// values are kept as-is.
func (b *Builder) FromFile(path string) (*Builder, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return b, nil
	}
	if _, err := toml.DecodeFile(path, &b.cfg); err != nil {
		return b, fmt.Errorf("parse config %s: %w", path, err)
	}
	return b, nil
}

// FromEnviron overlays the DISCOVERY_* variables (and any future
// environment-sourced overrides) from an explicit environment
// snapshot — a plain map, not os.Environ() — so a test can pass
// {"DISCOVERY_DNS_PORT": "5454"} without touching the real process
// environment other concurrently running tests also read.
func (b *Builder) FromEnviron(env map[string]string) *Builder {
	if v, ok := env["DISCOVERY_UDP_PORTS"]; ok && v != "" {
		var ports []int
		if err := json.Unmarshal([]byte(v), &ports); err == nil {
			b.cfg.Discovery.UDPPorts = ports
		}
	}
	if v, ok := env["DISCOVERY_BROADCAST_ADDRESS"]; ok && v != "" {
		b.cfg.Discovery.BroadcastAddress = v
	}
	if v, ok := env["DISCOVERY_DNS_SERVER"]; ok && v != "" {
		b.cfg.Discovery.DNSServer = v
	}
	if v, ok := env["DISCOVERY_DNS_PORT"]; ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			b.cfg.Discovery.DNSPort = port
		}
	}
	return b
}

// WithMiniserver sets the required Miniserver connection fields — the
// one piece of config that has no sane default.
func (b *Builder) WithMiniserver(url, username, password string) *Builder {
	b.cfg.Miniserver.URL = url
	b.cfg.Miniserver.Username = username
	b.cfg.Miniserver.Password = password
	return b
}

// Build validates and returns the assembled Config.
func (b *Builder) Build() (Config, error) {
	if b.cfg.Miniserver.URL == "" {
		return Config{}, fmt.Errorf("config: miniserver url is required")
	}
	if b.cfg.Miniserver.Username == "" {
		return Config{}, fmt.Errorf("config: miniserver username is required")
	}
	return b.cfg, nil
}

// GatewayHome returns the gateway's local data directory, honoring
// LOXONE_GATEWAY_HOME if set in env, else ~/.loxone-mcp-gateway.
func GatewayHome(env map[string]string) string {
	if v, ok := env["LOXONE_GATEWAY_HOME"]; ok && v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".loxone-mcp-gateway")
}
