package discovery

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// Config configures a Discoverer run.
type Config struct {
	SubnetPrefix    string // e.g. "192.168.1"
	BroadcastWait   time.Duration
	MDNSWait        time.Duration
	HTTPTimeout     time.Duration
	MinScanInterval time.Duration
	CachePath       string
}

func (c Config) withDefaults() Config {
	if c.BroadcastWait == 0 {
		c.BroadcastWait = 2 * time.Second
	}
	if c.MDNSWait == 0 {
		c.MDNSWait = 2 * time.Second
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 500 * time.Millisecond
	}
	if c.MinScanInterval == 0 {
		c.MinScanInterval = 5 * time.Minute
	}
	return c
}

// Discoverer runs the three discovery techniques in sequence and
// caches the results, dedup-by-IP.
type Discoverer struct {
	cfg   Config
	cache *Cache
	log   *zap.Logger
}

// New builds a Discoverer backed by cache.
func New(cfg Config, cache *Cache, log *zap.Logger) *Discoverer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Discoverer{cfg: cfg.withDefaults(), cache: cache, log: log}
}

// Scan runs mDNS, then UDP broadcast, then an HTTP sweep, merging
// results into the cache deduplicated by IP, first-technique-wins.
func (d *Discoverer) Scan(ctx context.Context) ([]domain.DiscoveredDevice, error) {
	seenIPs := map[string]bool{}
	var all []domain.DiscoveredDevice

	if found, err := MDNS(ctx, d.cfg.MDNSWait); err != nil {
		d.log.Warn("mdns discovery failed", zap.Error(err))
	} else {
		all = append(all, dedup(found, seenIPs)...)
	}

	if found, err := UDPBroadcast(ctx, d.cfg.BroadcastWait); err != nil {
		d.log.Warn("udp broadcast discovery failed", zap.Error(err))
	} else {
		all = append(all, dedup(found, seenIPs)...)
	}

	if d.cfg.SubnetPrefix != "" {
		client := &http.Client{Timeout: d.cfg.HTTPTimeout}
		found, err := HTTPScan(ctx, d.cfg.SubnetPrefix, client, d.cfg.HTTPTimeout)
		if err != nil {
			d.log.Warn("http scan discovery failed", zap.Error(err))
		} else {
			all = append(all, dedup(found, seenIPs)...)
		}
	}

	for _, dev := range all {
		d.cache.Put(dev)
	}
	d.cache.MarkScanned()
	return all, nil
}

func dedup(in []domain.DiscoveredDevice, seen map[string]bool) []domain.DiscoveredDevice {
	out := make([]domain.DiscoveredDevice, 0, len(in))
	for _, d := range in {
		if seen[d.IP] {
			continue
		}
		seen[d.IP] = true
		out = append(out, d)
	}
	return out
}

// NeedsFullScan reports whether another scan is due.
func (d *Discoverer) NeedsFullScan() bool {
	return d.cache.NeedsFullScan(d.cfg.MinScanInterval)
}
