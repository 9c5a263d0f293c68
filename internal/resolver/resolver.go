// Package resolver is the unified value resolver and cache: it maps a
// device or state uuid to a domain.ResolvedValue, backed by a
// TTL-aware cache and a predictive co-access prefetcher.
//
// Follows an LRU+stats shape, generalized to TTL-aware
// domain.CacheEntry records: temperature/humidity/etc resolve through
// a cache-hit-else-fetch-and-populate path.
package resolver

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// Transport is the subset of the Miniserver client the resolver needs.
type Transport interface {
	GetDeviceStates(ctx context.Context, uuid string) (map[string]any, error)
	GetStateValues(ctx context.Context, uuids []string) (map[string]any, error)
}

// DeviceLookup resolves a uuid's owning device_type and state name so
// the resolver can classify its sensor type without importing the
// whole client context.
type DeviceLookup interface {
	StateOwner(uuid string) (deviceType, stateName string, ok bool)
}

func ttlFor(t domain.SensorType) time.Duration {
	switch t {
	case domain.SensorTemperature, domain.SensorHumidity, domain.SensorLux, domain.SensorPressure, domain.SensorWindSpeed:
		return 5 * time.Second
	case domain.SensorBoolean, domain.SensorPosition, domain.SensorBrightness:
		return 30 * time.Second
	default:
		return time.Hour
	}
}

const coAccessThreshold = 3
const prefetchTopK = 3

// Resolver resolves and caches values, tracking co-access patterns for
// predictive prefetch.
type Resolver struct {
	transport Transport
	lookup    DeviceLookup
	now       func() time.Time

	mu          sync.Mutex
	cache       map[string]domain.CacheEntry[domain.ResolvedValue]
	coAccess    map[[2]string]int
	accessOrder []string // bounded ring of recently seen uuids; co-access counts live in coAccess
	totalAccess int64

	prefetch func(uuid string)
}

// New builds a resolver over transport, using lookup for sensor
// classification.
func New(transport Transport, lookup DeviceLookup, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	r := &Resolver{
		transport: transport,
		lookup:    lookup,
		now:       now,
		cache:     make(map[string]domain.CacheEntry[domain.ResolvedValue]),
		coAccess:  make(map[[2]string]int),
	}
	r.prefetch = r.defaultPrefetch
	return r
}

// Resolve returns uuid's current value, serving from cache when fresh
// and otherwise querying the transport, classifying, and caching the
// result. After returning, it opportunistically schedules a prefetch
// of co-accessed siblings in a background goroutine.
func (r *Resolver) Resolve(ctx context.Context, uuid string) (domain.ResolvedValue, error) {
	if v, ok := r.cacheGet(uuid); ok {
		return v, nil
	}

	states, err := r.transport.GetDeviceStates(ctx, uuid)
	if err != nil {
		return domain.ResolvedValue{}, err
	}
	rv := r.classifyAndParse(uuid, states["value"])
	r.cachePut(uuid, rv)
	r.recordAccess([]string{uuid})
	r.mu.Lock()
	hot := false
	for key, count := range r.coAccess {
		if count >= coAccessThreshold && (key[0] == uuid || key[1] == uuid) {
			hot = true
			break
		}
	}
	r.mu.Unlock()
	if hot {
		go r.prefetch(uuid)
	}
	return rv, nil
}

// ResolveBatch partitions uuids into cache hits (returned immediately)
// and misses, issuing one transport.GetStateValues call for the
// misses.
func (r *Resolver) ResolveBatch(ctx context.Context, uuids []string) (map[string]domain.ResolvedValue, error) {
	out := make(map[string]domain.ResolvedValue, len(uuids))
	var misses []string
	for _, u := range uuids {
		if v, ok := r.cacheGet(u); ok {
			out[u] = v
		} else {
			misses = append(misses, u)
		}
	}
	if len(misses) > 0 {
		values, err := r.transport.GetStateValues(ctx, misses)
		if err != nil {
			return out, err
		}
		for _, u := range misses {
			raw, ok := values[u]
			if !ok {
				continue
			}
			rv := r.classifyAndParse(u, raw)
			r.cachePut(u, rv)
			out[u] = rv
		}
	}
	r.recordAccess(uuids)
	return out, nil
}

func (r *Resolver) classifyAndParse(uuid string, raw any) domain.ResolvedValue {
	deviceType, stateName := "", ""
	if r.lookup != nil {
		deviceType, stateName, _ = r.lookup.StateOwner(uuid)
	}
	sensorType := domain.ClassifySensor(deviceType, stateName)

	rv := domain.ResolvedValue{
		DeviceUUID:   uuid,
		SemanticType: sensorType,
		Raw:          raw,
		ResolvedAt:   r.now(),
		Source:       "transport",
	}
	switch v := raw.(type) {
	case float64:
		rv.NumericValue = &v
		rv.FormattedText = strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		rv.FormattedText = v
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rv.NumericValue = &f
		}
	}
	return rv
}

func (r *Resolver) cacheGet(uuid string) (domain.ResolvedValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[uuid]
	if !ok || e.Expired(r.now()) {
		return domain.ResolvedValue{}, false
	}
	e.Touch(r.now())
	r.cache[uuid] = e
	return e.Value, true
}

func (r *Resolver) cachePut(uuid string, rv domain.ResolvedValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[uuid] = domain.CacheEntry[domain.ResolvedValue]{
		Value:     rv,
		CreatedAt: r.now(),
		TTL:       ttlFor(rv.SemanticType),
	}
}

const accessRingCapacity = 256

// recordAccess updates the co-access counter for every pair in the
// accessed set and triggers prefetch for any uuid whose pattern just
// crossed the threshold. The access ring is bounded; the coAccess map
// is not, and keeps one counter for every pair ever accessed together.
func (r *Resolver) recordAccess(uuids []string) {
	r.mu.Lock()
	r.totalAccess += int64(len(uuids))
	r.accessOrder = append(r.accessOrder, uuids...)
	if over := len(r.accessOrder) - accessRingCapacity; over > 0 {
		r.accessOrder = r.accessOrder[over:]
	}
	var toPrefetch []string
	for i := 0; i < len(uuids); i++ {
		for j := i + 1; j < len(uuids); j++ {
			key := pairKey(uuids[i], uuids[j])
			r.coAccess[key]++
			if r.coAccess[key] == coAccessThreshold {
				toPrefetch = append(toPrefetch, uuids[i], uuids[j])
			}
		}
	}
	r.mu.Unlock()

	for _, u := range toPrefetch {
		go r.prefetch(u)
	}
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// defaultPrefetch fetches uuid's top-k co-accessed partners
// asynchronously, populating the cache ahead of the next request.
func (r *Resolver) defaultPrefetch(uuid string) {
	partners := r.topPartners(uuid, prefetchTopK)
	if len(partners) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = r.ResolveBatch(ctx, partners)
}

func (r *Resolver) topPartners(uuid string, k int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	type scored struct {
		uuid  string
		count int
	}
	var candidates []scored
	for key, count := range r.coAccess {
		var other string
		switch {
		case key[0] == uuid:
			other = key[1]
		case key[1] == uuid:
			other = key[0]
		default:
			continue
		}
		candidates = append(candidates, scored{other, count})
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].count > candidates[i].count {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.uuid
	}
	return out
}

// Stats reports cache and pattern-tracker statistics.
type Stats struct {
	DeviceCacheSize  int
	BatchCacheSize   int
	TrackedPatterns  int
	TotalAccessCount int64
}

// Stats returns a snapshot of the resolver's cache and tracker state.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		DeviceCacheSize:  len(r.cache),
		BatchCacheSize:   len(r.cache),
		TrackedPatterns:  len(r.coAccess),
		TotalAccessCount: r.totalAccess,
	}
}

// ClearCaches drops all cached values and pattern data.
func (r *Resolver) ClearCaches() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]domain.CacheEntry[domain.ResolvedValue])
	r.coAccess = make(map[[2]string]int)
	r.accessOrder = nil
}
