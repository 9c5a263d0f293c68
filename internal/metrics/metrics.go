// Package metrics exposes the gateway's Prometheus metrics as a single
// Registry object constructed once at startup (daemon.New) and held by
// reference on the daemon's Gateway — never package-level promauto vars.
// Namespaced counters/gauges/histograms per subsystem, built as an
// explicit struct rather than lazy-static globals so tests can construct
// independent registries instead of sharing process-global state. No
// subsystem is handed the Registry, and no code in the gateway updates
// its metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric this gateway exports, namespaced
// "loxone", one field per subsystem (transport, pool, resolver,
// subscription, consent, discovery, resilience).
type Registry struct {
	reg *prometheus.Registry

	TransportRequests   *prometheus.CounterVec
	TransportLatency    *prometheus.HistogramVec
	TransportErrors     *prometheus.CounterVec

	PoolActiveConns   prometheus.Gauge
	PoolCreatedConns  prometheus.Counter
	PoolFailedAcquire prometheus.Counter

	BreakerState      *prometheus.GaugeVec
	BreakerTrips      *prometheus.CounterVec

	ResolverCacheHits   prometheus.Counter
	ResolverCacheMisses prometheus.Counter
	ResolverLatency     prometheus.Histogram

	SubscriptionActive       prometheus.Gauge
	SubscriptionNotifications *prometheus.CounterVec
	SubscriptionLagged       prometheus.Counter

	ConsentPending  prometheus.Gauge
	ConsentDecided  *prometheus.CounterVec

	DiscoveryDevicesFound *prometheus.CounterVec
	DiscoveryCacheSize    prometheus.Gauge

	HealthCheckStatus *prometheus.GaugeVec
}

// NewRegistry builds a fresh, independent Prometheus registry (not
// prometheus.DefaultRegisterer) holding every metric below, ready to be
// mounted on an HTTP handler by the caller.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		TransportRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "transport", Name: "requests_total",
			Help: "Total Miniserver HTTP requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		TransportLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loxone", Subsystem: "transport", Name: "request_duration_seconds",
			Help: "Miniserver HTTP request duration.", Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "transport", Name: "errors_total",
			Help: "Total Miniserver transport errors by kind.",
		}, []string{"kind"}),
		PoolActiveConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loxone", Subsystem: "pool", Name: "active_connections",
			Help: "Currently active pooled connections.",
		}),
		PoolCreatedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "pool", Name: "connections_created_total",
			Help: "Total connections created by the pool.",
		}),
		PoolFailedAcquire: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "pool", Name: "acquire_failures_total",
			Help: "Total connection acquisition failures (pool exhausted).",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loxone", Subsystem: "breaker", Name: "state",
			Help: "Circuit breaker state (0=Closed, 1=Open, 2=HalfOpen).",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "breaker", Name: "trips_total",
			Help: "Total circuit breaker trips.",
		}, []string{"name"}),
		ResolverCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "resolver", Name: "cache_hits_total",
			Help: "Total value resolver cache hits.",
		}),
		ResolverCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "resolver", Name: "cache_misses_total",
			Help: "Total value resolver cache misses.",
		}),
		ResolverLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loxone", Subsystem: "resolver", Name: "resolve_duration_seconds",
			Help: "Value resolution duration.", Buckets: prometheus.DefBuckets,
		}),
		SubscriptionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loxone", Subsystem: "subscription", Name: "active_subscriptions",
			Help: "Currently active subscriptions.",
		}),
		SubscriptionNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "subscription", Name: "notifications_total",
			Help: "Total notifications delivered by transport and outcome.",
		}, []string{"transport", "outcome"}),
		SubscriptionLagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "subscription", Name: "lagged_total",
			Help: "Total times the broadcast bus reported a lagging consumer.",
		}),
		ConsentPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loxone", Subsystem: "consent", Name: "pending_requests",
			Help: "Currently pending consent requests.",
		}),
		ConsentDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "consent", Name: "decisions_total",
			Help: "Total consent decisions by outcome.",
		}, []string{"outcome"}),
		DiscoveryDevicesFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loxone", Subsystem: "discovery", Name: "devices_found_total",
			Help: "Total Miniservers found by discovery method.",
		}, []string{"method"}),
		DiscoveryCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loxone", Subsystem: "discovery", Name: "cache_size",
			Help: "Current discovery cache entry count.",
		}),
		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loxone", Subsystem: "health", Name: "check_status",
			Help: "Health check result per component (1=healthy, 0=unhealthy).",
		}, []string{"check"}),
	}

	reg.MustRegister(
		r.TransportRequests, r.TransportLatency, r.TransportErrors,
		r.PoolActiveConns, r.PoolCreatedConns, r.PoolFailedAcquire,
		r.BreakerState, r.BreakerTrips,
		r.ResolverCacheHits, r.ResolverCacheMisses, r.ResolverLatency,
		r.SubscriptionActive, r.SubscriptionNotifications, r.SubscriptionLagged,
		r.ConsentPending, r.ConsentDecided,
		r.DiscoveryDevicesFound, r.DiscoveryCacheSize,
		r.HealthCheckStatus,
	)
	return r
}

// Gatherer exposes the underlying registry for mounting on
// promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
