// Package daemon wires every gateway subsystem into one long-running
// Gateway and manages its startup and shutdown sequence: a single
// struct holding every service, a New that constructs them in
// dependency order, background loops started from Run and cancelled
// through a shared context.
package daemon

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tutu-network/loxone-mcp-gateway/internal/backend"
	"github.com/tutu-network/loxone-mcp-gateway/internal/coalesce"
	"github.com/tutu-network/loxone-mcp-gateway/internal/config"
	"github.com/tutu-network/loxone-mcp-gateway/internal/consent"
	"github.com/tutu-network/loxone-mcp-gateway/internal/discovery"
	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
	loxoneclient "github.com/tutu-network/loxone-mcp-gateway/internal/loxone/client"
	"github.com/tutu-network/loxone-mcp-gateway/internal/loxone/structure"
	"github.com/tutu-network/loxone-mcp-gateway/internal/loxone/ws"
	"github.com/tutu-network/loxone-mcp-gateway/internal/metrics"
	"github.com/tutu-network/loxone-mcp-gateway/internal/obslog"
	"github.com/tutu-network/loxone-mcp-gateway/internal/pool"
	"github.com/tutu-network/loxone-mcp-gateway/internal/ratelimit"
	"github.com/tutu-network/loxone-mcp-gateway/internal/resilience"
	"github.com/tutu-network/loxone-mcp-gateway/internal/resolver"
	"github.com/tutu-network/loxone-mcp-gateway/internal/respcache"
	"github.com/tutu-network/loxone-mcp-gateway/internal/security"
	"github.com/tutu-network/loxone-mcp-gateway/internal/state"
	"github.com/tutu-network/loxone-mcp-gateway/internal/subscription"
)

// Gateway is the core gateway runtime. It wires together every
// subsystem plus the ambient stack (config, logging, metrics,
// security) and exposes Run/Close for the cli package to drive.
type Gateway struct {
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Registry

	Context   *domain.ClientContext
	Keypair   *security.Keypair
	Consent   *consent.Manager
	RateLimit *ratelimit.Limiter
	RespCache *respcache.Cache
	Coalescer *coalesce.Coalescer

	Resilience *resilience.Manager
	Pool       *pool.Pool
	WS         *ws.Channel

	Resolver *resolver.Resolver
	State    *state.Manager

	Bus         *subscription.Bus
	Detector    *subscription.Detector
	Coordinator *subscription.Coordinator
	Dispatcher  *subscription.Dispatcher

	Discovery *discovery.Discoverer

	Bridge *backend.Bridge
	MCP    *mcp.Server
	Sender *NotificationSender

	httpClient *http.Client
	cancel     context.CancelFunc
}

// New constructs a Gateway with every subsystem wired but not yet
// running — background loops only start in Run.
func New(cfg config.Config) (*Gateway, error) {
	log := obslog.New(cfg.Logging.Level, cfg.Logging.JSON)
	reg := metrics.NewRegistry()

	home := config.GatewayHome(nil)
	keypair, err := security.LoadOrCreateKeypair(home)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}

	clientCtx := domain.NewClientContext()
	now := time.Now

	consentCfg := consent.DefaultConfig()
	consentCfg.Enabled = cfg.Consent.Enabled
	consentCfg.CacheDuration = cfg.Consent.CacheDuration
	consentCfg.MaxPendingRequests = cfg.Consent.MaxPendingRequests
	consentCfg.DefaultTimeout = cfg.Consent.DefaultTimeout
	consentCfg.BulkThreshold = cfg.Consent.BulkThreshold
	consentMgr := consent.NewManager(consentCfg, keypair, now)

	rateLimitCfg := ratelimit.DefaultConfig()
	rateLimitCfg.MaxRequests = cfg.RateLimit.MaxRequests
	rateLimitCfg.WindowDuration = cfg.RateLimit.WindowDuration
	rateLimitCfg.BurstSize = cfg.RateLimit.BurstSize
	limiter := ratelimit.New(rateLimitCfg, now)

	respCache := respcache.New(respcache.Config{}, now)
	resilienceMgr := resilience.NewManager(now)
	registerResilienceServices(resilienceMgr)

	httpClient := &http.Client{Timeout: cfg.Miniserver.Timeout}

	factory := func(ctx context.Context, preferred *pool.AuthMethod) (domain.LoxoneClient, pool.AuthMethod, error) {
		c := loxoneclient.New(loxoneclient.Config{
			BaseURL:         cfg.Miniserver.URL,
			Username:        cfg.Miniserver.Username,
			Password:        cfg.Miniserver.Password,
			RefreshInterval: cfg.Miniserver.RefreshInterval,
			MaxRetries:      cfg.Miniserver.MaxRetries,
			RequestTimeout:  cfg.Miniserver.Timeout,
			ConsentCheck: func(ctx context.Context, uuid, cmd string) error {
				if !consentCfg.Enabled {
					return nil
				}
				decision, err := consentMgr.RequestConsent(ctx, consent.Operation{
					Type: consent.OpDeviceControl, Key: uuid + ":" + cmd, Source: "transport",
				})
				if err != nil {
					return err
				}
				if decision != consent.DecisionApproved && decision != consent.DecisionAutoApproved {
					return domain.NewError(domain.KindConsentDenied, "consent "+string(decision))
				}
				return nil
			},
		}, httpClient, obslog.Component(log, "loxone-client"))
		if err := c.Connect(ctx); err != nil {
			return nil, "", err
		}
		return c, pool.AuthMethodToken, nil
	}

	connPool := pool.New(cfg.Pool.ToPoolConfig(), factory, now)

	transport := &poolTransport{pool: connPool}
	valueResolver := resolver.New(transport, clientCtx, now)
	bus := subscription.NewBus(256)
	coordinator := subscription.New(now)
	detector := subscription.NewDetector(bus)
	stateMgr := state.New(clientCtx, bus, 200, now)

	discoveryCache := discovery.NewCache(cfg.Discovery.CacheCapacity, now)
	discoverer := discovery.New(discovery.Config{
		BroadcastWait:   2 * time.Second,
		MinScanInterval: cfg.Discovery.MinScanInterval,
		CachePath:       cfg.Discovery.PersistPath,
	}, discoveryCache, obslog.Component(log, "discovery"))

	coalescer := coalesce.New(coalesce.Config{}, coalesceExecutor(transport), now)

	bridgeDeps := backend.Deps{
		Structure: clientCtx,
		State:     stateMgr,
		Cache:     respCache,
		Subs:      backend.WrapCoordinator(coordinator),
		HealthCheck: func(ctx context.Context) bool {
			g, err := connPool.Acquire(ctx, "")
			if err != nil {
				return false
			}
			defer g.Release()
			return g.Client().HealthCheck(ctx)
		},
		SystemInfo: func(ctx context.Context) (any, error) {
			g, err := connPool.Acquire(ctx, "")
			if err != nil {
				return nil, err
			}
			defer g.Release()
			return g.Client().GetSystemInfo(ctx)
		},
		Now: now,
		DeviceStats: func() map[string]int {
			caps := clientCtx.Capabilities()
			out := make(map[string]int, len(caps))
			for k, v := range caps {
				out[string(k)] = v
			}
			return out
		},
	}
	bridge := backend.New(bridgeDeps)
	backend.RegisterDefaultTools(bridge, backend.AdapterDeps{
		Context:   clientCtx,
		Send:      transport,
		Resolve:   valueResolver.Resolve,
		Exec:      resilienceMgr.Execute,
		Consent:   consentMgr,
		Discovery: discoverer,
	})
	bridge.RegisterControlTools("default", backend.ControlToolDeps{
		Execute:   resilienceMgr.Execute,
		Sender:    transport,
		Consent:   consentMgr,
		RateLimit: limiter,
	})

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "loxone-mcp-gateway",
		Version: "0.1.0",
	}, nil)
	bridge.RegisterMCP(mcpServer)

	sender := NewNotificationSender(os.Stdout)
	dispatcher := subscription.NewDispatcher(bus, coordinator, sender, subscription.DispatcherConfig{}, now, obslog.Component(log, "dispatcher"))

	wsChannel := ws.New(cfg.Miniserver.URL, func() string {
		g, err := connPool.Acquire(context.Background(), "")
		if err != nil {
			return ""
		}
		defer g.Release()
		return g.Client().GetAuthParams()
	}, obslog.Component(log, "ws"), func(ctx context.Context) {
		g, err := connPool.Acquire(ctx, "")
		if err != nil {
			return
		}
		defer g.Release()
		if tc, ok := g.Client().(*loxoneclient.Client); ok {
			tc.DrainQueue(ctx)
		}
	})

	gw := &Gateway{
		Config:      cfg,
		Log:         log,
		Metrics:     reg,
		Context:     clientCtx,
		Keypair:     keypair,
		Consent:     consentMgr,
		RateLimit:   limiter,
		RespCache:   respCache,
		Coalescer:   coalescer,
		Resilience:  resilienceMgr,
		Pool:        connPool,
		WS:          wsChannel,
		Resolver:    valueResolver,
		State:       stateMgr,
		Bus:         bus,
		Detector:    detector,
		Coordinator: coordinator,
		Dispatcher:  dispatcher,
		Discovery:   discoverer,
		Bridge:      bridge,
		MCP:         mcpServer,
		Sender:      sender,
		httpClient:  httpClient,
	}
	return gw, nil
}

// registerResilienceServices registers the named services every
// outbound call site in this gateway executes through, in the
// resilience manager's per-service-name configuration registry.
func registerResilienceServices(m *resilience.Manager) {
	for _, svc := range []string{"device_control", "structure_fetch", "state_resolve", "discovery_scan"} {
		m.Register(svc, resilience.ServiceConfig{
			TimeoutEnabled:  true,
			TimeoutDuration: 30 * time.Second,
		})
	}
}

// LoadStructure fetches and parses /data/LoxAPP3.json and atomically
// publishes it into the Gateway's ClientContext. Called once at
// startup and again whenever the WebSocket channel signals a
// StructureChanged event.
func (g *Gateway) LoadStructure(ctx context.Context) error {
	conn, err := g.Pool.Acquire(ctx, "")
	if err != nil {
		return err
	}
	defer conn.Release()

	body, err := conn.Client().GetStructure(ctx)
	if err != nil {
		conn.RecordResult(false, 0)
		return err
	}
	doc, err := structure.Parse(ctx, bytes.NewReader(body), nil)
	if err != nil {
		return err
	}
	g.Context.UpdateStructure(doc.Devices, doc.Rooms)
	conn.RecordResult(true, 0)
	return nil
}

// Run starts every background loop (WebSocket pump, health monitor,
// idle reaper, change detector poll, dispatcher, cache cleanups) as a
// goroutine holding a shared context.Context, and blocks until ctx is
// cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	defer cancel()

	if err := g.LoadStructure(ctx); err != nil {
		g.Log.Warn("initial structure load failed, continuing with empty structure", zap.Error(err))
	}

	go g.Pool.HealthMonitor(ctx)
	go g.Pool.IdleCleanup(ctx)
	go g.WS.Run(ctx)
	go g.Dispatcher.Run(ctx)
	go g.pumpWSEvents(ctx)
	go g.pollCleanup(ctx)
	go g.pollDeviceStates(ctx)

	return g.ServeMCP(ctx)
}

// ServeMCP runs the MCP server on the configured transport (stdio,
// http_sse, or websocket). Grounded on null-runner-mcp-gateway's
// startStdioServer/startSseServer/startStreamingServer split — one
// mcp.Server instance, selected transport wraps it.
func (g *Gateway) ServeMCP(ctx context.Context) error {
	switch g.Config.Server.Transport {
	case "http_sse":
		mux := http.NewServeMux()
		mux.Handle("/sse", mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return g.MCP }, nil))
		srv := &http.Server{Addr: g.Config.Server.ListenAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case "websocket":
		// go-sdk's mcp package exposes a streamable-HTTP handler, not a
		// raw WebSocket one; the websocket transport kind is honored at
		// the subscription-delivery layer (internal/daemon.NotificationSender)
		// while the RPC surface itself rides the same streamable HTTP
		// endpoint as http_sse.
		mux := http.NewServeMux()
		mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return g.MCP }, nil))
		srv := &http.Server{Addr: g.Config.Server.ListenAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	default:
		return g.MCP.Run(ctx, &mcp.StdioTransport{})
	}
}

// Close shuts down the Gateway, cancelling every background loop and
// closing the subscription bus.
func (g *Gateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	g.Bus.Close()
	return nil
}

// pumpWSEvents translates WebSocket channel events into
// internal/state.Manager updates, bridging the WebSocket channel to
// the state manager.
func (g *Gateway) pumpWSEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-g.WS.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case ws.EventStateChanged:
				rv, err := g.Resolver.Resolve(ctx, ev.UUID)
				if err != nil {
					continue
				}
				g.State.Update(rv)
			case ws.EventStructureChanged:
				if err := g.LoadStructure(ctx); err != nil {
					g.Log.Warn("structure refresh failed", zap.Error(err))
				}
				g.Detector.Observe("loxone://structure/rooms", string(domain.ChangeStructure), g.Context.RefreshedAt())
			case ws.EventConnected:
				g.Context.SetConnected(true)
				g.Detector.Observe("loxone://status/health", string(domain.ChangeConnection), true)
			case ws.EventDisconnected:
				g.Context.SetConnected(false)
				g.Detector.Observe("loxone://status/health", string(domain.ChangeConnection), false)
			}
		case err, ok := <-g.WS.Errors():
			if !ok {
				return
			}
			g.Log.Warn("ws channel error", zap.Error(err))
		}
	}
}

// pollDeviceStates is the HTTP-poll update source the state manager
// mixes with WebSocket deltas (4.J): every tick it batch-resolves every
// known state uuid and folds the results through State.Update, which
// owns its own diff/history/publish logic, so a poll that repeats an
// unchanged value produces no duplicate notification.
func (g *Gateway) pollDeviceStates(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uuids := stateUUIDs(g.Context.Devices())
			if len(uuids) == 0 {
				continue
			}
			values, err := g.Resolver.ResolveBatch(ctx, uuids)
			if err != nil {
				g.Log.Warn("device state poll failed", zap.Error(err))
			}
			for _, rv := range values {
				g.State.Update(rv)
			}
		}
	}
}

// stateUUIDs collects every state value across devices that is itself a
// device-state uuid (as opposed to a literal), the set the resolver
// knows how to look up.
func stateUUIDs(devices map[string]domain.Device) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range devices {
		for _, target := range d.States {
			if domain.ValidUUID(target) && !seen[target] {
				seen[target] = true
				out = append(out, target)
			}
		}
	}
	return out
}

// pollCleanup runs the periodic maintenance sweeps: expired resilience
// fallback cache entries, idle rate-limit buckets, expired
// response-cache entries, and an overdue discovery rescan.
func (g *Gateway) pollCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Resilience.CleanupExpiredCache()
			g.RateLimit.Cleanup()
			g.RespCache.CleanupExpired()
			if g.Discovery.NeedsFullScan() {
				if _, err := g.Discovery.Scan(ctx); err != nil {
					g.Log.Warn("discovery scan failed", zap.Error(err))
				}
			}
		}
	}
}

