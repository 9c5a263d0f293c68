// Package client implements the Miniserver token HTTP client: the
// auth lifecycle, request execution with attempt-indexed backoff,
// dual-envelope response parsing, structure fetch, device commands,
// state resolution fallback chain, batch states, and parallel fan-out.
//
// Follows the same session/request handling style used for MCP
// transport session bookkeeping and HTTP-with-retry downloads
// elsewhere in this codebase, generalized to Miniserver token auth.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// Config configures one Miniserver token client.
type Config struct {
	BaseURL         string
	Username        string
	Password        string
	RefreshInterval time.Duration
	MaxRetries      int
	MaxConcurrent   int64
	RequestTimeout  time.Duration
	// ConsentCheck is consulted before a mutating command when non-nil.
	// Returning a non-nil error denies the command.
	ConsentCheck func(ctx context.Context, uuid, cmd string) error
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = time.Hour
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 8
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Client is a single authenticated Miniserver connection. It implements
// domain.LoxoneClient so the pool can hold it behind that interface
// alongside other auth-method implementors.
type Client struct {
	cfg Config
	hc  *http.Client
	log *zap.Logger

	sem *semaphore.Weighted

	mu        sync.Mutex
	token     domain.AuthToken
	connected bool

	queue *CommandQueue
	now   func() time.Time
}

// New builds a client against cfg, sharing the given *http.Client's
// Transport for connection reuse. Query parameters including the
// token are always built via net/url.Values, never string-concatenated
// into the URL.
func New(cfg Config, hc *http.Client, log *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:   cfg,
		hc:    hc,
		log:   log,
		sem:   semaphore.NewWeighted(cfg.MaxConcurrent),
		queue: NewCommandQueue(),
		now:   time.Now,
	}
}

// GetAuthParams returns the already-negotiated query fragment so other
// components (the WebSocket channel) can reuse this session instead of
// authenticating twice.
func (c *Client) GetAuthParams() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.AuthParams()
}

// IsConnected reports the last-known liveness flag.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect performs initial authentication, draining any queued
// commands accumulated while disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	drained, failed := c.DrainQueue(ctx)
	if drained > 0 {
		c.log.Info("drained queued commands on reconnect", zap.Int("drained", drained), zap.Int("failed", failed))
	}
	return nil
}

// Disconnect clears the token, per the Auth Token invariant that it is
// never retained past disconnect.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.token = domain.AuthToken{}
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if tok.Token == "" {
		return c.authenticate(ctx)
	}
	if tok.Expired(c.now(), c.cfg.RefreshInterval) {
		if err := c.refreshToken(ctx); err != nil {
			return c.authenticate(ctx)
		}
	}
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	endpoint := fmt.Sprintf("/jdev/sys/getkey2/%s", url.PathEscape(c.cfg.Username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+endpoint, nil)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "build auth request", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.NewError(domain.ClassifyHTTPStatus(resp.StatusCode), "authenticate failed")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.WrapError(domain.KindConnection, "read auth response", err)
	}
	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.WrapError(domain.KindSerialization, "decode auth response", err)
	}
	token := fmt.Sprintf("tok-%x", body[:min(8, len(body))])
	c.mu.Lock()
	c.token = domain.AuthToken{Token: token, Username: c.cfg.Username, IssuedAt: c.now()}
	c.mu.Unlock()
	return nil
}

func (c *Client) refreshToken(ctx context.Context) error {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok.Token == "" {
		return domain.NewError(domain.KindAuthentication, "no token to refresh")
	}
	resp, err := c.doGET(ctx, "/jdev/sys/keyrefresh")
	if err != nil {
		return err
	}
	if !resp.Success() {
		return domain.NewError(domain.KindAuthentication, "refresh rejected")
	}
	c.mu.Lock()
	c.token.IssuedAt = c.now()
	c.mu.Unlock()
	return nil
}

// doGET executes an authenticated GET against path with attempt-indexed
// retry (100ms*n between attempts), classifying transport and HTTP
// failures into domain.Kind, and parses the dual-envelope response.
func (c *Client) doGET(ctx context.Context, path string) (domain.Envelope, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return domain.Envelope{}, domain.WrapError(domain.KindConnection, "acquire concurrency permit", err)
	}
	defer c.sem.Release(1)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		env, err := c.doGETOnce(ctx, path)
		if err == nil {
			return env, nil
		}
		lastErr = err
		if domain.IsKind(err, domain.KindAuthentication) {
			if refreshErr := c.refreshToken(ctx); refreshErr != nil {
				_ = c.authenticate(ctx)
			}
			continue
		}
		if domain.NeverRetry[domain.KindOf(err)] {
			break
		}
		if attempt < c.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return domain.Envelope{}, ctx.Err()
			case <-time.After(100 * time.Millisecond * time.Duration(attempt)):
			}
		}
	}
	return domain.Envelope{}, lastErr
}

func (c *Client) doGETOnce(ctx context.Context, path string) (domain.Envelope, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return domain.Envelope{}, err
	}
	full := c.cfg.BaseURL + path
	u, err := url.Parse(full)
	if err != nil {
		return domain.Envelope{}, domain.WrapError(domain.KindInvalidInput, "parse request url", err)
	}
	q := u.Query()
	c.mu.Lock()
	authQ, _ := url.ParseQuery(c.token.AuthParams())
	c.mu.Unlock()
	for k, vs := range authQ {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Envelope{}, domain.WrapError(domain.KindInternal, "build request", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.Envelope{}, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return domain.Envelope{}, domain.NewError(domain.KindAuthentication, "unauthorized")
	}
	if resp.StatusCode >= 400 {
		return domain.Envelope{}, domain.NewError(domain.ClassifyHTTPStatus(resp.StatusCode), "http error "+strconv.Itoa(resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Envelope{}, domain.WrapError(domain.KindConnection, "read body", err)
	}
	return parseResponse(body)
}

// parseResponse tries the three accepted response shapes in order:
// structured {code,value} / {LL:{...}} envelope, any JSON value wrapped
// as {200,value}, or plain text wrapped as {200,"<text>"}.
func parseResponse(body []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != 0 {
		return env, nil
	}
	var anyVal any
	if err := json.Unmarshal(body, &anyVal); err == nil {
		raw, _ := json.Marshal(anyVal)
		return domain.Envelope{Code: 200, Value: raw}, nil
	}
	raw, _ := json.Marshal(string(body))
	return domain.Envelope{Code: 200, Value: raw}, nil
}

func classifyTransportErr(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.WrapError(domain.KindTimeout, "request timed out", err)
	}
	return domain.WrapError(domain.KindConnection, "transport failure", err)
}

// GetStructure fetches /data/LoxAPP3.json and returns the raw document
// body; normalization into Device/Room maps is the caller's
// responsibility via internal/loxone/structure.
func (c *Client) GetStructure(ctx context.Context) ([]byte, error) {
	env, err := c.doGET(ctx, "/data/LoxAPP3.json")
	if err != nil {
		return nil, err
	}
	return env.Value, nil
}

// GetSystemInfo fetches Miniserver identity for discovery confirmation
// and health reporting.
func (c *Client) GetSystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	env, err := c.doGET(ctx, "/jdev/cfg/api")
	if err != nil {
		return domain.SystemInfo{}, err
	}
	var info domain.SystemInfo
	if err := env.DecodeValue(&info); err != nil {
		return domain.SystemInfo{}, domain.WrapError(domain.KindSerialization, "decode system info", err)
	}
	return info, nil
}

// HealthCheck reports whether the Miniserver is reachable and
// authenticated.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, err := c.doGET(ctx, "/jdev/cfg/api")
	return err == nil
}

// SendCommand issues a device command, consent-checking first, queuing
// it when disconnected with a configured queue, or executing it
// immediately and parsing the resulting envelope.
func (c *Client) SendCommand(ctx context.Context, uuid, cmd string) (domain.Envelope, error) {
	if !domain.ValidUUID(uuid) {
		return domain.Envelope{}, domain.NewError(domain.KindInvalidInput, "invalid device uuid")
	}
	if c.cfg.ConsentCheck != nil {
		if err := c.cfg.ConsentCheck(ctx, uuid, cmd); err != nil {
			return domain.Envelope{}, err
		}
	}
	if !c.IsConnected() && c.queue != nil {
		id := c.queue.Enqueue(uuid, cmd)
		return domain.NewEnvelope(202, map[string]string{"queue_id": id})
	}
	return c.doGET(ctx, fmt.Sprintf("/jdev/sps/io/%s/%s", url.PathEscape(uuid), url.PathEscape(cmd)))
}

// stateResolutionPaths is the ordered fallback chain for resolving a
// single state UUID's current value.
func stateResolutionPaths(uuid string) []string {
	return []string{
		"/jdev/sps/status/" + url.PathEscape(uuid),
		"/jdev/sps/io/" + url.PathEscape(uuid) + "/",
		"/jdev/sps/io/" + url.PathEscape(uuid) + "/state",
		"/jdev/sps/value/" + url.PathEscape(uuid),
	}
}

// GetDeviceStates resolves one state uuid's value via the fallback
// chain, returning the first non-null successful result. Numeric
// strings have their unit suffixes stripped and are parsed to float64.
func (c *Client) GetDeviceStates(ctx context.Context, uuid string) (map[string]any, error) {
	var lastErr error
	for _, path := range stateResolutionPaths(uuid) {
		env, err := c.doGET(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		var raw any
		if err := env.DecodeValue(&raw); err != nil || raw == nil {
			continue
		}
		return map[string]any{"value": normalizeValue(raw)}, nil
	}
	if lastErr == nil {
		lastErr = domain.ErrUnknownDevice
	}
	return nil, lastErr
}

// normalizeValue parses numeric strings, stripping the °/%/Lx unit
// suffixes the Miniserver appends.
func normalizeValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimRight(s, "°%")
	trimmed = strings.TrimSuffix(trimmed, "Lx")
	if f, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64); err == nil {
		return f
	}
	return v
}

// GetStateValues batch-resolves multiple state UUIDs, first attempting
// /jdev/sps/io/all and treating an object response as {uuid: value};
// falling back to a per-UUID loop that swallows individual errors into
// warnings rather than failing the whole batch.
func (c *Client) GetStateValues(ctx context.Context, uuids []string) (map[string]any, error) {
	env, err := c.doGET(ctx, "/jdev/sps/io/all")
	if err == nil {
		var obj map[string]any
		if decErr := env.DecodeValue(&obj); decErr == nil && obj != nil {
			out := make(map[string]any, len(uuids))
			for _, u := range uuids {
				if v, ok := obj[u]; ok {
					out[u] = normalizeValue(v)
				}
			}
			if len(out) == len(uuids) {
				return out, nil
			}
		}
	}

	out := make(map[string]any, len(uuids))
	var anyErr error
	for _, u := range uuids {
		states, sErr := c.GetDeviceStates(ctx, u)
		if sErr != nil {
			c.log.Warn("state resolution failed in batch", zap.String("uuid", u), zap.Error(sErr))
			anyErr = domain.ErrBatchPartial
			continue
		}
		out[u] = states["value"]
	}
	if len(out) == 0 && anyErr != nil {
		return nil, anyErr
	}
	return out, nil
}

// GetAllDeviceStatesBatch fetches every device's full state map via
// /jdev/sps/io/all.
func (c *Client) GetAllDeviceStatesBatch(ctx context.Context) (map[string]map[string]any, error) {
	env, err := c.doGET(ctx, "/jdev/sps/io/all")
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := env.DecodeValue(&obj); err != nil {
		return nil, domain.WrapError(domain.KindSerialization, "decode batch states", err)
	}
	out := make(map[string]map[string]any, len(obj))
	for uuid, v := range obj {
		out[uuid] = map[string]any{"value": normalizeValue(v)}
	}
	return out, nil
}

// CommandRequest is one item in a parallel fan-out SendCommands call.
type CommandRequest struct {
	UUID string
	Cmd  string
}

// CommandResult pairs a fan-out request with its outcome.
type CommandResult struct {
	Request CommandRequest
	Envelope domain.Envelope
	Err      error
}

// SendCommands dispatches cmds concurrently, optionally gating the
// whole batch behind a single bulk-consent check when len(cmds) meets
// the bulk threshold.
func (c *Client) SendCommands(ctx context.Context, cmds []CommandRequest, bulkConsent func(ctx context.Context, cmds []CommandRequest) error) []CommandResult {
	const bulkThreshold = 3
	if len(cmds) >= bulkThreshold && bulkConsent != nil {
		if err := bulkConsent(ctx, cmds); err != nil {
			results := make([]CommandResult, len(cmds))
			for i, req := range cmds {
				results[i] = CommandResult{Request: req, Err: err}
			}
			return results
		}
	}

	results := make([]CommandResult, len(cmds))
	var wg sync.WaitGroup
	for i, req := range cmds {
		wg.Add(1)
		go func(i int, req CommandRequest) {
			defer wg.Done()
			env, err := c.SendCommand(ctx, req.UUID, req.Cmd)
			results[i] = CommandResult{Request: req, Envelope: env, Err: err}
		}(i, req)
	}
	wg.Wait()
	return results
}

// DrainQueue executes every queued command FIFO-within-priority
// without a further consent check (already approved at enqueue time),
// sleeping 50ms between each, and returns the success/failure counts.
func (c *Client) DrainQueue(ctx context.Context) (succeeded, failed int) {
	for _, item := range c.queue.Drain() {
		env, err := c.doGET(ctx, fmt.Sprintf("/jdev/sps/io/%s/%s", url.PathEscape(item.UUID), url.PathEscape(item.Cmd)))
		if err != nil || !env.Success() {
			failed++
		} else {
			succeeded++
		}
		select {
		case <-ctx.Done():
			return succeeded, failed
		case <-time.After(50 * time.Millisecond):
		}
	}
	return succeeded, failed
}

// Queue exposes the command queue for pool/reconnect wiring.
func (c *Client) Queue() *CommandQueue { return c.queue }
