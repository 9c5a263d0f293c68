package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// roundTripFunc lets a test supply an http.RoundTripper as a plain
// function, stdlib-only, no fake server required.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonBody(v any) io.ReadCloser {
	b, _ := json.Marshal(v)
	return io.NopCloser(bytes.NewReader(b))
}

func newTestClient(rt roundTripFunc) *Client {
	hc := &http.Client{Transport: rt}
	return New(Config{BaseURL: "http://miniserver.local", Username: "admin", MaxRetries: 3}, hc, zap.NewNop())
}

// TestScenarioS1TokenRefreshOn401 encodes spec scenario S1: a command
// whose first attempt fails with HTTP 401 triggers exactly one token
// refresh, then succeeds on retry.
func TestScenarioS1TokenRefreshOn401(t *testing.T) {
	var mu sync.Mutex
	commandAttempts := 0
	refreshCalls := 0

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.Contains(req.URL.Path, "/jdev/sys/getkey2/"):
			return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{"code": 200, "value": "key-material"}), Header: http.Header{}}, nil
		case strings.Contains(req.URL.Path, "/jdev/sys/keyrefresh"):
			mu.Lock()
			refreshCalls++
			mu.Unlock()
			return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{"code": 200, "value": "refreshed"}), Header: http.Header{}}, nil
		case strings.Contains(req.URL.Path, "/jdev/sps/io/0CD8C06B.855703.I2/On"):
			mu.Lock()
			commandAttempts++
			attempt := commandAttempts
			mu.Unlock()
			if attempt == 1 {
				return &http.Response{StatusCode: http.StatusUnauthorized, Body: jsonBody(map[string]any{"code": 401}), Header: http.Header{}}, nil
			}
			return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{"code": 200, "value": "OK"}), Header: http.Header{}}, nil
		default:
			t.Fatalf("unexpected request path %s", req.URL.Path)
			return nil, nil
		}
	})

	c := newTestClient(rt)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	env, err := c.SendCommand(context.Background(), "0CD8C06B.855703.I2", "On")
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if env.Code != 200 {
		t.Fatalf("envelope code = %d, want 200", env.Code)
	}
	var value string
	if err := env.DecodeValue(&value); err != nil || value != "OK" {
		t.Fatalf("envelope value = %q, err = %v; want OK", value, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want exactly 1", refreshCalls)
	}
	if commandAttempts != 2 {
		t.Errorf("commandAttempts = %d, want exactly 2 (401 then success)", commandAttempts)
	}
}

// TestDoGETRecoversFrom401OnAnyAttempt guards against the attempt==1
// gating regression: a 401 surfacing after an earlier unrelated
// transient failure must still trigger refresh-then-retry instead of
// aborting.
func TestDoGETRecoversFrom401OnAnyAttempt(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	refreshCalls := 0

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.Contains(req.URL.Path, "/jdev/sys/getkey2/"):
			return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{"code": 200, "value": "key"}), Header: http.Header{}}, nil
		case strings.Contains(req.URL.Path, "/jdev/sys/keyrefresh"):
			mu.Lock()
			refreshCalls++
			mu.Unlock()
			return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{"code": 200, "value": "refreshed"}), Header: http.Header{}}, nil
		case strings.Contains(req.URL.Path, "/jdev/cfg/api"):
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			switch n {
			case 1:
				return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: jsonBody(map[string]any{}), Header: http.Header{}}, nil
			case 2:
				return &http.Response{StatusCode: http.StatusUnauthorized, Body: jsonBody(map[string]any{}), Header: http.Header{}}, nil
			default:
				return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{"code": 200, "value": "ok"}), Header: http.Header{}}, nil
			}
		default:
			t.Fatalf("unexpected request path %s", req.URL.Path)
			return nil, nil
		}
	})

	c := newTestClient(rt)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if ok := c.HealthCheck(context.Background()); !ok {
		t.Fatal("expected HealthCheck to eventually succeed after a 401 on attempt 2 triggers refresh")
	}
	mu.Lock()
	defer mu.Unlock()
	if refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want exactly 1 (the 401 happened on attempt 2, not attempt 1)", refreshCalls)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (service-unavailable, unauthorized, success)", calls)
	}
}

func TestSendCommandQueuesWhenDisconnected(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatalf("no HTTP call expected while disconnected, got %s", req.URL.Path)
		return nil, nil
	})
	c := newTestClient(rt)

	env, err := c.SendCommand(context.Background(), "0CD8C06B.855703.I2", "On")
	if err != nil {
		t.Fatalf("unexpected error queuing command: %v", err)
	}
	if env.Code != 202 {
		t.Fatalf("envelope code = %d, want 202 (queued)", env.Code)
	}
	if c.Queue().Len() != 1 {
		t.Fatalf("queue length = %d, want 1", c.Queue().Len())
	}
}

func TestSendCommandRejectsInvalidUUID(t *testing.T) {
	c := newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no HTTP call expected for an invalid uuid")
		return nil, nil
	}))
	_, err := c.SendCommand(context.Background(), "not-a-uuid", "On")
	if !domain.IsKind(err, domain.KindInvalidInput) {
		t.Fatalf("err = %v, want KindInvalidInput", err)
	}
}

func TestSendCommandDeniedByConsentCheck(t *testing.T) {
	denied := domain.NewError(domain.KindConsentDenied, "nope")
	c := New(Config{BaseURL: "http://miniserver.local", Username: "admin", ConsentCheck: func(ctx context.Context, uuid, cmd string) error {
		return denied
	}}, &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no HTTP call expected when consent denies the command")
		return nil, nil
	})}, zap.NewNop())

	_, err := c.SendCommand(context.Background(), "0CD8C06B.855703.I2", "On")
	if err != denied {
		t.Fatalf("err = %v, want the consent error to propagate unchanged", err)
	}
}

func TestParseResponseAcceptsFlatNestedAndPlainShapes(t *testing.T) {
	env, err := parseResponse([]byte(`{"code":200,"value":"on"}`))
	if err != nil || env.Code != 200 {
		t.Fatalf("flat shape: env=%+v err=%v", env, err)
	}

	env, err = parseResponse([]byte(`{"LL":{"Code":"200","value":"on"}}`))
	if err != nil || env.Code != 200 {
		t.Fatalf("nested shape: env=%+v err=%v", env, err)
	}

	env, err = parseResponse([]byte(`42.5`))
	if err != nil || env.Code != 200 {
		t.Fatalf("bare json value shape: env=%+v err=%v", env, err)
	}
	var f float64
	if err := env.DecodeValue(&f); err != nil || f != 42.5 {
		t.Fatalf("decoded bare value = %v, err = %v; want 42.5", f, err)
	}
}

func TestNormalizeValueStripsUnitSuffixes(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{"21.5°", 21.5},
		{"50%", 50.0},
		{"300Lx", 300.0},
		{"not-a-number", "not-a-number"},
		{true, true},
	}
	for _, c := range cases {
		if got := normalizeValue(c.in); got != c.want {
			t.Errorf("normalizeValue(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestStateResolutionPathsOrder(t *testing.T) {
	paths := stateResolutionPaths("0CD8C06B.855703.I2")
	want := []string{
		"/jdev/sps/status/0CD8C06B.855703.I2",
		"/jdev/sps/io/0CD8C06B.855703.I2/",
		"/jdev/sps/io/0CD8C06B.855703.I2/state",
		"/jdev/sps/value/0CD8C06B.855703.I2",
	}
	if len(paths) != len(want) {
		t.Fatalf("got %d paths, want %d", len(paths), len(want))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestDisconnectClearsToken(t *testing.T) {
	c := newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{"code": 200, "value": "k"}), Header: http.Header{}}, nil
	}))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.GetAuthParams() == "" {
		t.Fatal("expected a non-empty token after connect")
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if c.IsConnected() {
		t.Error("expected Disconnect to clear the connected flag")
	}
	if c.GetAuthParams() != (domain.AuthToken{}).AuthParams() {
		t.Error("expected Disconnect to clear the retained token")
	}
}

func TestDoGETRetriesUpToMaxRetriesOnPersistentFailure(t *testing.T) {
	calls := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.Contains(req.URL.Path, "/jdev/sys/getkey2/"):
			return &http.Response{StatusCode: http.StatusOK, Body: jsonBody(map[string]any{"code": 200, "value": "k"}), Header: http.Header{}}, nil
		default:
			calls++
			return &http.Response{StatusCode: http.StatusBadRequest, Body: jsonBody(map[string]any{}), Header: http.Header{}}, nil
		}
	})
	c := newTestClient(rt)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	_, err := c.GetSystemInfo(context.Background())
	if !domain.IsKind(err, domain.KindConnection) {
		t.Fatalf("err = %v, want KindConnection (a 400 classifies as retryable Connection)", err)
	}
	if calls != c.cfg.MaxRetries {
		t.Errorf("calls = %d, want %d (exhausted MaxRetries on a persistent retryable failure)", calls, c.cfg.MaxRetries)
	}
}

func TestDoGETGivesUpImmediatelyOnInvalidInput(t *testing.T) {
	c := newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no HTTP call expected for an invalid device uuid")
		return nil, nil
	}))
	_, err := c.SendCommand(context.Background(), "not-a-uuid", "On")
	if !domain.IsKind(err, domain.KindInvalidInput) {
		t.Fatalf("err = %v, want KindInvalidInput", err)
	}
	if !domain.NeverRetry[domain.KindOf(err)] {
		t.Error("expected KindInvalidInput to be in the never-retry set")
	}
}
