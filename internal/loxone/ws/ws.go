// Package ws is the Miniserver WebSocket event channel. The exact
// Miniserver binary frame format is left undocumented here (the real
// firmware prefixes binary messages with an 8-byte header this repo
// has no verified description of); rather than guess at undocumented
// byte layout, this channel speaks the JSON-message subset only,
// mapping recognized shapes to typed events and routing anything
// undecodable to an error channel instead of a fatal close.
//
// Built on github.com/gorilla/websocket.
package ws

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
	"github.com/tutu-network/loxone-mcp-gateway/internal/resilience/retry"
)

// EventType is the closed set of events this channel emits.
type EventType string

const (
	EventStateChanged     EventType = "StateChanged"
	EventStructureChanged EventType = "StructureChanged"
	EventConnected        EventType = "Connected"
	EventDisconnected     EventType = "Disconnected"
)

// Event is one typed notification delivered on the channel's event
// stream.
type Event struct {
	Type      EventType
	UUID      string
	Value     any
	Timestamp time.Time
}

// AuthParamsFunc returns the current session's auth query fragment,
// reusing the HTTP client's already-negotiated token rather than
// authenticating a second time.
type AuthParamsFunc func() string

// Channel manages one reconnecting WebSocket session to the
// Miniserver's event stream.
type Channel struct {
	baseURL    string
	authParams AuthParamsFunc
	log        *zap.Logger

	events chan Event
	errs   chan error

	onReconnect func(ctx context.Context)
}

// New builds a channel that will dial wss://<host>/ws/rfc6455 (or
// ws:// if baseURL is http) using authParams() for credentials.
// onReconnect is invoked after every successful (re)connection so the
// caller can trigger a queue drain and structure refresh.
func New(baseURL string, authParams AuthParamsFunc, log *zap.Logger, onReconnect func(ctx context.Context)) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		baseURL:     baseURL,
		authParams:  authParams,
		log:         log,
		events:      make(chan Event, 256),
		errs:        make(chan error, 32),
		onReconnect: onReconnect,
	}
}

// Events returns the channel's typed event stream.
func (c *Channel) Events() <-chan Event { return c.events }

// Errors returns the channel's decode/transport error stream.
func (c *Channel) Errors() <-chan error { return c.errs }

func (c *Channel) dialURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/rfc6455"
	u.RawQuery = c.authParams()
	return u.String(), nil
}

// Run dials and maintains the connection until ctx is cancelled,
// reconnecting with exponential backoff (1s to 60s, infinite attempts)
// on every disconnect.
func (c *Channel) Run(ctx context.Context) {
	policy := retry.Policy{
		MaxAttempts:    0, // unbounded: Run's own loop handles retry, not retry.Do
		InitialDelay:   time.Second,
		MaxDelay:       60 * time.Second,
		Backoff:        retry.BackoffExponential,
		ExponentialMul: 2.0,
	}
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dialURL, err := c.dialURL()
		if err != nil {
			c.errs <- domain.WrapError(domain.KindInvalidInput, "build websocket url", err)
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
		if err != nil {
			attempt++
			delay := policy.Delay(attempt, 0, nil)
			c.log.Warn("websocket dial failed, backing off", zap.Error(err), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		c.emit(Event{Type: EventConnected, Timestamp: time.Now()})
		if c.onReconnect != nil {
			c.onReconnect(ctx)
		}
		c.readPump(ctx, conn)
		c.emit(Event{Type: EventDisconnected, Timestamp: time.Now()})
	}
}

// readPump decodes frames until the connection closes or ctx cancels.
func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				c.errs <- domain.WrapError(domain.KindConnection, "websocket read failed", err)
			}
			return
		}
		c.decodeFrame(data)
	}
}

// llDelta decodes the bare {uuid, value} delta shape of the Miniserver's
// JSON event stream. A frame without a "uuid" field, including an
// {"LL": {"Code": "200", "value": ...}} envelope, decodes with an empty
// UUID and is reported as a structure change.
type llDelta struct {
	UUID  string `json:"uuid"`
	Value any    `json:"value"`
}

func (c *Channel) decodeFrame(data []byte) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return
	}
	var delta llDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		c.errs <- domain.WrapError(domain.KindSerialization, "undecodable websocket frame", err)
		return
	}
	if delta.UUID == "" {
		// Structure-change notifications carry no single uuid.
		c.emit(Event{Type: EventStructureChanged, Timestamp: time.Now()})
		return
	}
	c.emit(Event{Type: EventStateChanged, UUID: delta.UUID, Value: delta.Value, Timestamp: time.Now()})
}

func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("websocket event channel full, dropping event", zap.String("type", string(ev.Type)))
	}
}
