package daemon

import (
	"context"
	"io"
	"sync"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// NotificationSender is the per-delivery Sender the subscription
// dispatcher (internal/subscription) hands every change notification
// to: a session registry (a map of connection id -> buffered notify
// channel, one entry per connected client), generalized across all
// three downstream transports instead of just Streamable HTTP's SSE
// leg.
type NotificationSender struct {
	mu       sync.RWMutex
	sessions map[string]chan []byte
	stdout   io.Writer
}

// NewNotificationSender builds a sender that writes stdio-transport
// notifications (one process, one client) directly to stdout, and
// queues SSE/WebSocket notifications onto a per-connection buffered
// channel the owning HTTP/WS handler drains.
func NewNotificationSender(stdout io.Writer) *NotificationSender {
	return &NotificationSender{sessions: make(map[string]chan []byte), stdout: stdout}
}

// Register associates connID with a channel an HTTP SSE or WebSocket
// handler is reading from, returning an unregister func to call when
// that connection closes.
func (s *NotificationSender) Register(connID string, buffer int) (ch chan []byte, unregister func()) {
	ch = make(chan []byte, buffer)
	s.mu.Lock()
	s.sessions[connID] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.sessions, connID)
		s.mu.Unlock()
		close(ch)
	}
}

// Deliver routes payload to info's transport. Stdio writes are
// synchronous; SSE/WebSocket deliveries are a non-blocking channel
// send so a slow reader never stalls the dispatcher.
func (s *NotificationSender) Deliver(ctx context.Context, info domain.ClientInfo, payload []byte) error {
	switch info.Transport {
	case domain.TransportStdio:
		_, err := s.stdout.Write(append(payload, '\n'))
		return err
	case domain.TransportHTTPSSE, domain.TransportWebSocket:
		s.mu.RLock()
		ch, ok := s.sessions[info.ConnID]
		s.mu.RUnlock()
		if !ok {
			return domain.NewError(domain.KindNotFound, "no live connection for "+info.ConnID)
		}
		select {
		case ch <- payload:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			return domain.NewError(domain.KindServiceUnavailable, "notification channel full for "+info.ConnID)
		}
	default:
		return domain.NewError(domain.KindInvalidInput, "unknown transport kind")
	}
}
