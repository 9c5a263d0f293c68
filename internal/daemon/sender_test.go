package daemon

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

func TestNotificationSender_StdioWritesToStdout(t *testing.T) {
	var buf bytes.Buffer
	s := NewNotificationSender(&buf)

	err := s.Deliver(context.Background(), domain.ClientInfo{Transport: domain.TransportStdio}, []byte(`{"hello":"world"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, `{"hello":"world"}`) {
		t.Errorf("expected stdout to contain payload, got %q", got)
	}
}

func TestNotificationSender_SSEDeliversToRegisteredConnection(t *testing.T) {
	s := NewNotificationSender(&bytes.Buffer{})
	ch, unregister := s.Register("conn-1", 4)
	defer unregister()

	payload := []byte(`{"x":1}`)
	if err := s.Deliver(context.Background(), domain.ClientInfo{Transport: domain.TransportHTTPSSE, ConnID: "conn-1"}, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-ch:
		if string(got) != string(payload) {
			t.Errorf("expected %s, got %s", payload, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestNotificationSender_UnknownConnectionErrors(t *testing.T) {
	s := NewNotificationSender(&bytes.Buffer{})
	err := s.Deliver(context.Background(), domain.ClientInfo{Transport: domain.TransportWebSocket, ConnID: "ghost"}, []byte("x"))
	if err == nil {
		t.Fatal("expected an error for an unregistered connection")
	}
}

func TestNotificationSender_FullChannelReturnsServiceUnavailable(t *testing.T) {
	s := NewNotificationSender(&bytes.Buffer{})
	_, unregister := s.Register("conn-1", 1)
	defer unregister()

	if err := s.Deliver(context.Background(), domain.ClientInfo{Transport: domain.TransportHTTPSSE, ConnID: "conn-1"}, []byte("first")); err != nil {
		t.Fatalf("unexpected error on first delivery: %v", err)
	}
	if err := s.Deliver(context.Background(), domain.ClientInfo{Transport: domain.TransportHTTPSSE, ConnID: "conn-1"}, []byte("second")); err == nil {
		t.Error("expected an error once the channel buffer is full")
	}
}

func TestNotificationSender_UnregisterClosesChannel(t *testing.T) {
	s := NewNotificationSender(&bytes.Buffer{})
	ch, unregister := s.Register("conn-1", 1)
	unregister()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unregister")
	}
	err := s.Deliver(context.Background(), domain.ClientInfo{Transport: domain.TransportHTTPSSE, ConnID: "conn-1"}, []byte("x"))
	if err == nil {
		t.Error("expected delivery to an unregistered connection to fail")
	}
}

func TestNotificationSender_UnknownTransportErrors(t *testing.T) {
	s := NewNotificationSender(&bytes.Buffer{})
	err := s.Deliver(context.Background(), domain.ClientInfo{Transport: "carrier_pigeon"}, []byte("x"))
	if err == nil {
		t.Error("expected an error for an unrecognized transport kind")
	}
}
