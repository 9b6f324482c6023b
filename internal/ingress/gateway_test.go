package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pupiltree/voice-handoff/internal/dedup"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestGatewayFeedsReceiver(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	frames := []string{
		`{"id":"gw-1","from":"+15550010","type":"document","payload":{"text":"x"}}`,
		`{"id":"gw-1","from":"+15550010","type":"document","payload":{"text":"x"}}`,
		`not json`,
		`{"id":"gw-2","from":"+15550011","type":"document"}`,
	}
	gotAuth := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(time.Second))
	}))
	t.Cleanup(server.Close)

	dispatcher := &recordingDispatcher{}
	receiver, err := NewReceiver(dedup.NewGate(64), dispatcher, ReceiverOptions{})
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := RunGatewayOnce(ctx, wsURL(server), "secret-token", receiver, GatewayOptions{})
	if runErr == nil {
		t.Fatal("expected a close error when the server hangs up")
	}

	if auth := <-gotAuth; auth != "Bearer secret-token" {
		t.Fatalf("authorization header = %q", auth)
	}
	if dispatcher.count() != 2 {
		t.Fatalf("dispatches = %d, want 2 (duplicate and malformed frames dropped)", dispatcher.count())
	}
}

func TestGatewayStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the connection open; the client decides when to leave.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	receiver, err := NewReceiver(dedup.NewGate(64), &recordingDispatcher{}, ReceiverOptions{})
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunGatewayOnce(ctx, wsURL(server), "", receiver, GatewayOptions{})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("gateway did not stop after cancel")
	}
}

func TestRunGatewayOnceValidation(t *testing.T) {
	t.Parallel()

	receiver, err := NewReceiver(dedup.NewGate(64), &recordingDispatcher{}, ReceiverOptions{})
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	if err := RunGatewayOnce(context.Background(), "", "", receiver, GatewayOptions{}); err == nil {
		t.Fatal("expected error for empty url")
	}
	if err := RunGatewayOnce(context.Background(), "ws://localhost:1", "", nil, GatewayOptions{}); err == nil {
		t.Fatal("expected error for nil receiver")
	}
}
