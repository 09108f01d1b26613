package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/config"
)

func relayServer(t *testing.T) (string, <-chan map[string]any) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	received := make(chan map[string]any, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var message map[string]any
			if err := json.Unmarshal(payload, &message); err == nil {
				received <- message
			}
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http"), received
}

func TestNewValidatesURL(t *testing.T) {
	if _, err := New(config.WebSocketConfig{}, nil); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := New(config.WebSocketConfig{URL: "http://example.com"}, nil); err == nil {
		t.Fatal("expected error for http scheme")
	}
}

func TestSendWritesJSONFrames(t *testing.T) {
	url, received := relayServer(t)

	notifier, err := New(config.WebSocketConfig{URL: url, HandshakeTimeoutSecs: 2}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { _ = notifier.Close() })

	now := time.Unix(1700000000, 0)
	notifications := []chat.Notification{
		chat.NewHeartbeatNotification(now, "u1", "s1"),
		chat.NewTokenNotification(now, "u1", "s1", chat.Token{RunID: "r1", SequenceNumber: 1, Value: "hi"}),
	}
	for _, notification := range notifications {
		if err := notifier.Send(context.Background(), notification); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}

	for _, wantAction := range []string{chat.NotifyHeartbeat, chat.NotifyNewToken} {
		select {
		case message := <-received:
			if message["action"] != wantAction {
				t.Fatalf("action = %v, want %s", message["action"], wantAction)
			}
			if message["userId"] != "u1" || message["timestamp"] != "1700000000" {
				t.Fatalf("message = %v", message)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", wantAction)
		}
	}
}

func TestSendFailsWhenRelayUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	notifier, err := New(config.WebSocketConfig{URL: url, HandshakeTimeoutSecs: 1}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := notifier.Send(context.Background(), chat.NewHeartbeatNotification(time.Now(), "u1", "s1")); err == nil {
		t.Fatal("expected send error")
	}
}
