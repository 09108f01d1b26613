// Package websocket relays notifications to a websocket endpoint that fans
// them out to connected clients.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/config"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
)

// Notifier writes each notification as one JSON text frame. The connection
// is dialed lazily and redialed once after a failed write.
type Notifier struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
	log    *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New validates the relay config.
func New(cfg config.WebSocketConfig, log *slog.Logger) (*Notifier, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("notify.websocket.url is required")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("notify.websocket.url must use ws or wss scheme, got %q", url)
	}

	handshakeTimeout := defaultHandshakeTimeout
	if cfg.HandshakeTimeoutSecs > 0 {
		handshakeTimeout = time.Duration(cfg.HandshakeTimeoutSecs) * time.Second
	}

	if log == nil {
		log = slog.Default()
	}

	return &Notifier{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log: log.With("component", "notify.websocket"),
	}, nil
}

// Send writes the notification, reconnecting once if the connection broke.
func (n *Notifier) Send(ctx context.Context, notification chat.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.write(ctx, notification)
	if err == nil {
		return nil
	}

	n.log.Warn("Notification write failed, redialing", "action", notification.Action, "error", err)
	n.closeLocked()
	if retryErr := n.write(ctx, notification); retryErr != nil {
		n.closeLocked()
		return fmt.Errorf("send %s notification: %w", notification.Action, retryErr)
	}
	return nil
}

// Close drops the relay connection.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}

	_ = n.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return n.closeLocked()
}

func (n *Notifier) write(ctx context.Context, notification chat.Notification) error {
	if n.conn == nil {
		conn, _, err := n.dialer.DialContext(ctx, n.url, n.header)
		if err != nil {
			return fmt.Errorf("dial relay: %w", err)
		}
		n.conn = conn
		n.log.Debug("Relay connected", "url", n.url)
	}

	deadline := time.Now().Add(writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := n.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return n.conn.WriteJSON(notification)
}

func (n *Notifier) closeLocked() error {
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}
