package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketConfig points at a remote runner's streaming endpoint.
type WebSocketConfig struct {
	// BaseURL is the remote runner base, e.g. "wss://runner.internal:7443".
	// The session endpoint path is appended.
	BaseURL string

	// Path of the streaming endpoint; "/session" when empty.
	Path string

	// Header values sent on the upgrade request (authorization and the like).
	Header map[string]string
}

// WebSocket is the remote-runner transport: one persistent connection, one
// text message per frame. The connection does not reconnect; a close is
// terminal for the session.
type WebSocket struct {
	cfg WebSocketConfig
	cb  Callbacks

	lifecycle sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	closed    bool
}

// NewWebSocket validates the config; the connection is established by Start.
func NewWebSocket(cfg WebSocketConfig, cb Callbacks) (*WebSocket, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("transport: remote runner base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("transport: invalid remote runner URL: %w", err)
	}
	return &WebSocket{cfg: cfg, cb: cb}, nil
}

func (t *WebSocket) endpoint() string {
	base := strings.TrimRight(t.cfg.BaseURL, "/")
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	path := t.cfg.Path
	if path == "" {
		path = "/session"
	}
	return base + path
}

// Start dials the remote endpoint. Calling Start on a live connection is a
// no-op.
func (t *WebSocket) Start() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if t.conn != nil {
		return nil
	}

	header := make(map[string][]string, len(t.cfg.Header))
	for k, v := range t.cfg.Header {
		header[k] = []string{v}
	}
	conn, _, err := websocket.DefaultDialer.Dial(t.endpoint(), header)
	if err != nil {
		return fmt.Errorf("transport: dial remote runner: %w", err)
	}
	t.conn = conn
	t.closed = false

	go t.readLoop(conn)
	return nil
}

func (t *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.close(err)
			return
		}
		for _, line := range strings.Split(string(payload), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if t.cb.OnLine != nil {
				t.cb.OnLine(line)
			}
		}
	}
}

func (t *WebSocket) close(reason error) {
	t.lifecycle.Lock()
	if t.closed {
		t.lifecycle.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.lifecycle.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if t.cb.OnClosed != nil {
		t.cb.OnClosed(reason)
	}
}

// Stop closes the connection and fires the closed event.
func (t *WebSocket) Stop() error {
	t.close(ErrClosed)
	return nil
}

// Send writes one frame as a websocket text message.
func (t *WebSocket) Send(line string) error {
	t.lifecycle.Lock()
	conn := t.conn
	closed := t.closed
	t.lifecycle.Unlock()
	if conn == nil || closed {
		return ErrClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(line))
}

var _ Transport = (*WebSocket)(nil)
