package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is returned by reads after a transport was closed locally
var ErrTransportClosed = errors.New("transport closed")

// Transport is one live bidirectional text-frame connection
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials gorilla/websocket connections
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

// NewWebSocketDialer creates a dialer with the given handshake timeout
func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{HandshakeTimeout: handshakeTimeout}
}

// Dial opens a websocket connection to url
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	return &wsTransport{conn: conn}, nil
}

// wsTransport adapts *websocket.Conn. gorilla allows one concurrent writer,
// so writes are serialized here.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() {
		// WriteControl may run concurrently with WriteMessage
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}
