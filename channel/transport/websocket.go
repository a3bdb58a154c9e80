package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kleeedolinux/eventchannel/debug"
)

var (
	// ErrInvalidEndpoint is returned by Connect when the transport cannot be
	// constructed for the configured address. No dial is attempted.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrNotConnected    = errors.New("not connected")
	// ErrClosed is returned by Receive after a local Close.
	ErrClosed = errors.New("transport closed")
)

type WebSocketTransport struct {
	mu               sync.Mutex
	conn             *websocket.Conn
	url              string
	dialer           *websocket.Dialer
	headers          http.Header
	readTimeout      time.Duration
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
	compression      bool
	logger           *zap.Logger
}

type WebSocketOption func(*WebSocketTransport)

func WithHeaders(headers http.Header) WebSocketOption {
	return func(t *WebSocketTransport) {
		for k, v := range headers {
			t.headers[k] = v
		}
	}
}

// WithReadTimeout sets a per-frame read deadline. Zero disables it.
func WithReadTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.readTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.writeTimeout = timeout
	}
}

func WithHandshakeTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.handshakeTimeout = timeout
	}
}

func WithCompression(enabled bool) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.compression = enabled
	}
}

func WithLogger(logger *zap.Logger) WebSocketOption {
	return func(t *WebSocketTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewWebSocketTransport(url string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url:              url,
		dialer:           websocket.DefaultDialer,
		headers:          make(http.Header),
		writeTimeout:     10 * time.Second,
		handshakeTimeout: 10 * time.Second,
		logger:           debug.Logger(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *WebSocketTransport) URL() string {
	return t.url
}

// Connect dials the endpoint. It is a no-op while a connection is held.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if err := validateURL(t.url); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	t.logger.Debug("Dialing websocket endpoint", zap.String("url", t.url))

	dialer := *t.dialer
	dialer.HandshakeTimeout = t.handshakeTimeout
	dialer.EnableCompression = t.compression

	conn, resp, err := dialer.DialContext(ctx, t.url, t.headers)
	if err != nil {
		if resp != nil {
			t.logger.Debug("Websocket dial failed",
				zap.Error(err),
				zap.Int("status_code", resp.StatusCode),
			)
			return fmt.Errorf("dial %s: status %d: %w", t.url, resp.StatusCode, err)
		}
		t.logger.Debug("Websocket dial failed", zap.Error(err))
		return fmt.Errorf("dial %s: %w", t.url, err)
	}

	t.logger.Debug("Websocket connected", zap.String("url", t.url))
	t.conn = conn

	return nil
}

// Send writes data as a single text frame.
func (t *WebSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Debug("Websocket write failed", zap.Error(err))
		return err
	}
	return nil
}

// Receive blocks for the next data frame. Any read error releases the
// connection so that the next Connect dials again.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	if t.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.mu.Unlock()

	_, message, err := conn.ReadMessage()
	if err == nil {
		return message, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != conn {
		// Close already released this connection.
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	t.logger.Debug("Websocket read failed", zap.Error(err))
	_ = conn.Close()
	t.conn = nil

	return nil, err
}

// Close sends a normal-closure frame and releases the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	t.logger.Debug("Closing websocket connection")

	err := t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err != nil {
		t.logger.Debug("Error sending close frame", zap.Error(err))
	}

	err = t.conn.Close()
	t.conn = nil

	return err
}

// IsNormalClosure reports whether err ends a connection cleanly: a local
// Close, or a close frame carrying a normal or going-away code.
func IsNormalClosure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}
