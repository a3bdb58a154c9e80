// Package channeltest provides an in-process WebSocket endpoint that speaks
// the envelope protocol, for exercising channels in tests and examples.
package channeltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Path is where the server accepts WebSocket upgrades.
const Path = "/ws"

type Server struct {
	mu       sync.RWMutex
	srv      *httptest.Server
	conns    map[string]*serverConn
	received [][]byte
	accepted int
	rejected bool
	echo     bool

	upgrader   websocket.Upgrader
	bufferSize int
	logger     *zap.Logger
	joined     chan struct{}
}

type Option func(*Server)

// WithEcho makes the server send every inbound frame back to its sender.
func WithEcho() Option {
	return func(s *Server) {
		s.echo = true
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithBufferSize(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.bufferSize = size
		}
	}
}

// NewServer starts a server on a loopback port. Call Close when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		conns:      make(map[string]*serverConn),
		bufferSize: 100,
		logger:     zap.NewNop(),
		joined:     make(chan struct{}, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWS)
	s.srv = httptest.NewServer(mux)

	return s
}

// URL returns the ws:// address of the endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + Path
}

// Reject makes the server answer new upgrade requests with 503 while on.
func (s *Server) Reject(on bool) {
	s.mu.Lock()
	s.rejected = on
	s.mu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	rejected := s.rejected
	s.mu.RUnlock()

	if rejected {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := newServerConn(uuid.NewString(), conn, s.bufferSize)

	s.mu.Lock()
	s.conns[c.id] = c
	s.accepted++
	s.mu.Unlock()

	s.logger.Debug("Client connected", zap.String("conn_id", c.id))

	select {
	case s.joined <- struct{}{}:
	default:
	}

	s.readLoop(c)
}

func (s *Server) readLoop(c *serverConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		c.close(false)
		s.logger.Debug("Client disconnected", zap.String("conn_id", c.id))
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, message)
		echo := s.echo
		s.mu.Unlock()

		if echo {
			c.write(message)
		}
	}
}

// Broadcast encodes v as JSON and queues it for every connected client.
func (s *Server) Broadcast(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.BroadcastRaw(data)
	return nil
}

// BroadcastRaw queues data unchanged, which allows sending malformed frames.
func (s *Server) BroadcastRaw(data []byte) {
	for _, c := range s.snapshot() {
		c.write(data)
	}
}

// CloseAll ends every connection with a normal-closure frame.
func (s *Server) CloseAll() {
	for _, c := range s.snapshot() {
		c.close(true)
	}
}

// DropAll severs every connection without a close frame.
func (s *Server) DropAll() {
	for _, c := range s.snapshot() {
		c.close(false)
	}
}

// Count returns the number of live connections.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Accepted returns how many upgrades have succeeded since start.
func (s *Server) Accepted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepted
}

// Received returns a copy of every inbound frame, in arrival order.
func (s *Server) Received() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}

// WaitForClients blocks until at least n connections are live or the
// timeout expires.
func (s *Server) WaitForClients(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if s.Count() >= n {
			return true
		}
		select {
		case <-s.joined:
		case <-deadline.C:
			return s.Count() >= n
		}
	}
}

func (s *Server) Close() {
	s.CloseAll()
	s.srv.Close()
}

func (s *Server) snapshot() []*serverConn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

type serverConn struct {
	id      string
	conn    *websocket.Conn
	sendCh  chan []byte
	closeCh chan struct{}
	writeWg sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

func newServerConn(id string, conn *websocket.Conn, bufferSize int) *serverConn {
	c := &serverConn{
		id:      id,
		conn:    conn,
		sendCh:  make(chan []byte, bufferSize),
		closeCh: make(chan struct{}),
	}

	c.writeWg.Add(1)
	go c.writePump()

	return c
}

func (c *serverConn) writePump() {
	defer c.writeWg.Done()

	for {
		select {
		case <-c.closeCh:
			return
		case message := <-c.sendCh:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()

			if err != nil {
				go c.close(false)
				return
			}
		}
	}
}

// write queues data; a full buffer drops the connection.
func (c *serverConn) write(data []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	select {
	case c.sendCh <- data:
	default:
		go c.close(false)
	}
}

func (c *serverConn) close(graceful bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.closeCh)
	c.mu.Unlock()

	c.writeWg.Wait()

	if graceful {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	_ = c.conn.Close()
}
