package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kleeedolinux/eventchannel/channel/transport"
	"github.com/kleeedolinux/eventchannel/debug"
	"github.com/kleeedolinux/eventchannel/metrics"
)

const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxAttempts = 5
)

// Channel owns one duplex connection, re-establishes it with exponential
// backoff after it drops, and fans inbound envelopes out to listeners.
//
// Listeners run synchronously on the goroutine that produced the event:
// the receive loop for inbound envelopes, the connecting goroutine for
// lifecycle events. For a single frame the "message" listeners always run
// before the type-specific ones, and both finish before the next frame is
// read.
type Channel struct {
	mu sync.Mutex

	id        string
	transport Transport
	registry  *registry

	state       State
	attempts    int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	schedule    *schedule

	retry      *time.Timer
	retryGen   uint64
	dialCancel context.CancelFunc
	shutdown   bool

	transportOpts []transport.WebSocketOption

	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Channel)

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithMaxAttempts sets how many reconnects are tried before giving up.
func WithMaxAttempts(n int) Option {
	return func(c *Channel) {
		if n >= 0 {
			c.maxAttempts = n
		}
	}
}

// WithMaxDelay caps a single backoff delay. Unset, the delay keeps doubling
// until the attempts run out.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Channel) {
		c.maxDelay = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

// WithTransportOptions configures the WebSocket transport built by New.
// It has no effect with NewWithTransport.
func WithTransportOptions(opts ...transport.WebSocketOption) Option {
	return func(c *Channel) {
		c.transportOpts = append(c.transportOpts, opts...)
	}
}

// New creates a channel to a ws:// or wss:// endpoint. Nothing is dialed
// until Connect.
func New(url string, opts ...Option) *Channel {
	c := newChannel(opts)

	topts := append([]transport.WebSocketOption{transport.WithLogger(c.logger)}, c.transportOpts...)
	c.transport = transport.NewWebSocketTransport(url, topts...)

	return c
}

// NewWithTransport creates a channel over an arbitrary transport.
func NewWithTransport(t Transport, opts ...Option) *Channel {
	c := newChannel(opts)
	c.transport = t
	return c
}

func newChannel(opts []Option) *Channel {
	c := &Channel{
		id:          uuid.NewString(),
		registry:    newRegistry(),
		state:       Disconnected,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      debug.Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(zap.String("channel_id", c.id))
	c.schedule = newSchedule(c.baseDelay, c.maxDelay)
	c.metrics.SetConnectionState(c.state.String())

	return c
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) IsConnected() bool {
	return c.State() == Open
}

// Attempts returns the reconnect attempts made since the last successful open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Delay returns the backoff the next reconnect attempt will wait.
func (c *Channel) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schedule.peek()
}

// Connect starts opening the transport and returns immediately; the outcome
// is reported through the connected, error and disconnected events. It does
// nothing while the channel is connecting or open. An explicit Connect
// supersedes a pending reconnect and re-arms a channel that was shut down.
func (c *Channel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.shutdown = false

	switch c.state {
	case Connecting, Open:
		return
	case Closing:
		// The close path reconnects once it completes.
		return
	}

	c.stopRetryLocked()
	c.beginConnectLocked()
}

// Close closes the transport. The regular close path follows: the
// disconnected event fires and a reconnect is scheduled. Use Shutdown to
// close for good.
func (c *Channel) Close() error {
	return c.close(false)
}

// Shutdown closes the transport and cancels any pending reconnect. The
// disconnected event still fires, but no reconnect is scheduled until the
// next explicit Connect.
func (c *Channel) Shutdown() error {
	return c.close(true)
}

func (c *Channel) close(permanent bool) error {
	c.mu.Lock()

	if permanent {
		c.shutdown = true
		c.stopRetryLocked()
	}

	switch c.state {
	case Open:
		c.setStateLocked(Closing)
		c.mu.Unlock()
		return c.transport.Close()
	case Connecting:
		// open() notices Closing once the dial returns.
		c.setStateLocked(Closing)
		if c.dialCancel != nil {
			c.dialCancel()
		}
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return nil
	}
}

// On registers l under event. Registering the same listener twice is a no-op.
func (c *Channel) On(event Event, l *Listener) {
	if l == nil {
		return
	}
	if c.registry.add(event, l) {
		c.logger.Debug("Registered listener", zap.String("event", string(event)))
	}
}

// OnFunc wraps fn in a Listener, registers it and returns it for Off.
func (c *Channel) OnFunc(event Event, fn func(data interface{})) *Listener {
	l := NewListener(fn)
	c.On(event, l)
	return l
}

// Off removes l from event. Unknown listeners and events are ignored.
func (c *Channel) Off(event Event, l *Listener) {
	if l == nil {
		return
	}
	c.registry.remove(event, l)
}

// Listeners returns how many listeners are registered under event.
func (c *Channel) Listeners(event Event) int {
	return c.registry.count(event)
}

// Send encodes v as JSON and writes it when the channel is open. Otherwise
// it returns ErrNotConnected; messages are never queued.
func (c *Channel) Send(v interface{}) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != Open {
		c.logger.Warn("Dropping outbound message, channel is not open",
			zap.String("state", state.String()),
		)
		c.metrics.ObserveSend(metrics.SendNotConnected)
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode outbound message", zap.Error(err))
		c.metrics.ObserveSend(metrics.SendError)
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := c.transport.Send(data); err != nil {
		c.logger.Error("Failed to send message", zap.Error(err))
		c.metrics.ObserveSend(metrics.SendError)
		return fmt.Errorf("failed to send message: %w", err)
	}

	c.metrics.ObserveSend(metrics.SendOK)
	return nil
}

func (c *Channel) beginConnectLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.setStateLocked(Connecting)

	go c.open(ctx, cancel)
}

func (c *Channel) open(ctx context.Context, cancel context.CancelFunc) {
	err := c.transport.Connect(ctx)
	aborted := ctx.Err() != nil
	cancel()

	c.mu.Lock()
	c.dialCancel = nil

	if err != nil {
		c.mu.Unlock()

		if errors.Is(err, transport.ErrInvalidEndpoint) {
			c.logger.Error("Cannot create transport", zap.Error(err))
			c.mu.Lock()
			c.setStateLocked(Disconnected)
			c.mu.Unlock()
			c.reconnect()
			return
		}

		if !aborted {
			c.logger.Warn("Connection failed", zap.Error(err))
			c.emit(EventError, err)
		}
		c.handleClose(err)
		return
	}

	if c.state != Connecting {
		// Closed while dialing.
		c.mu.Unlock()
		_ = c.transport.Close()
		c.handleClose(nil)
		return
	}

	c.attempts = 0
	c.schedule.reset()
	c.setStateLocked(Open)
	c.mu.Unlock()

	c.metrics.ConnectionOpened()
	c.logger.Info("Channel connected")
	c.emit(EventConnected, nil)

	c.receiveLoop()
}

func (c *Channel) receiveLoop() {
	for {
		data, err := c.transport.Receive()
		if err != nil {
			if !transport.IsNormalClosure(err) && c.State() != Closing {
				c.logger.Warn("Connection lost", zap.Error(err))
				c.emit(EventError, err)
			}
			c.handleClose(err)
			return
		}

		c.metrics.FrameReceived()
		c.handleMessage(data)
	}
}

func (c *Channel) handleClose(err error) {
	c.mu.Lock()
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if err != nil {
		c.logger.Info("Channel disconnected", zap.Error(err))
	} else {
		c.logger.Info("Channel disconnected")
	}
	c.emit(EventDisconnected, nil)

	c.reconnect()
}

// reconnect schedules the next attempt. It does nothing after Shutdown,
// while an attempt is already pending, or when a listener has already
// started a new connection.
func (c *Channel) reconnect() {
	c.mu.Lock()

	if c.shutdown || c.retry != nil || c.state != Disconnected {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.maxAttempts {
		attempts := c.attempts
		c.mu.Unlock()

		c.logger.Error("Max reconnection attempts reached", zap.Int("attempts", attempts))
		c.metrics.MaxAttemptsReached()
		c.emit(EventMaxAttemptsReached, nil)
		return
	}

	c.attempts++
	attempt := ReconnectAttempt{
		Attempt: c.attempts,
		Delay:   c.schedule.advance(),
	}

	c.retryGen++
	gen := c.retryGen
	c.retry = time.AfterFunc(attempt.Delay, func() {
		c.retryFired(gen)
	})
	c.mu.Unlock()

	c.logger.Info("Reconnecting",
		zap.Int("attempt", attempt.Attempt),
		zap.Duration("delay", attempt.Delay),
	)
	c.metrics.ReconnectAttempt()
	c.emit(EventReconnecting, attempt)
}

func (c *Channel) retryFired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retry == nil || c.retryGen != gen {
		return
	}
	c.retry = nil

	if c.shutdown || c.state != Disconnected {
		return
	}
	c.beginConnectLocked()
}

func (c *Channel) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Channel) handleMessage(raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		c.logger.Warn("Dropping malformed frame",
			zap.Error(err),
			zap.Int("length", len(raw)),
		)
		c.metrics.DecodeFailure()
		return
	}

	c.emit(EventMessage, env)

	if typ := env.Type(); typ != "" {
		c.emit(Event(typ), env)
	}
}

// OtherEventLabel is the metrics label for inbound types that are neither
// known nor listened for.
const OtherEventLabel = "other"

var knownEvents = map[Event]struct{}{
	EventConnected:           {},
	EventDisconnected:        {},
	EventError:               {},
	EventMaxAttemptsReached:  {},
	EventMessage:             {},
	EventReconnecting:        {},
	EventDeviceUpdate:        {},
	EventDeviceAdded:         {},
	EventDeviceRemoved:       {},
	EventDeviceConfigChanged: {},
	EventMessageReceived:     {},
	EventNewMessage:          {},
	EventMessageSent:         {},
	EventMessageStatusUpdate: {},
	EventMessageActivity:     {},
	EventSystemStatus:        {},
	EventSettingsChanged:     {},
}

// eventLabel keeps the event label set bounded: inbound type names come
// from the server.
func eventLabel(event Event, listeners int) string {
	if _, ok := knownEvents[event]; ok || listeners > 0 {
		return string(event)
	}
	return OtherEventLabel
}

// emit invokes every listener registered under event. A panicking listener
// is logged and skipped; the rest still run.
func (c *Channel) emit(event Event, data interface{}) {
	listeners := c.registry.snapshot(event)
	label := eventLabel(event, len(listeners))
	c.metrics.EventDispatched(label)

	for _, l := range listeners {
		if err := l.invoke(data); err != nil {
			c.logger.Error("Listener failed",
				zap.String("event", string(event)),
				zap.Error(err),
			)
			c.metrics.ListenerFailure(label)
		}
	}
}

func (c *Channel) setStateLocked(s State) {
	old := c.state
	c.state = s

	if old != s {
		c.logger.Debug("Connection state changed",
			zap.String("from", old.String()),
			zap.String("to", s.String()),
		)
		c.metrics.SetConnectionState(s.String())
	}
}
