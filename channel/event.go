package channel

import (
	"context"
	"errors"
	"time"
)

type Event string

// Reserved events emitted by the channel itself. Any other name is an
// application type taken from an inbound envelope.
const (
	EventConnected          Event = "connected"
	EventDisconnected       Event = "disconnected"
	EventError              Event = "error"
	EventMaxAttemptsReached Event = "max_attempts_reached"
	EventMessage            Event = "message"
	EventReconnecting       Event = "reconnecting"
)

// State is the connection state of a Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// ReconnectAttempt is the payload of EventReconnecting.
type ReconnectAttempt struct {
	Attempt int
	Delay   time.Duration
}

// Transport is a message-oriented duplex connection. Receive blocks for the
// next frame and returns an error once the connection is gone; Connect may
// be called again after that to re-establish it.
type Transport interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

var (
	ErrNotConnected    = errors.New("channel is not open")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)
