package channel

import (
	"time"

	"go.uber.org/zap"
)

// Application event types pushed by the console backend.
const (
	EventDeviceUpdate        Event = "device_update"
	EventDeviceAdded         Event = "device_added"
	EventDeviceRemoved       Event = "device_removed"
	EventDeviceConfigChanged Event = "device_config_changed"
	EventMessageReceived     Event = "message_received"
	EventNewMessage          Event = "new_message"
	EventMessageSent         Event = "message_sent"
	EventMessageStatusUpdate Event = "message_status_update"
	EventMessageActivity     Event = "message_activity"
	EventSystemStatus        Event = "system_status"
	EventSettingsChanged     Event = "settings_changed"
)

// Device as reported by the backend. Type is the modem family
// (franklin, sierra, huawei, android, voip); Status is online, offline or error.
type Device struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	PhoneNumber    string    `json:"phone_number"`
	SimICCID       *string   `json:"sim_iccid,omitempty"`
	SignalStrength *int      `json:"signal_strength,omitempty"`
	Status         string    `json:"status"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}

// Message is one SMS handled by a device.
type Message struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	FromNumber string    `json:"from_number"`
	ToNumber   string    `json:"to_number"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
	Delivered  bool      `json:"delivered"`
}

// DeviceUpdate is the payload of device_update and device_added.
type DeviceUpdate struct {
	Type   string `json:"type"`
	Device Device `json:"device"`
}

type DeviceRemoved struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

type DeviceConfigChanged struct {
	Type     string                 `json:"type"`
	DeviceID string                 `json:"device_id"`
	Config   map[string]interface{} `json:"config"`
}

// MessageUpdate is the payload of message_received, new_message and message_sent.
type MessageUpdate struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

type MessageStatusUpdate struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
}

type ActivitySeries struct {
	Labels   []string `json:"labels"`
	Sent     []int    `json:"sent"`
	Received []int    `json:"received"`
}

type MessageActivity struct {
	Type string         `json:"type"`
	Data ActivitySeries `json:"data"`
}

type SystemStatus struct {
	Type   string                 `json:"type"`
	Status map[string]interface{} `json:"status"`
}

type SettingsChanged struct {
	Type     string                 `json:"type"`
	Settings map[string]interface{} `json:"settings"`
}

// OnTyped registers fn for event, decoding each envelope into T first.
// Envelopes that do not decode are logged and skipped.
func OnTyped[T any](c *Channel, event Event, fn func(T)) *Listener {
	return c.OnFunc(event, func(data interface{}) {
		env, ok := data.(Envelope)
		if !ok {
			c.logger.Warn("Typed listener received a non-envelope payload",
				zap.String("event", string(event)),
			)
			return
		}

		var v T
		if err := env.Decode(&v); err != nil {
			c.logger.Warn("Failed to decode envelope for typed listener",
				zap.String("event", string(event)),
				zap.Error(err),
			)
			return
		}
		fn(v)
	})
}

func OnConnected(c *Channel, fn func()) *Listener {
	return c.OnFunc(EventConnected, func(interface{}) { fn() })
}

func OnDisconnected(c *Channel, fn func()) *Listener {
	return c.OnFunc(EventDisconnected, func(interface{}) { fn() })
}

func OnMaxAttemptsReached(c *Channel, fn func()) *Listener {
	return c.OnFunc(EventMaxAttemptsReached, func(interface{}) { fn() })
}

func OnError(c *Channel, fn func(error)) *Listener {
	return c.OnFunc(EventError, func(data interface{}) {
		if err, ok := data.(error); ok {
			fn(err)
		}
	})
}

func OnReconnecting(c *Channel, fn func(ReconnectAttempt)) *Listener {
	return c.OnFunc(EventReconnecting, func(data interface{}) {
		if attempt, ok := data.(ReconnectAttempt); ok {
			fn(attempt)
		}
	})
}
