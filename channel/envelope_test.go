package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantErr  bool
	}{
		{"typed", `{"type":"device_update","device":{"id":"d1"}}`, "device_update", false},
		{"untyped", `{"status":"ok"}`, "", false},
		{"non-string type", `{"type":3}`, "", false},
		{"truncated", `{"type":"device_up`, "", true},
		{"array", `[{"type":"x"}]`, "", true},
		{"number", `42`, "", true},
		{"null", `null`, "", true},
		{"empty", ``, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidEnvelope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, env.Type())
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	fields := map[string]interface{}{"device_id": "d1"}
	env := NewEnvelope("device_removed", fields)

	assert.Equal(t, "device_removed", env.Type())
	assert.Equal(t, "d1", env["device_id"])
	assert.NotContains(t, fields, "type", "fields must not be mutated")

	assert.NotContains(t, NewEnvelope("", fields), "type")
}

func TestEnvelope_Decode(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{
		"type": "device_update",
		"device": {
			"id": "d1",
			"type": "huawei",
			"phone_number": "+1234567890",
			"signal_strength": 18,
			"status": "online",
			"last_seen": "2025-01-30T12:00:00Z"
		}
	}`))
	require.NoError(t, err)

	var update DeviceUpdate
	require.NoError(t, env.Decode(&update))

	assert.Equal(t, "device_update", update.Type)
	assert.Equal(t, "d1", update.Device.ID)
	assert.Equal(t, "huawei", update.Device.Type)
	require.NotNil(t, update.Device.SignalStrength)
	assert.Equal(t, 18, *update.Device.SignalStrength)
	assert.Nil(t, update.Device.SimICCID)
	assert.Equal(t, time.Date(2025, 1, 30, 12, 0, 0, 0, time.UTC), update.Device.LastSeen.UTC())
}

func TestEnvelope_DecodeMismatch(t *testing.T) {
	env := Envelope{"type": "message_status_update", "message_id": "not-a-number"}

	var update MessageStatusUpdate
	err := env.Decode(&update)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message_status_update")
}
