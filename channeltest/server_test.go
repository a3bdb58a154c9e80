package channeltest

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_BroadcastAndReceive(t *testing.T) {
	s := NewServer()
	defer s.Close()

	conn := dial(t, s)
	require.True(t, s.WaitForClients(1, time.Second))
	assert.Equal(t, 1, s.Accepted())

	require.NoError(t, s.Broadcast(map[string]interface{}{"type": "system_status"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"system_status"}`, string(data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.Eventually(t, func() bool { return len(s.Received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"ping"}`, string(s.Received()[0]))
}

func TestServer_Echo(t *testing.T) {
	s := NewServer(WithEcho())
	defer s.Close()

	conn := dial(t, s)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))
}

func TestServer_CloseAllSendsNormalClosure(t *testing.T) {
	s := NewServer()
	defer s.Close()

	conn := dial(t, s)
	require.True(t, s.WaitForClients(1, time.Second))

	s.CloseAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
	require.Eventually(t, func() bool { return s.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_DropAllIsAbrupt(t *testing.T) {
	s := NewServer()
	defer s.Close()

	conn := dial(t, s)
	require.True(t, s.WaitForClients(1, time.Second))

	s.DropAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.False(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestServer_Reject(t *testing.T) {
	s := NewServer()
	defer s.Close()
	s.Reject(true)

	_, resp, err := websocket.DefaultDialer.Dial(s.URL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 0, s.Accepted())

	s.Reject(false)
	dial(t, s)
	assert.True(t, s.WaitForClients(1, time.Second))
}

func TestServer_WaitForClientsTimesOut(t *testing.T) {
	s := NewServer()
	defer s.Close()

	assert.False(t, s.WaitForClients(1, 20*time.Millisecond))
}
