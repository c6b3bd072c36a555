package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func startHubServer(t *testing.T) (*Hub, string) {
	t.Helper()
	h := New(zap.NewNop(), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		h.Subscribe(conn)
	}))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestHandshakeFrame(t *testing.T) {
	_, url := startHubServer(t)
	conn := dial(t, url)

	frame := readFrame(t, conn)
	assert.Equal(t, "connected", frame["type"])
	assert.Equal(t, float64(1), frame["clients"])
	assert.NotEmpty(t, frame["message"])
	assert.NotEmpty(t, frame["timestamp"])
}

func TestBroadcastFanOut(t *testing.T) {
	h, url := startHubServer(t)

	first := dial(t, url)
	second := dial(t, url)
	readFrame(t, first)
	readFrame(t, second)

	require.Eventually(t, func() bool { return h.ClientCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	h.Broadcast(map[string]any{"type": "alert", "id": "inc-1", "severity": "HIGH"})

	for _, conn := range []*websocket.Conn{first, second} {
		frame := readFrame(t, conn)
		assert.Equal(t, "alert", frame["type"])
		assert.Equal(t, "inc-1", frame["id"])
	}
}

func TestPingPong(t *testing.T) {
	_, url := startHubServer(t)
	conn := dial(t, url)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame["type"])
	assert.NotEmpty(t, frame["timestamp"])
}

func TestJSONPingPong(t *testing.T) {
	_, url := startHubServer(t)
	conn := dial(t, url)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame["type"])
}

func TestUnknownClientFramesIgnored(t *testing.T) {
	_, url := startHubServer(t)
	conn := dial(t, url)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "mystery"}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	// Only the ping yields a reply.
	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame["type"])
}

func TestDisconnectUpdatesCount(t *testing.T) {
	h, url := startHubServer(t)
	conn := dial(t, url)
	readFrame(t, conn)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestBroadcastWithNoSubscribers(t *testing.T) {
	h := New(zap.NewNop(), nil)
	// Must not panic or block.
	h.Broadcast(map[string]string{"type": "alert"})
	assert.Equal(t, 0, h.ClientCount())
}
