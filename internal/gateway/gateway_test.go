package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"camstream/internal/telemetry"
)

func newTailServer(t *testing.T, clients *ClientManager) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	NewLogTail(clients, []string{"*"}, zaptest.NewLogger(t)).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/logs"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestLogTailDeliversRecords(t *testing.T) {
	clients := NewClientManager(8, 4, zaptest.NewLogger(t))
	conn := dial(t, newTailServer(t, clients))
	require.Equal(t, 1, clients.GetActiveClientCount())

	clients.Publish(telemetry.Record{
		Level:     telemetry.LevelWarning,
		Timestamp: "1970-01-01T00:00:05.000Z",
		Message:   "Camera frame capture failed",
		Device:    "ESP32-CAM",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "WARNING", got["level"])
	assert.Equal(t, "Camera frame capture failed", got["message"])
	assert.Equal(t, "1970-01-01T00:00:05.000Z", got["@timestamp"])
	assert.Equal(t, "ESP32-CAM", got["device"])
}

func TestLogTailClientDisconnect(t *testing.T) {
	clients := NewClientManager(8, 4, zaptest.NewLogger(t))
	conn := dial(t, newTailServer(t, clients))
	require.Equal(t, 1, clients.GetActiveClientCount())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	assert.Eventually(t, func() bool {
		return clients.GetActiveClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLogTailTooManyClients(t *testing.T) {
	clients := NewClientManager(8, 1, zaptest.NewLogger(t))
	url := newTailServer(t, clients)
	dial(t, url)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 1, clients.GetActiveClientCount())
}

func TestLogTailCloseAll(t *testing.T) {
	clients := NewClientManager(8, 4, zaptest.NewLogger(t))
	conn := dial(t, newTailServer(t, clients))
	require.Equal(t, 1, clients.GetActiveClientCount())

	clients.CloseAll()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)

	_, err = clients.RegisterClient("127.0.0.1", "test")
	assert.Error(t, err)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	clients := NewClientManager(1, 0, zaptest.NewLogger(t))
	client, err := clients.RegisterClient("127.0.0.1", "test")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			clients.Publish(telemetry.Record{Message: "m"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full client buffer")
	}

	assert.Equal(t, uint64(2), client.Dropped())
	assert.Len(t, client.SendChan, 1)

	stats := clients.Snapshot()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(1), stats[0].Sent)
	assert.Equal(t, uint64(2), stats[0].Dropped)
}

func TestRemoveAndCleanupClients(t *testing.T) {
	clients := NewClientManager(4, 0, zaptest.NewLogger(t))
	a, err := clients.RegisterClient("10.0.0.1", "a")
	require.NoError(t, err)
	b, err := clients.RegisterClient("10.0.0.2", "b")
	require.NoError(t, err)
	assert.NotEqual(t, a.ConnectionID, b.ConnectionID)

	clients.RemoveClient(a.ConnectionID)
	clients.RemoveClient(a.ConnectionID)
	_, ok := <-a.SendChan
	assert.False(t, ok)

	assert.Zero(t, clients.CleanupInactiveClients(time.Hour))
	assert.Equal(t, 1, clients.CleanupInactiveClients(-time.Second))
	_, ok = clients.GetClient(b.ConnectionID)
	assert.False(t, ok)
}
