package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"camstream/internal/config"
	"camstream/internal/netlink"
	"camstream/internal/stream"
)

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Camera.Width = 64
	cfg.Camera.Height = 48
	cfg.Camera.CaptureDelay = 0
	cfg.Camera.SlotCapacity = 64 * 48 * 3
	cfg.Logging.NTPServers = nil
	cfg.Logging.StatsInterval = 0
	cfg.Telegram.AnnounceOnStart = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*Application, *zaptest.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	console := &zaptest.Buffer{}
	link := netlink.NewStatic(true, netlink.Info{Interface: "wlan0", IP: "10.0.0.2"})
	application := NewApplicationWithConfig(cfg, zaptest.NewLogger(t), WithLink(link), WithConsole(console))
	return application, console
}

func get(t *testing.T, h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouterEndpoints(t *testing.T) {
	application, _ := newTestApp(t, testConfig())
	router := application.GetRouter()

	w := get(t, router, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = get(t, router, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var notFound map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notFound))
	assert.Equal(t, "/nope", notFound["path"])

	w = get(t, router, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "camstream_stream_sessions_active")
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = get(t, router, "/stats", http.Header{"Origin": {"http://viewer.local"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBootAnnouncesCameraURL(t *testing.T) {
	var (
		mu   sync.Mutex
		text string
	)
	tg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		text = r.PostForm.Get("text")
		mu.Unlock()
	}))
	defer tg.Close()

	cfg := testConfig()
	cfg.Telegram.APIURL = tg.URL
	cfg.Telegram.BotToken = "1:x"
	cfg.Telegram.ChatID = "7"
	cfg.Telegram.AnnounceOnStart = true

	application, console := newTestApp(t, cfg)
	application.Boot(context.Background())

	mu.Lock()
	assert.Equal(t, "Camera IP: http://10.0.0.2:8080", text)
	mu.Unlock()
	assert.Contains(t, console.String(), "Camera initialized successfully")
	assert.True(t, application.Journal().Initialized())
}

func TestCameraURL(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 80
	application, _ := newTestApp(t, cfg)
	assert.Equal(t, "http://10.0.0.2", application.CameraURL())
}

func TestCameraFailureDegrades(t *testing.T) {
	cfg := testConfig()
	cfg.Camera.Source = "files"
	cfg.Camera.FramesDir = "/nonexistent/frames"

	application, console := newTestApp(t, cfg)
	application.Boot(context.Background())
	assert.False(t, application.CameraAvailable())
	assert.Contains(t, console.String(), "[CRITICAL] Issue with camera initialization")

	router := application.GetRouter()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/stream", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/shot", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/health", nil).Code)
}

func TestServeStreamsAndShutsDown(t *testing.T) {
	application, _ := newTestApp(t, testConfig())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- application.serve(ctx, lis, grpcLis) }()

	base := "http://" + lis.Addr().String()

	// живой журнал получает записи, созданные после подключения
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+lis.Addr().String()+"/ws/logs", nil)
	require.NoError(t, err)
	defer ws.Close()

	resp, err := http.Get(base + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	boundary, err := stream.BoundaryOf(resp.Header.Get("Content-Type"))
	require.NoError(t, err)

	r := stream.NewReader(resp.Body, boundary)
	for i := 0; i < 2; i++ {
		part, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, part.DeclaredLength, len(part.Data))
		assert.Equal(t, []byte{0xff, 0xd8}, part.Data[:2], "frame %d is not a JPEG", i)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var rec map[string]any
	require.NoError(t, ws.ReadJSON(&rec))
	assert.Equal(t, "Stream requested", rec["message"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
