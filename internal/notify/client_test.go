package notify

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"camstream/internal/camera"
	"camstream/internal/config"
	"camstream/internal/netlink"
	"camstream/internal/telemetry"
)

const testToken = "123:abc"

var testPhoto = []byte{0xff, 0xd8, 'p', 'h', 'o', 't', 'o', 0xff, 0xd9}

type fixture struct {
	client   *Client
	pool     *camera.Pool
	link     *netlink.Static
	requests *atomic.Int64
}

func newFixture(t *testing.T, apiURL string, capture camera.CapturerFunc) *fixture {
	t.Helper()

	if capture == nil {
		capture = func(_ context.Context, buf []byte) (camera.Shot, error) {
			return camera.Shot{N: copy(buf, testPhoto), Format: camera.FormatJPEG}, nil
		}
	}
	pool, err := camera.NewPool(capture, camera.PoolConfig{Slots: 1, SlotCapacity: 4096}, nil)
	require.NoError(t, err)

	cfg := config.GetDefaultConfig().Telegram
	cfg.APIURL = apiURL
	cfg.BotToken = testToken
	cfg.ChatID = "42"
	cfg.ChunkSize = 4
	cfg.ChunkPause = 0
	cfg.ResponseTimeout = 200 * time.Millisecond

	link := netlink.NewStatic(true, netlink.Info{IP: "10.0.0.2"})
	journal := telemetry.New(telemetry.WithConsole(&zaptest.Buffer{}))

	return &fixture{
		client:   NewClient(cfg, pool, camera.NewEncoder(80), journal, link, zaptest.NewLogger(t)),
		pool:     pool,
		link:     link,
		requests: &atomic.Int64{},
	}
}

func (f *fixture) assertReleasedOnce(t *testing.T) {
	t.Helper()
	st := f.pool.Stats()
	assert.Equal(t, uint64(1), st.Acquired)
	assert.Equal(t, uint64(1), st.Released)
	assert.Zero(t, st.DoubleReleases)
	assert.Equal(t, int64(0), st.InUse)
}

func TestSendPhotoSuccess(t *testing.T) {
	var f *fixture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		assert.Equal(t, "/bot"+testToken+"/sendPhoto", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("chat_id"))
		assert.Equal(t, "ESP32-CAM", r.Header.Get("User-Agent"))

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		assert.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mediaType)
		assert.True(t, strings.HasPrefix(params["boundary"], "ESP32CAM-"))

		mr, err := r.MultipartReader()
		if !assert.NoError(t, err) {
			return
		}
		part, err := mr.NextPart()
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, "photo", part.FormName())
		assert.Equal(t, "esp32cam.jpg", part.FileName())
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

		data, err := io.ReadAll(part)
		assert.NoError(t, err)
		assert.Equal(t, testPhoto, data)

		_, err = mr.NextPart()
		assert.ErrorIs(t, err, io.EOF)

		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	}))
	defer srv.Close()

	f = newFixture(t, srv.URL, nil)
	ok, err := f.client.SendPhoto(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), f.requests.Load())
	f.assertReleasedOnce(t)
}

func TestSendPhotoRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, nil)
	ok, err := f.client.SendPhoto(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrRejected)
	f.assertReleasedOnce(t)
}

func TestSendPhotoCaptureFailure(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, func(context.Context, []byte) (camera.Shot, error) {
		return camera.Shot{}, errors.New("no sensor")
	})

	ok, err := f.client.SendPhoto(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, camera.ErrCaptureFailed)
	assert.Zero(t, requests.Load())

	st := f.pool.Stats()
	assert.Zero(t, st.Acquired)
	assert.Zero(t, st.Released)
	assert.Zero(t, st.DoubleReleases)
}

func TestSendPhotoConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	apiURL := srv.URL
	srv.Close()

	f := newFixture(t, apiURL, nil)
	ok, err := f.client.SendPhoto(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
	f.assertReleasedOnce(t)
}

func TestSendPhotoResponseTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, nil)
	start := time.Now()
	ok, err := f.client.SendPhoto(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	f.assertReleasedOnce(t)
}

func TestSendPhotoLinkDown(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, nil)
	f.link.Set(false)

	ok, err := f.client.SendPhoto(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLinkDown)
	assert.Zero(t, requests.Load())
	f.assertReleasedOnce(t)
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		wantOK bool
	}{
		{"ok", http.StatusOK, true},
		{"bad request", http.StatusBadRequest, false},
		{"server error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/bot"+testToken+"/sendMessage", r.URL.Path)
				assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
				assert.NoError(t, r.ParseForm())
				assert.Equal(t, "42", r.PostForm.Get("chat_id"))
				assert.Equal(t, "Camera IP: http://10.0.0.2", r.PostForm.Get("text"))
				assert.Equal(t, "HTML", r.PostForm.Get("parse_mode"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f := newFixture(t, srv.URL, nil)
			ok, err := f.client.SendMessage(context.Background(), "Camera IP: http://10.0.0.2")
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrRejected)
			}
			// сообщение не трогает камеру
			assert.Zero(t, f.pool.Stats().Acquired)
		})
	}
}

func TestSendMessageLinkDown(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, nil)
	f.link.Set(false)

	ok, err := f.client.SendMessage(context.Background(), "hello")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLinkDown)
	assert.Zero(t, requests.Load())
}

func TestNotConfigured(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1", nil)
	f.client.cfg.BotToken = ""

	ok, err := f.client.SendPhoto(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConfigured)

	ok, err = f.client.SendMessage(context.Background(), "x")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Zero(t, f.pool.Stats().Acquired)
}

func TestSendPhotoNoCamera(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1", nil)
	f.client.frames = nil

	ok, err := f.client.SendPhoto(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNoCamera)
}

func TestPacedReaderChunks(t *testing.T) {
	data := make([]byte, 2500)
	r := newPacedReader(context.Background(), data, 1024, time.Millisecond)

	var sizes []int
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, n)
	}
	assert.Equal(t, []int{1024, 1024, 452}, sizes)
}

func TestPacedReaderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newPacedReader(ctx, make([]byte, 10), 5, time.Hour)

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	cancel()
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)
}
