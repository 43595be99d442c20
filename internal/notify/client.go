// Package notify отправляет фото и текстовые сообщения через Telegram Bot API.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"camstream/internal/camera"
	"camstream/internal/config"
	"camstream/internal/metrics"
	"camstream/internal/netlink"
	"camstream/internal/telemetry"
)

var (
	// ErrLinkDown нет сетевого подключения
	ErrLinkDown = errors.New("network link is down")
	// ErrNotConfigured не задан токен бота или chat id
	ErrNotConfigured = errors.New("telegram bot token or chat id not configured")
	// ErrRejected API ответил без подтверждения доставки
	ErrRejected = errors.New("telegram api rejected request")
	// ErrNoCamera камера не инициализирована
	ErrNoCamera = errors.New("camera not available")
)

const (
	userAgent     = "ESP32-CAM"
	photoField    = "photo"
	photoFilename = "esp32cam.jpg"
	// ограничение на чтение тела ответа API
	maxResponseBody = 64 * 1024
)

// FrameSource источник кадров со scoped захватом
type FrameSource interface {
	With(ctx context.Context, fn func(*camera.Frame) error) error
}

// Client клиент API чат-бота
type Client struct {
	cfg     config.TelegramConfig
	frames  FrameSource
	encoder *camera.Encoder
	journal *telemetry.Logger
	link    netlink.Link
	http    *http.Client
	logger  *zap.Logger

	now func() time.Time
}

// NewClient создает новый клиент
func NewClient(cfg config.TelegramConfig, frames FrameSource, encoder *camera.Encoder,
	journal *telemetry.Logger, link netlink.Link, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ResponseTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ResponseTimeout,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
		DisableKeepAlives:     true,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	return &Client{
		cfg:     cfg,
		frames:  frames,
		encoder: encoder,
		journal: journal,
		link:    link,
		http:    &http.Client{Transport: transport},
		logger:  logger,
		now:     time.Now,
	}
}

// Configured сообщает, заданы ли токен и chat id
func (c *Client) Configured() bool {
	return c.cfg.BotToken != "" && c.cfg.ChatID != ""
}

// SendPhoto захватывает кадр и отправляет его в чат.
// Кадр возвращается в пул ровно один раз на любом пути выхода.
func (c *Client) SendPhoto(ctx context.Context) (bool, error) {
	if !c.Configured() {
		return false, ErrNotConfigured
	}
	if c.frames == nil {
		return false, ErrNoCamera
	}

	start := time.Now()
	c.journal.Info("Capturing photo")

	captured := false
	err := c.frames.With(ctx, func(f *camera.Frame) error {
		captured = true
		return c.uploadPhoto(ctx, f)
	})

	ok := err == nil
	metrics.RecordNotification("photo", metrics.StatusOf(ok), time.Since(start).Seconds())

	if !captured {
		metrics.RecordAcquireFailure("notify")
		c.journal.Error("Camera capture failed")
		return false, fmt.Errorf("capture photo: %w", err)
	}
	if err != nil {
		c.journal.Error("Failed to send photo")
		return false, err
	}

	c.journal.Info("Photo sent successfully!")
	return true, nil
}

func (c *Client) uploadPhoto(ctx context.Context, f *camera.Frame) error {
	var buf bytes.Buffer
	payload, err := c.encoder.Encode(f, &buf)
	if err != nil {
		return fmt.Errorf("encode photo: %w", err)
	}
	c.journal.Infof("Photo captured, size: %d bytes", len(payload))

	if c.link != nil && !c.link.Up() {
		c.journal.Error("Connection failed")
		return ErrLinkDown
	}

	boundary := "ESP32CAM-" + strconv.FormatInt(c.now().UnixMilli(), 10)
	head := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"" + photoField + "\"; filename=\"" + photoFilename + "\"\r\n" +
		"Content-Type: image/jpeg\r\n\r\n"
	tail := "\r\n--" + boundary + "--\r\n"

	body := io.MultiReader(
		strings.NewReader(head),
		newPacedReader(ctx, payload, c.cfg.ChunkSize, c.cfg.ChunkPause),
		strings.NewReader(tail),
	)

	endpoint := c.methodURL("sendPhoto") + "?chat_id=" + url.QueryEscape(c.cfg.ChatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create sendPhoto request: %w", err)
	}
	req.ContentLength = int64(len(head) + len(payload) + len(tail))
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	req.Header.Set("User-Agent", userAgent)
	req.Close = true

	c.journal.Info("Sending photo data...")
	resp, err := c.http.Do(req)
	if err != nil {
		c.journal.Error("Connection failed or response timeout")
		c.logger.Warn("sendPhoto request failed", zap.Error(err))
		return fmt.Errorf("sendPhoto request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read sendPhoto response: %w", err)
	}
	c.logger.Debug("sendPhoto response",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", respBody))

	if !bytes.Contains(respBody, []byte(`"ok":true`)) {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	return nil
}

// SendMessage отправляет текстовое сообщение. Успех только при ответе 2xx.
func (c *Client) SendMessage(ctx context.Context, text string) (bool, error) {
	if !c.Configured() {
		return false, ErrNotConfigured
	}
	if c.link != nil && !c.link.Up() {
		c.journal.Error("Network link down, cannot send message")
		return false, ErrLinkDown
	}

	start := time.Now()
	c.journal.Info("Preparing to send message to Telegram")

	form := url.Values{
		"chat_id":    {c.cfg.ChatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("create sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordNotification("message", metrics.StatusFailure, time.Since(start).Seconds())
		c.journal.Errorf("Error on HTTP request: %v", err)
		return false, fmt.Errorf("sendMessage request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	metrics.RecordNotification("message", metrics.StatusOf(ok), time.Since(start).Seconds())
	c.journal.Infof("HTTP Response code: %d", resp.StatusCode)

	if !ok {
		return false, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return true, nil
}

func (c *Client) methodURL(method string) string {
	return strings.TrimRight(c.cfg.APIURL, "/") + "/bot" + c.cfg.BotToken + "/" + method
}

// pacedReader отдает данные порциями chunk байт с паузой между порциями
type pacedReader struct {
	ctx   context.Context
	data  []byte
	chunk int
	pause time.Duration
	sent  int
}

func newPacedReader(ctx context.Context, data []byte, chunk int, pause time.Duration) *pacedReader {
	if chunk <= 0 {
		chunk = len(data)
	}
	return &pacedReader{ctx: ctx, data: data, chunk: chunk, pause: pause}
}

func (r *pacedReader) Read(p []byte) (int, error) {
	if r.sent >= len(r.data) {
		return 0, io.EOF
	}
	if r.sent > 0 && r.pause > 0 {
		timer := time.NewTimer(r.pause)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return 0, r.ctx.Err()
		case <-timer.C:
		}
	}

	end := r.sent + r.chunk
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.sent:end])
	r.sent += n
	return n, nil
}
