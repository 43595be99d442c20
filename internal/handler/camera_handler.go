package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"camstream/internal/camera"
	"camstream/internal/netlink"
	"camstream/internal/stream"
	"camstream/internal/telemetry"
)

const indexPage = "<html><head><title>ESP32-CAM Stream</title></head><body>" +
	"<h1>ESP32-CAM VideoStream</h1>" +
	"<img src='/stream' width='640' height='480'>" +
	"</body></html>"

const (
	shotSentMessage   = "Photo captured and sent to Telegram"
	shotFailedMessage = "Failed to capture or send photo"
	noCameraMessage   = "Camera not available"
)

// Photographer отправляет снимок получателю
type Photographer interface {
	SendPhoto(ctx context.Context) (bool, error)
}

// CameraHandler обрабатывает HTTP запросы камеры
type CameraHandler struct {
	logger   *zap.Logger
	journal  *telemetry.Logger
	pool     *camera.Pool
	encoder  *camera.Encoder
	notifier Photographer
	link     netlink.Link
}

// NewCameraHandler создает новый хендлер. pool равен nil, если камера не инициализирована.
func NewCameraHandler(
	logger *zap.Logger,
	journal *telemetry.Logger,
	pool *camera.Pool,
	encoder *camera.Encoder,
	notifier Photographer,
	link netlink.Link,
) *CameraHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CameraHandler{
		logger:   logger,
		journal:  journal,
		pool:     pool,
		encoder:  encoder,
		notifier: notifier,
		link:     link,
	}
}

// RegisterRoutes регистрирует маршруты
func (h *CameraHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/", h.Index)
	router.GET("/stream", h.Stream)
	router.GET("/shot", h.Shot)
	router.GET("/health", h.Health)
	router.GET("/stats", h.Stats)
}

// CameraAvailable сообщает, инициализирована ли камера
func (h *CameraHandler) CameraAvailable() bool {
	return h.pool != nil
}

// Index отдает страницу с потоком
func (h *CameraHandler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html", []byte(indexPage))
}

// Stream отдает MJPEG поток до отключения клиента
func (h *CameraHandler) Stream(c *gin.Context) {
	if !h.CameraAvailable() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": noCameraMessage})
		return
	}

	c.Header("Content-Type", stream.ContentType)
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Header("Connection", "close")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	h.journal.Info("Stream requested")

	session := stream.NewSession(h.pool, h.encoder, h.journal, h.logger)
	err := session.Run(c.Request.Context(), c.Writer)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("Stream session finished",
			zap.String("session_id", session.ID()),
			zap.Error(err))
	}
}

type shotResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Shot делает снимок и отправляет его в чат
func (h *CameraHandler) Shot(c *gin.Context) {
	h.journal.Info("Capture photo request received")
	c.Header("Access-Control-Allow-Origin", "*")

	if !h.CameraAvailable() || h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, shotResponse{Success: false, Message: noCameraMessage})
		return
	}

	ok, err := h.notifier.SendPhoto(c.Request.Context())
	if err != nil {
		h.logger.Warn("Photo request failed", zap.Error(err))
	}

	resp := shotResponse{Success: ok, Message: shotFailedMessage}
	if ok {
		resp.Message = shotSentMessage
	}
	c.JSON(http.StatusOK, resp)
}

// Health проверка живости
func (h *CameraHandler) Health(c *gin.Context) {
	h.journal.Info("Health request received")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, "text/plain", []byte("OK"))
}

// Stats возвращает статистику журнала, пула кадров и сети
func (h *CameraHandler) Stats(c *gin.Context) {
	resp := gin.H{
		"logger":           h.journal.Stats(),
		"camera_available": h.CameraAvailable(),
		"uptime_ms":        h.journal.Clock().Uptime().Milliseconds(),
		"clock_synced":     h.journal.Clock().Synced(),
	}
	if h.pool != nil {
		resp["frames"] = h.pool.Stats()
	}
	if h.link != nil {
		info := h.link.Info()
		resp["network"] = gin.H{
			"up":        h.link.Up(),
			"interface": info.Interface,
			"ip":        info.IP,
			"netmask":   info.Netmask,
			"mac":       info.MAC,
		}
	}
	c.JSON(http.StatusOK, resp)
}
