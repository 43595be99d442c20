package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"camstream/internal/config"
	"camstream/internal/gateway"
	"camstream/internal/handler"
)

// NewRouter создает новый роутер с настройкой маршрутов
func NewRouter(
	cfg *config.Config,
	cameraHandler *handler.CameraHandler,
	logTail *gateway.LogTail,
	metricsHandler http.Handler,
	logger *zap.Logger,
) http.Handler {
	router := newEngine(logger)

	cameraHandler.RegisterRoutes(router)
	logTail.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	// 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested resource was not found",
			"path":    c.Request.URL.Path,
			"suggestions": []string{
				"Check /health for service status",
				"Open / to watch the stream",
				"Check /stats for camera and logger statistics",
			},
		})
	})

	return corsHandler(cfg.Security.AllowedOrigins).Handler(router)
}

func newEngine(logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			logger.Info("HTTP Request",
				zap.String("method", param.Method),
				zap.String("path", param.Path),
				zap.Int("status", param.StatusCode),
				zap.Duration("latency", param.Latency),
				zap.String("client_ip", param.ClientIP),
			)
			return ""
		},
		SkipPaths: []string{"/metrics"},
	}))
	router.Use(gin.Recovery())

	return router
}

// corsHandler настраивает CORS
func corsHandler(allowedOrigins []string) *cors.Cors {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type", "Content-Length", "Accept-Encoding",
			"Authorization", "Accept", "Origin", "Cache-Control", "X-Requested-With",
		},
	})
}
