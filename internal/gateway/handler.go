// Package gateway транслирует записи журнала подписчикам по WebSocket.
package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// LogTail HTTP обработчик живого журнала
type LogTail struct {
	clients    *ClientManager
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	pingPeriod time.Duration
}

// NewLogTail создает обработчик. allowedOrigins пустой или "*" разрешает любой Origin.
func NewLogTail(clients *ClientManager, allowedOrigins []string, logger *zap.Logger) *LogTail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTail{
		clients: clients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
		logger:     logger,
		pingPeriod: pingPeriod,
	}
}

// RegisterRoutes регистрирует маршрут подписки
func (h *LogTail) RegisterRoutes(router gin.IRoutes) {
	router.GET("/ws/logs", h.ServeWS)
}

// ServeWS обновляет соединение до WebSocket и пишет в него записи журнала до отключения клиента
func (h *LogTail) ServeWS(c *gin.Context) {
	client, err := h.clients.RegisterClient(c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrTooManyClients) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.clients.RemoveClient(client.ConnectionID)
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer func() {
		h.clients.RemoveClient(client.ConnectionID)
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go h.readLoop(conn, client, done)
	h.writeLoop(conn, client, done)
}

// readLoop читает управляющие кадры; данные от клиента игнорируются
func (h *LogTail) readLoop(conn *websocket.Conn, client *ClientInfo, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		client.Touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		client.Touch()
	}
}

func (h *LogTail) writeLoop(conn *websocket.Conn, client *ClientInfo, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-client.SendChan:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				h.logger.Debug("WebSocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
