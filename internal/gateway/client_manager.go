package gateway

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"camstream/internal/telemetry"
)

// ErrTooManyClients превышен лимит подписчиков
var ErrTooManyClients = errors.New("too many log tail clients")

// ClientInfo информация о подписчике журнала
type ClientInfo struct {
	ConnectionID string
	RemoteAddr   string
	UserAgent    string
	ConnectedAt  time.Time
	SendChan     chan telemetry.Record

	lastSeen atomic.Int64
	sent     atomic.Uint64
	dropped  atomic.Uint64
}

// Touch отмечает активность клиента
func (c *ClientInfo) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen время последней активности
func (c *ClientInfo) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Dropped число записей, не доставленных из-за переполнения буфера
func (c *ClientInfo) Dropped() uint64 {
	return c.dropped.Load()
}

// ClientStats снимок состояния подписчика
type ClientStats struct {
	ConnectionID string    `json:"connection_id"`
	RemoteAddr   string    `json:"remote_addr"`
	UserAgent    string    `json:"user_agent"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
	Sent         uint64    `json:"sent"`
	Dropped      uint64    `json:"dropped"`
}

// ClientManager управляет подписчиками живого журнала.
// Реализует telemetry.Sink: Publish никогда не блокирует вызывающего.
type ClientManager struct {
	clients    map[string]*ClientInfo
	mu         sync.RWMutex
	bufferSize int
	maxClients int
	closed     bool
	logger     *zap.Logger
}

var _ telemetry.Sink = (*ClientManager)(nil)

// NewClientManager создает новый менеджер клиентов
func NewClientManager(bufferSize, maxClients int, logger *zap.Logger) *ClientManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &ClientManager{
		clients:    make(map[string]*ClientInfo),
		bufferSize: bufferSize,
		maxClients: maxClients,
		logger:     logger,
	}
}

// RegisterClient регистрирует нового подписчика
func (m *ClientManager) RegisterClient(remoteAddr, userAgent string) (*ClientInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("client manager closed")
	}
	if m.maxClients > 0 && len(m.clients) >= m.maxClients {
		return nil, ErrTooManyClients
	}

	client := &ClientInfo{
		ConnectionID: uuid.New().String(),
		RemoteAddr:   remoteAddr,
		UserAgent:    userAgent,
		ConnectedAt:  time.Now(),
		SendChan:     make(chan telemetry.Record, m.bufferSize),
	}
	client.Touch()
	m.clients[client.ConnectionID] = client

	m.logger.Info("Log tail client registered",
		zap.String("connection_id", client.ConnectionID),
		zap.String("remote_addr", remoteAddr),
		zap.Int("clients", len(m.clients)))

	return client, nil
}

// RemoveClient удаляет клиента и закрывает его канал
func (m *ClientManager) RemoveClient(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[connectionID]
	if !ok {
		return
	}
	delete(m.clients, connectionID)
	close(client.SendChan)

	m.logger.Info("Log tail client removed",
		zap.String("connection_id", connectionID),
		zap.Uint64("dropped", client.dropped.Load()),
		zap.Int("clients", len(m.clients)))
}

// Publish рассылает запись всем подписчикам. Медленный клиент теряет запись.
func (m *ClientManager) Publish(rec telemetry.Record) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, client := range m.clients {
		select {
		case client.SendChan <- rec:
			client.sent.Add(1)
		default:
			client.dropped.Add(1)
		}
	}
}

// GetClient возвращает клиента по идентификатору
func (m *ClientManager) GetClient(connectionID string) (*ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[connectionID]
	return client, ok
}

// GetActiveClientCount возвращает количество подписчиков
func (m *ClientManager) GetActiveClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Snapshot состояние всех подписчиков
func (m *ClientManager) Snapshot() []ClientStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ClientStats, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, ClientStats{
			ConnectionID: c.ConnectionID,
			RemoteAddr:   c.RemoteAddr,
			UserAgent:    c.UserAgent,
			ConnectedAt:  c.ConnectedAt,
			LastSeen:     c.LastSeen(),
			Sent:         c.sent.Load(),
			Dropped:      c.dropped.Load(),
		})
	}
	return out
}

// CleanupInactiveClients удаляет клиентов, неактивных дольше timeout
func (m *ClientManager) CleanupInactiveClients(timeout time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	deadline := time.Now().Add(-timeout)
	for id, client := range m.clients {
		if client.LastSeen().Before(deadline) {
			delete(m.clients, id)
			close(client.SendChan)
			removed++
			m.logger.Info("Removed inactive log tail client", zap.String("connection_id", id))
		}
	}
	return removed
}

// CloseAll закрывает всех клиентов и запрещает новые подключения
func (m *ClientManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, client := range m.clients {
		close(client.SendChan)
		delete(m.clients, id)
	}
	m.logger.Info("All log tail clients closed")
}
