package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"camstream/internal/config"
	"camstream/internal/netlink"
)

// Record запись журнала. Не изменяется после создания.
type Record struct {
	Level     Level    `json:"level"`
	Timestamp string   `json:"@timestamp"`
	Message   string   `json:"message"`
	Device    string   `json:"device"`
	Snapshot  Snapshot `json:"snapshot"`
}

// Sink получатель записей журнала (например, трансляция логов по websocket).
// Publish вызывается синхронно из Log и не должен блокироваться.
type Sink interface {
	Publish(Record)
}

// SinkFunc адаптер функции к Sink
type SinkFunc func(Record)

func (f SinkFunc) Publish(r Record) { f(r) }

// Settings параметры, применяемые в Init
type Settings struct {
	CollectorURL   string
	Device         string
	Debug          bool
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	NTPServers     []string
	NTPTimeout     time.Duration
}

// SettingsFromConfig собирает Settings из конфигурации приложения
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		CollectorURL:   cfg.Logging.CollectorURL,
		Device:         cfg.Device.Name,
		Debug:          cfg.Logging.Debug,
		ConnectTimeout: cfg.Logging.ConnectTimeout,
		ReadTimeout:    cfg.Logging.ReadTimeout,
		NTPServers:     cfg.Logging.NTPServers,
		NTPTimeout:     cfg.Logging.NTPTimeout,
	}
}

// Stats счетчики доставки в коллектор
type Stats struct {
	Attempts    uint64  `json:"attempts"`
	Successes   uint64  `json:"successes"`
	Failures    uint64  `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
}

type state int

const (
	stateUninitialized state = iota
	stateInitializing
	stateInitialized
)

// Logger журнал устройства: консоль, локальные получатели и удаленный коллектор.
// Создается явно и передается компонентам; до Init пишет только в консоль.
type Logger struct {
	mu       sync.RWMutex
	state    state
	settings Settings
	client   *http.Client

	consoleOut zapcore.WriteSyncer
	console    *zap.Logger
	diag       *zap.Logger
	clock      *Clock
	link       netlink.Link
	snapshots  *sampler

	sinkMu sync.RWMutex
	sinks  []Sink

	attempts  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
}

// Option настройка Logger
type Option func(*Logger)

// WithConsole задает вывод консоли (по умолчанию stdout)
func WithConsole(w zapcore.WriteSyncer) Option {
	return func(l *Logger) {
		l.consoleOut = w
	}
}

// WithDiagnostics задает zap логгер для служебной диагностики доставки
func WithDiagnostics(logger *zap.Logger) Option {
	return func(l *Logger) {
		l.diag = logger
	}
}

// WithClock задает часы
func WithClock(clock *Clock) Option {
	return func(l *Logger) {
		l.clock = clock
	}
}

// WithLink задает источник состояния сети
func WithLink(link netlink.Link) Option {
	return func(l *Logger) {
		l.link = link
	}
}

// WithHTTPClient задает HTTP клиент коллектора вместо собираемого в Init
func WithHTTPClient(client *http.Client) Option {
	return func(l *Logger) {
		l.client = client
	}
}

// New создает Logger
func New(opts ...Option) *Logger {
	l := &Logger{
		settings: Settings{Device: config.GetDefaultConfig().Device.Name},
		clock:    NewClock(),
		diag:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.consoleOut == nil {
		l.consoleOut = zapcore.Lock(os.Stdout)
	}
	l.console = newConsole(l.consoleOut, l.clock)
	l.snapshots = newSampler(l.clock, l.link)

	return l
}

// Init применяет настройки, синхронизирует время и проверяет коллектор.
// Выполняется один раз; повторные вызовы ничего не делают и возвращают false.
func (l *Logger) Init(ctx context.Context, s Settings) bool {
	l.mu.Lock()
	if l.state != stateUninitialized {
		l.mu.Unlock()
		return false
	}
	l.state = stateInitializing

	if s.Device == "" {
		s.Device = l.settings.Device
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = 5 * time.Second
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 10 * time.Second
	}
	l.settings = s
	if l.client == nil {
		l.client = newCollectorClient(s.ConnectTimeout, s.ReadTimeout)
	}
	l.mu.Unlock()

	l.diag.Info("Telemetry logger initializing",
		zap.String("device", s.Device),
		zap.String("collector_url", s.CollectorURL),
		zap.Bool("debug", s.Debug))

	if len(s.NTPServers) > 0 {
		if err := l.clock.Sync(ctx, s.NTPServers, s.NTPTimeout); err != nil {
			l.diag.Warn("NTP sync failed, using uptime for timestamps", zap.Error(err))
		} else {
			l.diag.Info("NTP synchronized", zap.String("time", l.clock.ISOTimestamp()))
		}
	}

	l.mu.Lock()
	l.state = stateInitialized
	l.mu.Unlock()

	l.diag.Info("Telemetry logger initialized")

	if s.CollectorURL != "" {
		l.TestCollectorConnection(ctx)
	}

	return true
}

// Initialized сообщает, завершен ли Init
func (l *Logger) Initialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == stateInitialized
}

// AddSink подключает локального получателя записей
func (l *Logger) AddSink(s Sink) {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Log пишет запись в консоль всегда, затем получателям и, если задан URL, в коллектор
func (l *Logger) Log(level Level, msg string) {
	l.console.Log(level.zapLevel(), msg)

	s, client := l.current()
	rec := Record{
		Level:     level,
		Timestamp: l.clock.ISOTimestamp(),
		Message:   msg,
		Device:    s.Device,
		Snapshot:  l.snapshots.collect(),
	}

	l.publish(rec)

	if s.CollectorURL != "" {
		l.deliver(rec, s, client)
	}
}

// Debug пишет запись уровня DEBUG, только если включен режим отладки
func (l *Logger) Debug(msg string) {
	if l.DebugEnabled() {
		l.Log(LevelDebug, msg)
	}
}

func (l *Logger) Info(msg string)     { l.Log(LevelInfo, msg) }
func (l *Logger) Warning(msg string)  { l.Log(LevelWarning, msg) }
func (l *Logger) Error(msg string)    { l.Log(LevelError, msg) }
func (l *Logger) Critical(msg string) { l.Log(LevelCritical, msg) }

func (l *Logger) Debugf(format string, args ...any) {
	if l.DebugEnabled() {
		l.Log(LevelDebug, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Infof(format string, args ...any) {
	l.Log(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warningf(format string, args ...any) {
	l.Log(LevelWarning, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.Log(LevelError, fmt.Sprintf(format, args...))
}

func (l *Logger) Criticalf(format string, args ...any) {
	l.Log(LevelCritical, fmt.Sprintf(format, args...))
}

// DebugEnabled сообщает, включен ли режим отладки
func (l *Logger) DebugEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings.Debug
}

// Stats возвращает снимок счетчиков доставки
func (l *Logger) Stats() Stats {
	attempts := l.attempts.Load()
	st := Stats{
		Attempts:  attempts,
		Successes: l.successes.Load(),
		Failures:  l.failures.Load(),
	}
	if attempts > 0 {
		st.SuccessRate = float64(st.Successes) / float64(attempts) * 100
	}
	return st
}

// Clock часы журнала
func (l *Logger) Clock() *Clock {
	return l.clock
}

// Sync сбрасывает буфер консоли
func (l *Logger) Sync() error {
	return l.console.Sync()
}

func (l *Logger) current() (Settings, *http.Client) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings, l.client
}

func (l *Logger) publish(rec Record) {
	l.sinkMu.RLock()
	defer l.sinkMu.RUnlock()
	for _, s := range l.sinks {
		s.Publish(rec)
	}
}

func newCollectorClient(connect, read time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
			ResponseHeaderTimeout: read,
			DisableKeepAlives:     true,
		},
		Timeout: connect + read,
	}
}
