package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"camstream/internal/camera"
	"camstream/internal/config"
	"camstream/internal/gateway"
	"camstream/internal/grpc_server"
	"camstream/internal/handler"
	"camstream/internal/metrics"
	"camstream/internal/netlink"
	"camstream/internal/notify"
	"camstream/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// Application - основное приложение
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	journal    *telemetry.Logger
	link       netlink.Link
	pool       *camera.Pool
	cameraErr  error
	encoder    *camera.Encoder
	notifier   *notify.Client
	logTail    *gateway.ClientManager
	grpcServer *grpc_server.HealthServer
	router     http.Handler
	server     *http.Server
	cancelBase context.CancelFunc
}

// Option настройка приложения
type Option func(*options)

type options struct {
	link    netlink.Link
	console zapcore.WriteSyncer
}

// WithLink подменяет источник состояния сети
func WithLink(link netlink.Link) Option {
	return func(o *options) { o.link = link }
}

// WithConsole направляет консоль журнала в w
func WithConsole(w zapcore.WriteSyncer) Option {
	return func(o *options) { o.console = w }
}

// NewApplicationWithConfig создает новое приложение с конфигурацией.
// Ошибка инициализации камеры не прерывает запуск: видео отключается, остальное работает.
func NewApplicationWithConfig(cfg *config.Config, logger *zap.Logger, opts ...Option) *Application {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.link == nil {
		o.link = netlink.NewInterfaceLink(cfg.Network.Interface)
	}

	journalOpts := []telemetry.Option{
		telemetry.WithDiagnostics(logger),
		telemetry.WithLink(o.link),
	}
	if o.console != nil {
		journalOpts = append(journalOpts, telemetry.WithConsole(o.console))
	}
	journal := telemetry.New(journalOpts...)

	logTail := gateway.NewClientManager(cfg.Logging.TailBuffer, cfg.Logging.TailMaxClients, logger)
	journal.AddSink(logTail)

	// Создаем камеру
	pool, cameraErr := camera.Open(cfg.Camera, cfg.Device.Name, logger)
	if cameraErr != nil {
		logger.Error("Camera unavailable, video endpoints disabled", zap.Error(cameraErr))
	}
	encoder := camera.NewEncoder(cfg.Camera.JPEGQuality)

	// Создаем сервисы
	var frames notify.FrameSource
	if pool != nil {
		frames = pool
	}
	notifier := notify.NewClient(cfg.Telegram, frames, encoder, journal, o.link, logger)

	grpcServer := grpc_server.NewHealthServer(logger)
	grpcServer.SetCameraServing(pool != nil)

	// Создаем хендлеры
	cameraHandler := handler.NewCameraHandler(logger, journal, pool, encoder, notifier, o.link)
	tailHandler := gateway.NewLogTail(logTail, cfg.Security.AllowedOrigins, logger)

	// Создаем роутер
	router := NewRouter(cfg, cameraHandler, tailHandler, metrics.Handler(metrics.NewRegistry()), logger)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		journal:    journal,
		link:       o.link,
		pool:       pool,
		cameraErr:  cameraErr,
		encoder:    encoder,
		notifier:   notifier,
		logTail:    logTail,
		grpcServer: grpcServer,
		router:     router,
		server:     server,
		cancelBase: cancelBase,
	}
}

// Init инициализирует журнал: синхронизация часов и проверка коллектора
func (app *Application) Init(ctx context.Context) {
	app.journal.Init(ctx, telemetry.SettingsFromConfig(app.config))
}

// Boot выполняет стартовую последовательность сервера
func (app *Application) Boot(ctx context.Context) {
	app.Init(ctx)

	if app.cameraErr != nil {
		app.journal.Criticalf("Issue with camera initialization: %v", app.cameraErr)
	} else {
		app.journal.Info("Camera initialized successfully")
	}

	if app.link.Up() {
		info := app.link.Info()
		app.journal.Infof("Network connected: interface=%s ip=%s", info.Interface, info.IP)
	} else {
		app.journal.Warning("Network link down")
	}

	app.announce(ctx)
}

// announce сообщает адрес камеры в чат
func (app *Application) announce(ctx context.Context) {
	if !app.config.Telegram.AnnounceOnStart || !app.notifier.Configured() {
		return
	}

	ok, err := app.notifier.SendMessage(ctx, "Camera IP: "+app.CameraURL())
	if !ok {
		app.journal.Warning("Failed to send Telegram message, but continuing anyway")
		app.logger.Debug("Announce failed", zap.Error(err))
	}
}

// CameraURL адрес страницы потока
func (app *Application) CameraURL() string {
	host := app.link.Info().IP
	if host == "" {
		host = app.config.Host
	}
	if app.config.Port == 80 {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(app.config.Port))
}

// Run запускает HTTP и gRPC серверы и блокируется до отмены ctx или ошибки сервера
func (app *Application) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.server.Addr, err)
	}
	grpcLis, err := net.Listen("tcp", ":"+app.config.GRPCPort)
	if err != nil {
		_ = lis.Close()
		return fmt.Errorf("failed to listen on grpc port %s: %w", app.config.GRPCPort, err)
	}
	return app.serve(ctx, lis, grpcLis)
}

func (app *Application) serve(ctx context.Context, lis, grpcLis net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("Starting HTTP server", zap.String("address", lis.Addr().String()))
		if err := app.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return app.grpcServer.Serve(grpcLis)
	})

	if interval := app.config.Logging.StatsInterval; interval > 0 {
		g.Go(func() error {
			app.reportStats(gctx, interval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return app.Stop()
	})

	return g.Wait()
}

func (app *Application) reportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.journal.LogSystemStats()
		}
	}
}

// Stop останавливает приложение: обрывает потоки, закрывает подписчиков и серверы
func (app *Application) Stop() error {
	app.logger.Info("Stopping application")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	app.cancelBase()
	app.logTail.CloseAll()

	err := app.server.Shutdown(ctx)
	app.grpcServer.Stop()

	if app.pool != nil {
		if cerr := app.pool.Close(); cerr != nil {
			app.logger.Warn("Camera close failed", zap.Error(cerr))
		}
	}

	app.journal.PrintStatistics()
	_ = app.journal.Sync()

	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// GetRouter возвращает роутер
func (app *Application) GetRouter() http.Handler {
	return app.router
}

// Journal возвращает журнал устройства
func (app *Application) Journal() *telemetry.Logger {
	return app.journal
}

// Notifier возвращает клиента чат-бота
func (app *Application) Notifier() *notify.Client {
	return app.notifier
}

// CameraAvailable сообщает, инициализирована ли камера
func (app *Application) CameraAvailable() bool {
	return app.pool != nil
}
