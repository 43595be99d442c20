package commands

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"camstream/internal/config"
)

// CommandContext содержит общий контекст для всех команд
type CommandContext struct {
	Logger *zap.Logger
	Config *config.Config
}

// NewCommandContext создает новый контекст команды
func NewCommandContext(c *cli.Context) (*CommandContext, error) {
	cfg, loadErr := loadConfig(c.String("config"))

	cfg.ApplyEnv()
	if c.IsSet("debug") {
		cfg.Logging.Debug = c.Bool("debug")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}

	// Настраиваем логгер
	logger, err := createLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if loadErr != nil {
		logger.Warn("Failed to load config, using defaults", zap.Error(loadErr))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Logging.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &CommandContext{
		Logger: logger,
		Config: cfg,
	}, nil
}

// loadConfig загружает конфигурацию; при ошибке возвращает значения по умолчанию
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return config.GetDefaultConfig(), nil
	}
	return config.GetDefaultConfig(), err
}

// createLogger создает логгер
func createLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var logLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		logLevel = zap.DebugLevel
	case "warn":
		logLevel = zap.WarnLevel
	case "error":
		logLevel = zap.ErrorLevel
	default:
		logLevel = zap.InfoLevel
	}
	if cfg.Debug {
		logLevel = zap.DebugLevel
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(logLevel)

	return zc.Build()
}
