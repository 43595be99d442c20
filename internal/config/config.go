package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config представляет конфигурацию приложения
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// gRPC health endpoint
	GRPCPort string `yaml:"grpc_port"`

	Device   DeviceConfig   `yaml:"device"`
	Camera   CameraConfig   `yaml:"camera"`
	Telegram TelegramConfig `yaml:"telegram"`
	Logging  LoggingConfig  `yaml:"logging"`
	Network  NetworkConfig  `yaml:"network"`
	Security SecurityConfig `yaml:"security"`
}

// DeviceConfig описывает устройство в телеметрии
type DeviceConfig struct {
	Name string `yaml:"name"`
}

// CameraConfig настройки источника кадров
type CameraConfig struct {
	// Source: "pattern" или "files"
	Source         string        `yaml:"source"`
	FramesDir      string        `yaml:"frames_dir"`
	PoolSize       int           `yaml:"pool_size"`
	SlotCapacity   int           `yaml:"slot_capacity"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	CaptureDelay   time.Duration `yaml:"capture_delay"`
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
}

// TelegramConfig настройки чат-бота
type TelegramConfig struct {
	APIURL             string        `yaml:"api_url"`
	BotToken           string        `yaml:"bot_token"`
	ChatID             string        `yaml:"chat_id"`
	ChunkSize          int           `yaml:"chunk_size"`
	ChunkPause         time.Duration `yaml:"chunk_pause"`
	ResponseTimeout    time.Duration `yaml:"response_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	AnnounceOnStart    bool          `yaml:"announce_on_start"`
}

// LoggingConfig настройки логирования и коллектора
type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Debug          bool          `yaml:"debug"`
	CollectorURL   string        `yaml:"collector_url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	NTPServers     []string      `yaml:"ntp_servers"`
	NTPTimeout     time.Duration `yaml:"ntp_timeout"`
	// период записи системной статистики в журнал, 0 отключает
	StatsInterval  time.Duration `yaml:"stats_interval"`
	TailBuffer     int           `yaml:"tail_buffer"`
	TailMaxClients int           `yaml:"tail_max_clients"`
}

// NetworkConfig выбор сетевого интерфейса
type NetworkConfig struct {
	Interface string `yaml:"interface"`
}

// SecurityConfig настройки CORS
type SecurityConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoadConfig загружает конфигурацию из файла.
// Незаданные в файле поля берутся из GetDefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := GetDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// GetDefaultConfig возвращает конфигурацию по умолчанию
func GetDefaultConfig() *Config {
	return &Config{
		Host:     "0.0.0.0",
		Port:     8080,
		GRPCPort: "9090",
		Device: DeviceConfig{
			Name: "ESP32-CAM",
		},
		Camera: CameraConfig{
			Source:         "pattern",
			FramesDir:      "./frames",
			PoolSize:       2,
			SlotCapacity:   1024 * 1024, // 1MB
			AcquireTimeout: 500 * time.Millisecond,
			CaptureDelay:   66 * time.Millisecond,
			Width:          640,
			Height:         480,
			JPEGQuality:    80,
		},
		Telegram: TelegramConfig{
			APIURL:          "https://api.telegram.org",
			ChunkSize:       1024,
			ChunkPause:      time.Millisecond,
			ResponseTimeout: 10 * time.Second,
			AnnounceOnStart: true,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "console",
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    10 * time.Second,
			NTPServers:     []string{"pool.ntp.org", "time.nist.gov"},
			NTPTimeout:     5 * time.Second,
			StatsInterval:  5 * time.Minute,
			TailBuffer:     64,
			TailMaxClients: 8,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// ApplyEnv переопределяет конфигурацию из переменных окружения
func (c *Config) ApplyEnv() {
	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			c.Port = p
		}
	}

	if envDebug := os.Getenv("DEBUG"); envDebug != "" {
		if d, err := strconv.ParseBool(envDebug); err == nil {
			c.Logging.Debug = d
		}
	}

	if v := os.Getenv("CAMSTREAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("CAMSTREAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("CAMSTREAM_COLLECTOR_URL"); v != "" {
		c.Logging.CollectorURL = v
	}
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	switch c.Camera.Source {
	case "pattern", "files":
	default:
		errs = append(errs, fmt.Errorf("unknown camera source %q", c.Camera.Source))
	}
	if c.Camera.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("camera pool_size must be positive, got %d", c.Camera.PoolSize))
	}
	if c.Camera.SlotCapacity < 1 {
		errs = append(errs, fmt.Errorf("camera slot_capacity must be positive, got %d", c.Camera.SlotCapacity))
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("camera jpeg_quality must be in 1..100, got %d", c.Camera.JPEGQuality))
	}
	if c.Telegram.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("telegram chunk_size must be positive, got %d", c.Telegram.ChunkSize))
	}

	return errors.Join(errs...)
}

// Address возвращает адрес HTTP сервера
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
