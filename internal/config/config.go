package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	dbconfig "therapyline/pkg/database"
	"therapyline/pkg/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "THERAPYLINE_"

// Config is the process-wide configuration.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Requests  *RequestsConfig  `json:"requests"`
	Events    *EventsConfig    `json:"events"`
	Logging   *logger.Config   `json:"logging"`
	Directory *DirectoryConfig `json:"directory"`
}

// DatabaseConfig selects the request store backend.
type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Path           string        `json:"path"`
	DSN            string        `json:"dsn"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
	MigrationsPath string        `json:"migrations_path"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval     time.Duration `json:"ping_interval"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	BufferSize       int           `json:"buffer_size"`
}

// RequestsConfig tunes the request lifecycle. PendingTTL of zero keeps
// pending requests open until a therapist or the child acts on them.
type RequestsConfig struct {
	PendingTTL         time.Duration `json:"pending_ttl"`
	SweepInterval      time.Duration `json:"sweep_interval"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
}

// EventsConfig tunes notification dispatch. An empty AMQPURL disables the
// broker sink.
type EventsConfig struct {
	QueueSize    int    `json:"queue_size"`
	AMQPURL      string `json:"amqp_url"`
	AMQPExchange string `json:"amqp_exchange"`
}

type DirectoryConfig struct {
	SeedFile string `json:"seed_file"`
}

// DefaultConfig returns a single-node sqlite setup on port 8080.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:         dbconfig.DriverSQLite,
			Path:           "./therapyline.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			BufferSize:       100,
		},
		Requests: &RequestsConfig{
			PendingTTL:         0,
			SweepInterval:      time.Minute,
			RateLimitPerMinute: 60,
		},
		Events: &EventsConfig{
			QueueSize:    1000,
			AMQPExchange: "therapyline.events",
		},
		Logging: &logger.Config{
			Level:  "info",
			Format: "console",
		},
		Directory: &DirectoryConfig{},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if err := c.Database.StoreConfig().Validate(); err != nil {
		return err
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// Port 0 binds any free port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.HandshakeTimeout <= 0 {
		return fmt.Errorf("WebSocket handshake timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Requests == nil {
		return fmt.Errorf("requests configuration is required")
	}
	if c.Requests.PendingTTL < 0 {
		return fmt.Errorf("pending TTL cannot be negative")
	}
	if c.Requests.PendingTTL > 0 && c.Requests.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive when pending TTL is set")
	}
	if c.Requests.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit per minute must be positive")
	}

	if c.Events == nil {
		return fmt.Errorf("events configuration is required")
	}
	if c.Events.QueueSize <= 0 {
		return fmt.Errorf("event queue size must be positive")
	}
	if c.Events.AMQPURL != "" && c.Events.AMQPExchange == "" {
		return fmt.Errorf("AMQP exchange cannot be empty when AMQP URL is set")
	}

	if c.Logging == nil {
		return fmt.Errorf("logging configuration is required")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Directory == nil {
		return fmt.Errorf("directory configuration is required")
	}

	return nil
}

// StoreConfig converts to the database package configuration.
func (d *DatabaseConfig) StoreConfig() *dbconfig.Config {
	cfg := dbconfig.DefaultConfig()
	cfg.Driver = d.Driver
	cfg.DatabasePath = d.Path
	cfg.DSN = d.DSN
	cfg.MaxConnections = d.MaxConnections
	cfg.MigrationsPath = d.MigrationsPath
	cfg.WriteTimeout = d.Timeout
	return cfg
}

// Address is the HTTP listen address.
func (h *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// LoadFromEnv returns defaults overridden by THERAPYLINE_* variables.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

// applyEnv overrides fields from the environment. Unparseable values are ignored.
func applyEnv(config *Config) {
	envString("DATABASE_DRIVER", &config.Database.Driver)
	envString("DATABASE_PATH", &config.Database.Path)
	envString("DATABASE_DSN", &config.Database.DSN)
	envString("DATABASE_MIGRATIONS_PATH", &config.Database.MigrationsPath)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)

	envInt("HTTP_PORT", &config.HTTP.Port)
	envString("HTTP_HOST", &config.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envDuration("WEBSOCKET_HANDSHAKE_TIMEOUT", &config.WebSocket.HandshakeTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)

	envDuration("REQUESTS_PENDING_TTL", &config.Requests.PendingTTL)
	envDuration("REQUESTS_SWEEP_INTERVAL", &config.Requests.SweepInterval)
	envInt("REQUESTS_RATE_LIMIT_PER_MINUTE", &config.Requests.RateLimitPerMinute)

	envInt("EVENTS_QUEUE_SIZE", &config.Events.QueueSize)
	envString("EVENTS_AMQP_URL", &config.Events.AMQPURL)
	envString("EVENTS_AMQP_EXCHANGE", &config.Events.AMQPExchange)

	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)

	envString("DIRECTORY_SEED_FILE", &config.Directory.SeedFile)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
