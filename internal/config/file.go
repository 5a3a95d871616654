package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile mirrors Config for YAML decoding, with durations as strings
// such as "30s" or "15m".
type ConfigFile struct {
	Database  *DatabaseConfigFile  `yaml:"database"`
	HTTP      *HTTPConfigFile      `yaml:"http"`
	WebSocket *WebSocketConfigFile `yaml:"websocket"`
	Requests  *RequestsConfigFile  `yaml:"requests"`
	Events    *EventsConfigFile    `yaml:"events"`
	Logging   *LoggingConfigFile   `yaml:"logging"`
	Directory *DirectoryConfigFile `yaml:"directory"`
}

type DatabaseConfigFile struct {
	Driver         string `yaml:"driver"`
	Path           string `yaml:"path"`
	DSN            string `yaml:"dsn"`
	Timeout        string `yaml:"timeout"`
	MaxConnections *int   `yaml:"max_connections"`
	MigrationsPath string `yaml:"migrations_path"`
}

type HTTPConfigFile struct {
	Port         *int   `yaml:"port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	Host         string `yaml:"host"`
}

type WebSocketConfigFile struct {
	PingInterval     string `yaml:"ping_interval"`
	ReadTimeout      string `yaml:"read_timeout"`
	WriteTimeout     string `yaml:"write_timeout"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	BufferSize       *int   `yaml:"buffer_size"`
}

type RequestsConfigFile struct {
	PendingTTL         string `yaml:"pending_ttl"`
	SweepInterval      string `yaml:"sweep_interval"`
	RateLimitPerMinute *int   `yaml:"rate_limit_per_minute"`
}

type EventsConfigFile struct {
	QueueSize    *int   `yaml:"queue_size"`
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
}

type LoggingConfigFile struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DirectoryConfigFile struct {
	SeedFile string `yaml:"seed_file"`
}

// LoadFromFile returns defaults overridden by the YAML file at path.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// Load layers defaults, then environment, then the file at path when path is
// not empty, and validates the result.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	applyEnv(config)

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return file.apply(config)
}

// apply copies every field the file set onto config.
func (f *ConfigFile) apply(config *Config) error {
	var p durationParser

	if db := f.Database; db != nil {
		setString(&config.Database.Driver, db.Driver)
		setString(&config.Database.Path, db.Path)
		setString(&config.Database.DSN, db.DSN)
		setString(&config.Database.MigrationsPath, db.MigrationsPath)
		setInt(&config.Database.MaxConnections, db.MaxConnections)
		p.set(&config.Database.Timeout, "database.timeout", db.Timeout)
	}

	if h := f.HTTP; h != nil {
		setInt(&config.HTTP.Port, h.Port)
		setString(&config.HTTP.Host, h.Host)
		p.set(&config.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout)
		p.set(&config.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout)
	}

	if ws := f.WebSocket; ws != nil {
		setInt(&config.WebSocket.BufferSize, ws.BufferSize)
		p.set(&config.WebSocket.PingInterval, "websocket.ping_interval", ws.PingInterval)
		p.set(&config.WebSocket.ReadTimeout, "websocket.read_timeout", ws.ReadTimeout)
		p.set(&config.WebSocket.WriteTimeout, "websocket.write_timeout", ws.WriteTimeout)
		p.set(&config.WebSocket.HandshakeTimeout, "websocket.handshake_timeout", ws.HandshakeTimeout)
	}

	if r := f.Requests; r != nil {
		setInt(&config.Requests.RateLimitPerMinute, r.RateLimitPerMinute)
		p.set(&config.Requests.PendingTTL, "requests.pending_ttl", r.PendingTTL)
		p.set(&config.Requests.SweepInterval, "requests.sweep_interval", r.SweepInterval)
	}

	if e := f.Events; e != nil {
		setInt(&config.Events.QueueSize, e.QueueSize)
		setString(&config.Events.AMQPURL, e.AMQPURL)
		setString(&config.Events.AMQPExchange, e.AMQPExchange)
	}

	if l := f.Logging; l != nil {
		setString(&config.Logging.Level, l.Level)
		setString(&config.Logging.Format, l.Format)
	}

	if d := f.Directory; d != nil {
		setString(&config.Directory.SeedFile, d.SeedFile)
	}

	return p.err
}

// durationParser keeps the first parse failure so apply reports one error.
type durationParser struct {
	err error
}

func (p *durationParser) set(dst *time.Duration, field, value string) {
	if value == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("invalid duration for %s: %w", field, err)
		return
	}
	*dst = d
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// setInt copies value when the file set it, zero and negatives included, so
// Validate sees exactly what was written.
func setInt(dst *int, value *int) {
	if value != nil {
		*dst = *value
	}
}
