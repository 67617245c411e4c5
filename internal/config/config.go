package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Poll     PollConfig     `yaml:"poll"`
	RCON     RCONConfig     `yaml:"rcon"`
	Auth     AuthConfig     `yaml:"auth"`
	NATS     NATSConfig     `yaml:"nats"`
	Logs     LogsConfig     `yaml:"logs"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PollConfig controls how often servers are polled
type PollConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ChatInterval time.Duration `yaml:"chat_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	GracePeriod  time.Duration `yaml:"grace_period"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// RCONConfig holds session settings shared by every server
type RCONConfig struct {
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// NATSConfig enables event publishing when URL is set
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogsConfig covers both the stored server logs and the process log
type LogsConfig struct {
	Retention time.Duration `yaml:"retention"`
	Level     string        `yaml:"level"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()

	if _, err := cfg.LogLevel(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/warden/warden.db"
	}

	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 15 * time.Second
	}
	if cfg.Poll.ChatInterval == 0 {
		cfg.Poll.ChatInterval = 5 * time.Second
	}
	if cfg.Poll.StaleAfter == 0 {
		cfg.Poll.StaleAfter = time.Minute
	}
	if cfg.Poll.GracePeriod == 0 {
		cfg.Poll.GracePeriod = 20 * time.Minute
	}
	if cfg.Poll.QueryTimeout == 0 {
		cfg.Poll.QueryTimeout = 3 * time.Second
	}

	if cfg.RCON.DialTimeout == 0 {
		cfg.RCON.DialTimeout = 10 * time.Second
	}
	if cfg.RCON.ReadTimeout == 0 {
		cfg.RCON.ReadTimeout = 10 * time.Second
	}
	if cfg.RCON.RetryAttempts == 0 {
		cfg.RCON.RetryAttempts = 2
	}

	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}

	// NATS stays disabled without a URL
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "warden"
	}

	if cfg.Logs.Retention == 0 {
		cfg.Logs.Retention = 5 * 24 * time.Hour
	}
	if cfg.Logs.Level == "" {
		cfg.Logs.Level = "info"
	}
}

// LogLevel parses logs.level
func (cfg *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Logs.Level))); err != nil {
		return 0, fmt.Errorf("invalid logs.level %q", cfg.Logs.Level)
	}
	return level, nil
}
