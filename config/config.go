// Package config provides configuration loading and management for datafactory.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete datafactory configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Poll    PollConfig    `yaml:"poll"`
	Logging LoggingConfig `yaml:"logging"`
	Events  EventsConfig  `yaml:"events"`
	Metrics MetricsConfig `yaml:"metrics"`
	Sources SourcesConfig `yaml:"sources"`
}

// APIConfig configures the challenge backend connection
type APIConfig struct {
	// BaseURL is the API root every stage path is appended to
	BaseURL string `yaml:"base_url"`
	// RequestTimeout bounds each stage call (0 = no timeout)
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// UserAgent is sent with every stage call
	UserAgent string `yaml:"user_agent"`
}

// PollConfig configures generation job polling
type PollConfig struct {
	// Interval between job status queries (default: 2s)
	Interval time.Duration `yaml:"interval"`
	// MaxDuration bounds the whole job (0 = poll until a terminal status)
	MaxDuration time.Duration `yaml:"max_duration"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// File redirects logs to a rotated file (empty = stderr)
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// EventsConfig configures workflow event publishing
type EventsConfig struct {
	// NATSURL is the NATS server URL (empty = events disabled)
	NATSURL string `yaml:"nats_url"`
	// SubjectPrefix is prepended to every event subject
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// ListenAddr serves /metrics when set (e.g. ":9090")
	ListenAddr string `yaml:"listen_addr"`
}

// SourcesConfig configures research source previews
type SourcesConfig struct {
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	MaxContentSize int64         `yaml:"max_content_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	UserAgent      string        `yaml:"user_agent"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8000/api",
			RequestTimeout: 10 * time.Minute,
			UserAgent:      "datafactory/1.0",
		},
		Poll: PollConfig{
			Interval:    2 * time.Second,
			MaxDuration: 0, // Unbounded
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Events: EventsConfig{
			SubjectPrefix: "datafactory.workflow",
		},
		Sources: SourcesConfig{
			FetchTimeout:   30 * time.Second,
			MaxContentSize: 10 * 1024 * 1024,
			CacheTTL:       time.Hour,
			UserAgent:      "datafactory/1.0",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.RequestTimeout < 0 {
		return fmt.Errorf("api.request_timeout must not be negative")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if c.Poll.MaxDuration < 0 {
		return fmt.Errorf("poll.max_duration must not be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if c.Events.NATSURL != "" && c.Events.SubjectPrefix == "" {
		return fmt.Errorf("events.subject_prefix is required when events.nats_url is set")
	}
	if c.Sources.MaxContentSize <= 0 {
		return fmt.Errorf("sources.max_content_size must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// loadLayer reads a file without defaults so Merge only sees the keys it sets.
func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var layer Config
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &layer, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// API
	if other.API.BaseURL != "" {
		c.API.BaseURL = other.API.BaseURL
	}
	if other.API.RequestTimeout != 0 {
		c.API.RequestTimeout = other.API.RequestTimeout
	}
	if other.API.UserAgent != "" {
		c.API.UserAgent = other.API.UserAgent
	}

	// Poll
	if other.Poll.Interval != 0 {
		c.Poll.Interval = other.Poll.Interval
	}
	if other.Poll.MaxDuration != 0 {
		c.Poll.MaxDuration = other.Poll.MaxDuration
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxBackups != 0 {
		c.Logging.MaxBackups = other.Logging.MaxBackups
	}
	if other.Logging.MaxAgeDays != 0 {
		c.Logging.MaxAgeDays = other.Logging.MaxAgeDays
	}

	// Events
	if other.Events.NATSURL != "" {
		c.Events.NATSURL = other.Events.NATSURL
	}
	if other.Events.SubjectPrefix != "" {
		c.Events.SubjectPrefix = other.Events.SubjectPrefix
	}

	// Metrics
	if other.Metrics.ListenAddr != "" {
		c.Metrics.ListenAddr = other.Metrics.ListenAddr
	}

	// Sources
	if other.Sources.FetchTimeout != 0 {
		c.Sources.FetchTimeout = other.Sources.FetchTimeout
	}
	if other.Sources.MaxContentSize != 0 {
		c.Sources.MaxContentSize = other.Sources.MaxContentSize
	}
	if other.Sources.CacheTTL != 0 {
		c.Sources.CacheTTL = other.Sources.CacheTTL
	}
	if other.Sources.UserAgent != "" {
		c.Sources.UserAgent = other.Sources.UserAgent
	}
}
