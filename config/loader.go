package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "datafactory.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/datafactory"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvFile is loaded from the working directory when present
	EnvFile = ".env"
)

// Environment variables that override file configuration.
const (
	EnvAPIURL      = "DATAFACTORY_API_URL"
	EnvLogLevel    = "DATAFACTORY_LOG_LEVEL"
	EnvNATSURL     = "DATAFACTORY_NATS_URL"
	EnvMetricsAddr = "DATAFACTORY_METRICS_ADDR"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger   *slog.Logger
	userPath string
	workDir  string
	getenv   func(string) string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithUserConfigPath overrides the user config location.
func WithUserConfigPath(path string) LoaderOption {
	return func(l *Loader) {
		l.userPath = path
	}
}

// WithWorkDir sets the directory the project config search starts from.
func WithWorkDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.workDir = dir
	}
}

// WithGetenv replaces os.Getenv for environment overrides.
func WithGetenv(fn func(string) string) LoaderOption {
	return func(l *Loader) {
		l.getenv = fn
	}
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger, getenv: os.Getenv}
	for _, opt := range opts {
		opt(l)
	}
	if l.userPath == "" {
		l.userPath = defaultUserConfigPath()
	}
	if l.workDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			l.workDir = cwd
		}
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/datafactory/config.yaml)
// 3. Project config (datafactory.yaml in current or parent directories)
// 4. .env file in the working directory
// 5. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	if l.userPath != "" {
		if userConfig, err := loadLayer(l.userPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", l.userPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", l.userPath), slog.String("error", err.Error()))
		}
	}

	if projectConfigPath := l.ProjectConfigPath(); projectConfigPath != "" {
		if projectConfig, err := loadLayer(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.loadEnvFile()
	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadEnvFile exports .env values that are not already set.
func (l *Loader) loadEnvFile() {
	if l.workDir == "" {
		return
	}
	path := filepath.Join(l.workDir, EnvFile)
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		l.logger.Warn("Failed to load env file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	l.logger.Debug("Loaded env file", slog.String("path", path))
}

func (l *Loader) applyEnv(config *Config) {
	if v := l.getenv(EnvAPIURL); v != "" {
		config.API.BaseURL = v
	}
	if v := l.getenv(EnvLogLevel); v != "" {
		config.Logging.Level = v
	}
	if v := l.getenv(EnvNATSURL); v != "" {
		config.Events.NATSURL = v
	}
	if v := l.getenv(EnvMetricsAddr); v != "" {
		config.Metrics.ListenAddr = v
	}
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() (string, error) {
	if _, err := os.Stat(l.userPath); err == nil {
		return l.userPath, nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(l.userPath); err != nil {
		return "", err
	}

	l.logger.Info("Created default user config", slog.String("path", l.userPath))
	return l.userPath, nil
}

// UserConfigPath returns the path to the user config file
func (l *Loader) UserConfigPath() string {
	return l.userPath
}

func defaultUserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// ProjectConfigPath searches for datafactory.yaml in the working directory
// and its parents. It returns "" when none exists.
func (l *Loader) ProjectConfigPath() string {
	if l.workDir == "" {
		return ""
	}

	dir := l.workDir
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

