package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/c360studio/datafactory/chat"
	"github.com/c360studio/datafactory/config"
	"github.com/c360studio/datafactory/events"
	"github.com/c360studio/datafactory/logging"
	"github.com/c360studio/datafactory/metrics"
	"github.com/c360studio/datafactory/poller"
	"github.com/c360studio/datafactory/stage"
	"github.com/c360studio/datafactory/workflow"
)

// App wires the configuration, clients and controller of one run.
type App struct {
	cfg        *config.Config
	configPath string
	logger     *logging.Logger
	client     *stage.Client
	chat       *chat.Channel
	ctrl       *workflow.Controller
	metrics    *metrics.Collector
	publisher  *events.Publisher
	watcher    *config.Watcher
	cancel     context.CancelFunc
}

// loadConfig resolves the effective configuration: an explicit file wins
// over the layered user/project lookup, and flags win over both.
func loadConfig(flags *globalFlags) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if flags.configPath != "" {
		path = flags.configPath
		cfg, err = config.LoadFromFile(path)
	} else {
		loader := config.NewLoader(slog.Default())
		cfg, err = loader.Load()
		path = loader.ProjectConfigPath()
		if path == "" {
			if _, statErr := os.Stat(loader.UserConfigPath()); statErr == nil {
				path = loader.UserConfigPath()
			}
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}

	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.apiURL != "" {
		cfg.API.BaseURL = flags.apiURL
	}
	if flags.pollInterval > 0 {
		cfg.Poll.Interval = flags.pollInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, path, nil
}

// NewApp builds the full stack. interactive routes logs to a file so the
// wizard owns the terminal.
func NewApp(ctx context.Context, cfg *config.Config, configPath string, interactive bool) (*App, error) {
	if interactive && cfg.Logging.File == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Logging.File = filepath.Join(home, config.UserConfigDir, "datafactory.log")
		}
	}
	logger, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger.Logger)

	ctx, cancel := context.WithCancel(ctx)
	a := &App{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		metrics:    metrics.NewCollector(),
		cancel:     cancel,
	}

	a.client = stage.NewClient(cfg.API.BaseURL,
		stage.WithTimeout(cfg.API.RequestTimeout),
		stage.WithUserAgent(cfg.API.UserAgent),
		stage.WithLogger(logger.With("component", "stage")),
		stage.WithRecorder(a.metrics))

	jobs := poller.New(a.client,
		poller.Config{Interval: cfg.Poll.Interval, MaxDuration: cfg.Poll.MaxDuration},
		poller.WithLogger(logger.With("component", "poller")),
		poller.WithRecorder(a.metrics))

	a.chat = chat.New(a.client, chat.WithLogger(logger.With("component", "chat")))

	a.ctrl = workflow.NewController(a.client, jobs, a.chat,
		workflow.WithLogger(logger.With("component", "workflow")),
		workflow.WithObserver(a.metrics.Observe))

	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL,
			events.WithPrefix(cfg.Events.SubjectPrefix),
			events.WithLogger(logger.With("component", "events")))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
		a.ctrl.Subscribe(pub.Observe)
	}

	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.Metrics.ListenAddr, logger.Logger); err != nil {
				logger.Error("Metrics endpoint failed", slog.String("error", err.Error()))
			}
		}()
	}

	if configPath != "" {
		w, err := config.Watch(ctx, configPath, logger.Logger, a.applyReload)
		if err != nil {
			logger.Warn("Config hot reload disabled", slog.String("error", err.Error()))
		} else {
			a.watcher = w
		}
	}

	logger.Info("Datafactory ready",
		slog.String("version", Version),
		slog.String("api", cfg.API.BaseURL))
	return a, nil
}

// applyReload applies the settings that can change without a restart.
func (a *App) applyReload(cfg *config.Config) {
	if err := a.logger.SetLevel(cfg.Logging.Level); err != nil {
		a.logger.Warn("Ignoring reloaded log level", slog.String("error", err.Error()))
	}
}

// Close stops background work and releases connections.
func (a *App) Close() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Failed to flush events", slog.String("error", err.Error()))
		}
	}
	a.cancel()
	_ = a.logger.Close()
}
