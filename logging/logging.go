// Package logging builds the process logger from config.LoggingConfig.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/c360studio/datafactory/config"
)

// Logger bundles the slog logger with its adjustable level and output.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	out   io.Writer
}

// Setup creates a text logger at cfg.Level. When cfg.File is set, output
// goes to a rotated file instead of stderr; the terminal UI owns the
// screen in that case.
func Setup(cfg config.LoggingConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	return New(out, level), nil
}

// New creates a text logger writing to out.
func New(out io.Writer, level slog.Level) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level)
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lv})),
		level:  lv,
		out:    out,
	}
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	if l.level.Level() != level {
		l.Info("Log level changed", slog.String("level", level.String()))
		l.level.Set(level)
	}
	return nil
}

// Level returns the current level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Close releases the rotated log file, if any.
func (l *Logger) Close() error {
	if c, ok := l.out.(io.Closer); ok && l.out != os.Stderr {
		return c.Close()
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels. An empty
// name means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}
