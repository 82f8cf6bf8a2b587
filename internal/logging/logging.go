// Package logging builds the process slog.Logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/config"
)

// ParseLevel maps a config log level to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a JSON logger writing to stdout and, when cfg.File is set, to a
// size-rotated log file as well. The returned closer flushes the file writer.
func New(level string, cfg config.LogConfig) (*slog.Logger, io.Closer) {
	return newWithStdout(os.Stdout, level, cfg)
}

func newWithStdout(stdout io.Writer, level string, cfg config.LogConfig) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	if cfg.File == "" {
		return slog.New(slog.NewJSONHandler(stdout, opts)), nopCloser{}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		l := slog.New(slog.NewJSONHandler(stdout, opts))
		l.Warn("log file disabled", slog.String("file", cfg.File), slog.String("error", err.Error()))
		return l, nopCloser{}
	}

	fileLogger := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	w := io.MultiWriter(stdout, fileLogger)
	return slog.New(slog.NewJSONHandler(w, opts)), fileLogger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
