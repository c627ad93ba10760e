// Package logging builds the process-wide *slog.Logger on top of zap.
package logging

import (
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New returns a slog logger writing through zap, and a flush function to run
// before exit. format is "json" or "console".
func New(levelStr, format string) (*slog.Logger, func(), error) {
	level := zapcore.InfoLevel
	switch strings.ToLower(levelStr) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	zl, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}

	return FromCore(zl.Core()), func() { _ = zl.Sync() }, nil
}

// FromCore wraps an existing zap core.
func FromCore(core zapcore.Core) *slog.Logger {
	return slog.New(zapslog.NewHandler(core))
}
