// Package logging builds the zap loggers used by the command layer.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LevelNone disables logging.
	LevelNone = "none"
	// LevelDebug logs object writes and ref updates.
	LevelDebug = "debug"
	// LevelInfo logs pack and bulk-add summaries.
	LevelInfo = "info"
	// LevelWarn logs per-file failures and retried reads.
	LevelWarn = "warn"
	// LevelError logs failures only.
	LevelError = "error"
)

// GetLogger returns a production zap logger writing to stderr at the given
// level. LevelNone and "" yield a no-op logger.
func GetLogger(level string) (*zap.Logger, error) {
	if level == LevelNone || level == "" {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	return cfg.Build()
}

// MustGetLogger is GetLogger that panics on a bad level.
func MustGetLogger(level string) *zap.Logger {
	l, err := GetLogger(level)
	if err != nil {
		panic(err)
	}
	return l
}
