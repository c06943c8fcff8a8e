package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGetLoggerLevels(t *testing.T) {
	for _, level := range []string{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		l, err := GetLogger(level)
		require.NoError(t, err)
		var want zapcore.Level
		require.NoError(t, want.UnmarshalText([]byte(level)))
		require.True(t, l.Core().Enabled(want), level)
		require.False(t, l.Core().Enabled(want-1), level)
	}
}

func TestGetLoggerNone(t *testing.T) {
	for _, level := range []string{LevelNone, ""} {
		l, err := GetLogger(level)
		require.NoError(t, err)
		require.False(t, l.Core().Enabled(zapcore.ErrorLevel))
	}
}

func TestGetLoggerRejectsUnknown(t *testing.T) {
	_, err := GetLogger("chatty")
	require.Error(t, err)
	require.Panics(t, func() { MustGetLogger("chatty") })
}
