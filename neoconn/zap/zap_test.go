//go:build unit

package zap

import (
	"context"
	"errors"
	"testing"

	logpkg "github.com/KazChe/lib-neoconn/neoconn/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.LevelEnabler) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)

	return NewFromZap(zap.New(core)), logs
}

func TestNew_ValidatesConfig(t *testing.T) {
	t.Parallel()

	t.Run("unknown_environment", func(t *testing.T) {
		t.Parallel()

		_, _, err := New(Config{Environment: "staging"})
		require.Error(t, err)
	})

	t.Run("invalid_level", func(t *testing.T) {
		t.Parallel()

		_, _, err := New(Config{Environment: EnvironmentLocal, Level: "loudest"})
		require.Error(t, err)
	})

	t.Run("production_defaults_to_info", func(t *testing.T) {
		t.Parallel()

		logger, level, err := New(Config{Environment: EnvironmentProduction})
		require.NoError(t, err)
		assert.Equal(t, zapcore.InfoLevel, level.Level())
		assert.False(t, logger.Enabled(logpkg.LevelDebug))
		assert.True(t, logger.Enabled(logpkg.LevelInfo))
	})

	t.Run("local_defaults_to_debug", func(t *testing.T) {
		t.Parallel()

		logger, level, err := New(Config{Environment: EnvironmentLocal})
		require.NoError(t, err)
		assert.Equal(t, zapcore.DebugLevel, level.Level())
		assert.True(t, logger.Enabled(logpkg.LevelDebug))
	})

	t.Run("explicit_level_wins", func(t *testing.T) {
		t.Parallel()

		_, level, err := New(Config{Environment: EnvironmentLocal, Level: "warn"})
		require.NoError(t, err)
		assert.Equal(t, zapcore.WarnLevel, level.Level())
	})
}

func TestLogger_LogDispatchesBySeverity(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(zapcore.DebugLevel)
	ctx := context.Background()

	logger.Log(ctx, logpkg.LevelDebug, "d")
	logger.Log(ctx, logpkg.LevelInfo, "i")
	logger.Log(ctx, logpkg.LevelWarn, "w")
	logger.Log(ctx, logpkg.LevelError, "e")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestLogger_LogTranslatesFields(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(zapcore.DebugLevel)
	cause := errors.New("connection refused")

	logger.Log(context.Background(), logpkg.LevelWarn, "probe failed",
		logpkg.String("alias", "root"),
		logpkg.Int("attempt", 2),
		logpkg.Err(cause),
	)

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "root", fields["alias"])
	assert.EqualValues(t, 2, fields["attempt"])
	assert.Equal(t, cause.Error(), fields["error"])
}

func TestLogger_WithCarriesFields(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(zapcore.DebugLevel)
	child := logger.With(logpkg.String("component", "registry"))

	child.Log(context.Background(), logpkg.LevelInfo, "driver created")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "registry", entries[0].ContextMap()["component"])
}

func TestLogger_NilSafety(t *testing.T) {
	t.Parallel()

	var logger *Logger

	// A nil logger degrades to a nop rather than panicking.
	logger.Log(context.Background(), logpkg.LevelInfo, "ignored")
	assert.False(t, logger.Enabled(logpkg.LevelDebug))
	assert.NotNil(t, logger.Raw())
}

func TestLogger_SyncRespectsContext(t *testing.T) {
	t.Parallel()

	logger, _ := newObservedLogger(zapcore.DebugLevel)

	require.NoError(t, logger.Sync(context.Background()))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, logger.Sync(canceled), context.Canceled)
}
