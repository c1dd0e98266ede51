package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "console", opts: Options{Level: "info"}},
		{name: "json", opts: Options{Level: "debug", JSON: true}},
		{name: "empty level", opts: Options{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Output = &buf

			built, err := New(tt.opts)
			require.NoError(t, err)
			require.NotNil(t, built.Sugar)

			built.Sugar.Infow("hello", "k", "v")
			require.NoError(t, built.Sugar.Sync())
			assert.Contains(t, buf.String(), "hello")
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestSetLevelHotSwap(t *testing.T) {
	var buf bytes.Buffer
	built, err := New(Options{Level: "warn", JSON: true, Output: &buf})
	require.NoError(t, err)

	built.Sugar.Info("suppressed")
	assert.Empty(t, buf.String())

	require.NoError(t, SetLevel(built.Level, "debug"))
	built.Sugar.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("TRACE"))
	assert.Equal(t, LevelWarning, ParseLevel("warn"))
	assert.Equal(t, LevelError, ParseLevel("critical"))
	assert.Equal(t, LevelInfo, ParseLevel("status"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestEmitDispatchTable(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(core).Sugar()

	Emit(l, LevelDebug, "d")
	Emit(l, LevelInfo, "i")
	Emit(l, LevelWarning, "w")
	Emit(l, LevelError, "e", "k", 1)
	Emit(l, Level("bogus"), "fallback")

	entries := logs.All()
	require.Len(t, entries, 5)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, int64(1), entries[3].ContextMap()["k"])
	assert.Equal(t, zapcore.InfoLevel, entries[4].Level)
}

func TestEmitNilLogger(t *testing.T) {
	assert.NotPanics(t, func() { Emit(nil, LevelError, "nothing") })
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithExecutionID(context.Background(), "exec-1")
	ctx = WithDeviceID(ctx, "r1")
	ctx = WithComponent(ctx, "config_backup")
	FromContext(ctx, base).Info("tagged")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "exec-1", fields[FieldExecutionID])
	assert.Equal(t, "r1", fields[FieldDeviceID])
	assert.Equal(t, "config_backup", fields[FieldComponent])

	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Component(zap.New(core).Sugar(), "pulse.ticker").Info("tick")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "pulse.ticker", logs.All()[0].LoggerName)

	assert.NotNil(t, Component(nil, "x"))
}
