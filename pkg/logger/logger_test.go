package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_CarriesIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	ctx := WithCallID(WithUserID(WithRequestID(context.Background(), "req-1"), "user-1"), "call-1")
	FromContext(ctx).Info("call saved")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "user-1", fields["user_id"])
	assert.Equal(t, "call-1", fields["call_id"])
}

func TestFromContext_SkipsMissingIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	FromContext(WithCallID(context.Background(), "")).Warn("no ids")
	FromContext(nil).Warn("nil ctx") //nolint:staticcheck

	require.Equal(t, 2, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
	assert.Empty(t, logs.All()[1].ContextMap())
}

func TestReplace_Restores(t *testing.T) {
	original := Log
	restore := Replace(zap.NewExample())
	assert.NotSame(t, original, Log)
	restore()
	assert.Same(t, original, Log)
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	restore := Replace(Log)
	defer restore()

	require.NoError(t, Init(&Config{Level: "chatty", Format: "json", Output: "stdout"}))
	assert.True(t, Log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, Log.Core().Enabled(zapcore.DebugLevel))
}
