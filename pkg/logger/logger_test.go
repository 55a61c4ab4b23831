package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestInitAndGet(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug", Encoding: "console"}))
	assert.NotNil(t, Get())
	assert.True(t, Get().Core().Enabled(zap.DebugLevel))

	child := With(zap.String("component", "test"))
	assert.True(t, child.Core().Enabled(zap.DebugLevel))
	_ = Sync()

	require.NoError(t, Init(Config{Level: "warn"}))
	assert.False(t, Get().Core().Enabled(zap.InfoLevel))
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := ContextWithTable(context.Background(), "mem://employee_tbl")
	ctx = ContextWithJobID(ctx, "run-1")

	FromContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "mem://employee_tbl", fields["table"])
	assert.Equal(t, "run-1", fields["job_id"])
}
