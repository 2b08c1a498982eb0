package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLoggerLevel(t *testing.T) {
	defer SetLogger(zap.NewNop())

	require.NoError(t, InitLogger("production", "warn"))
	assert.False(t, GetLogger().Core().Enabled(zap.InfoLevel))
	assert.True(t, GetLogger().Core().Enabled(zap.WarnLevel))

	require.NoError(t, InitLogger("development", ""))
	assert.True(t, GetLogger().Core().Enabled(zap.DebugLevel))

	assert.Error(t, InitLogger("production", "loud"))
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	SetLogger(zap.NewNop())

	tp, err := InitTracer(TracerConfig{Env: "test", InstanceID: "i-1", SampleRatio: 1})
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := StartSpan(context.Background(), "unit")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
}
