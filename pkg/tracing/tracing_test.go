package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "voxsfu", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
	assert.NoError(t, (&TracerProvider{}).Shutdown(context.Background()))
}

func TestSpanHelpers_NoProvider(t *testing.T) {
	ctx := context.Background()

	c, span := TraceHTTPRequest(ctx, "GET", "/api/v1/rooms")
	require.NotNil(t, span)
	RecordError(c, errors.New("boom"))
	span.End()

	_, span = TraceSignalOp(ctx, "produce", "user-1")
	require.NotNil(t, span)
	span.End()

	_, span = TraceMediaOp(ctx, "create_router", "room-1")
	require.NotNil(t, span)
	span.End()

	_, span = TraceRedisOperation(ctx, "HGET", "voxsfu:profile:user-1")
	require.NotNil(t, span)
	span.End()
}
