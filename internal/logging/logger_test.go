package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_DefaultConfig(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info(context.Background(), "hello")
	_ = logger.Sync()
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	cfg.Format = "console"
	assert.NoError(t, cfg.Validate())
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithCandidateID(ctx, 42)
	ctx = WithRequestID(ctx, "req-1")
	fields := ContextFields(ctx)
	assert.Len(t, fields, 2)
}

func TestFromContext_Fallback(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger, "missing logger must fall back to nop")
	logger.Info(context.Background(), "does not panic")
}

func TestFromContext_RoundTrip(t *testing.T) {
	logger := NewTestLogger(t)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}
