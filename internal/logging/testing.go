package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger returns a logger that writes through the test's log output,
// so messages show up attached to the failing test.
func NewTestLogger(t *testing.T) *Logger {
	t.Helper()
	return &Logger{
		zap:    zaptest.NewLogger(t),
		config: NewDefaultConfig(),
	}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{
		zap:    zap.NewNop(),
		config: NewDefaultConfig(),
	}
}
