package logx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("queue")
	require.NotNil(t, logger)
	assert.Equal(t, "queue", logger.Component())
}

func TestWithComponent(t *testing.T) {
	logger := NewLogger("queue")
	derived := logger.WithComponent("monitor")

	assert.Equal(t, "monitor", derived.Component())
	assert.Equal(t, "queue", logger.Component(), "original logger unchanged")
}

func TestErrorfReturnsError(t *testing.T) {
	err := Errorf("task %s not found", "RS-101-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RS-101-01")
}

func TestWrap(t *testing.T) {
	base := errors.New("disk full")
	wrapped := Wrap(base, "persist queue")

	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, base)
	assert.Contains(t, wrapped.Error(), "persist queue")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "persist queue"))
}
