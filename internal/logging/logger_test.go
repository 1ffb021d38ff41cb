package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"projectos/internal/config"
)

func TestNewDefaults(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("test entry")
	_ = logger.Sync()
}

func TestNewBadLevelFallsBack(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "nonsense", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNamedNilParent(t *testing.T) {
	child := Named(nil, "facts")
	require.NotNil(t, child)
	child.Info("no-op")
}
