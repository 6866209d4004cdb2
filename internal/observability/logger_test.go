package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/unigraph-cli/internal/config"
)

func TestGetLoggerBeforeInitializeFallsBack(t *testing.T) {
	logger := GetLogger()
	require.NotNil(t, logger)
	// Must be usable without panicking even when nothing was initialized.
	logger.Debug("fallback logger smoke test")
}

func TestInitializeLoggerIsIdempotent(t *testing.T) {
	cfg := config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "unigraph-test"}
	InitializeLogger(cfg)
	first := GetLogger()

	// A second call must not replace the logger.
	InitializeLogger(config.LoggerConfig{Level: "error", Format: "console", ServiceName: "other"})
	second := GetLogger()

	assert.Same(t, first, second)
	assert.True(t, first.Core().Enabled(zapcore.DebugLevel))
}
