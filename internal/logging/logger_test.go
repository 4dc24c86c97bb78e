package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoggerConfig(t *testing.T) {
	t.Run("validates level", func(t *testing.T) {
		config := &LoggerConfig{Level: "loud"}
		assert.Error(t, config.Validate())
	})

	t.Run("validates format", func(t *testing.T) {
		config := &LoggerConfig{Format: "xml"}
		assert.Error(t, config.Validate())
	})

	t.Run("applies defaults", func(t *testing.T) {
		config := &LoggerConfig{}
		config.ApplyDefaults()
		assert.Equal(t, LevelInfo, config.Level)
		assert.Equal(t, FormatJSON, config.Format)
		assert.NotNil(t, config.Output)
	})
}

func TestNew(t *testing.T) {
	t.Run("writes json entries", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(LoggerConfig{Level: LevelInfo, Output: &buf})
		require.NoError(t, err)

		logger.Info("migration finished", zap.String("key", "a.txt"))
		logger.Debug("not written")
		require.NoError(t, logger.Sync())

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
		assert.Equal(t, "migration finished", entry["msg"])
		assert.Equal(t, "a.txt", entry["key"])
		assert.Equal(t, "info", entry["level"])
		assert.Contains(t, entry, "timestamp")
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(LoggerConfig{Level: LevelDebug, Format: FormatText, Output: &buf})
		require.NoError(t, err)

		logger.Debug("tick")
		assert.Contains(t, buf.String(), "DEBUG")
		assert.Contains(t, buf.String(), "tick")
	})

	t.Run("rejects bad level", func(t *testing.T) {
		_, err := New(LoggerConfig{Level: "verbose"})
		assert.Error(t, err)
	})
}
