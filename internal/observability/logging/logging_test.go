package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONWithServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{ServiceName: "livechat", Environment: "test", Level: "info", Output: &buf})

	logger.Debug("hidden")
	logger.Info("visible", "seq", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "livechat", entry["service"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, float64(3), entry["seq"])
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Format: "text", Output: &buf})

	logger.Debug("reconcile", "query", "messages:list")
	assert.Contains(t, buf.String(), "msg=reconcile")
	assert.Contains(t, buf.String(), "query=messages:list")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
