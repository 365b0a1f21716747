package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	l := New(path, true)

	l.Debug("hidden")
	l.Info("leave approved", zap.String("request_id", "PL-0001"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "leave approved", entry["msg"])
	assert.Equal(t, "PL-0001", entry["request_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_ConsoleOnly(t *testing.T) {
	l := New("", false)
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}
