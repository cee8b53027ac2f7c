package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONFile(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(Config{Level: "info", Dir: tmpDir, Filename: "info.log"})
	require.NoError(t, err)

	logger.InfoTag("Auth", "refreshed tenant %s", "acme")
	logger.Debug("hidden debug line")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(filepath.Join(tmpDir, "info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "[Auth] refreshed tenant acme")
	assert.NotContains(t, string(content), "hidden debug line")
}

func TestNew_WithoutDirIsConsoleOnly(t *testing.T) {
	logger, err := New(Config{Level: "debug"})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestFormatLog(t *testing.T) {
	tests := []struct {
		tag, msg, want string
	}{
		{"Orders", "applied", "[Orders] applied"},
		{"", "plain", "plain"},
		{"Orders", "[WebSocket] already tagged", "[WebSocket] already tagged"},
		{" HTTP ", " listening ", "[HTTP] listening"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatLog(tt.tag, tt.msg))
	}
}

func TestTaggedLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn")

	tagged := logger.Tagged("WebSocket")
	tagged.Info("connected to %s", "broker")
	tagged.Warn("socket closed: %v", "eof")

	out := buf.String()
	assert.NotContains(t, out, "connected to broker")
	assert.Contains(t, out, "[WebSocket] socket closed: eof")
}

func TestNewNop_Discards(t *testing.T) {
	logger := NewNop()
	logger.Error("nothing to see")
	assert.NotNil(t, logger.Slog())
}
