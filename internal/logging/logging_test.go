package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestSetupWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fathom.log")
	cfg := Config{
		Level:     "info",
		FilePath:  path,
		MaxSizeMB: 1,
		MaxFiles:  2,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)

	logger.Info("search completed", "top_k", 10)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "search completed", entry["msg"])
	assert.Equal(t, float64(10), entry["top_k"])
}

func TestSetupDebugLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fathom.log")
	cfg := Config{Level: "warn", FilePath: path, MaxSizeMB: 1, MaxFiles: 2}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)

	logger.Debug("should be dropped")
	logger.Warn("should appear")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should be dropped")
	assert.Contains(t, string(data), "should appear")
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fathom.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Force rotation by shrinking the threshold
	w.maxSize = 64

	line := strings.Repeat("x", 40) + "\n"
	for i := 0; i < 4; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file should exist")
}
