package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer SetLevel("INFO")
	ResetRecent()

	SetLevel("WARN")
	Info("hidden %d", 1)
	Warn("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")
	assert.Equal(t, LevelWarn, GetLevel())
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	defer SetLevel("INFO")

	SetLevel("debug")
	SetLevel("verbose")
	assert.Equal(t, LevelDebug, GetLevel())
}

func TestRecentKeepsNewestEntries(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	ResetRecent()

	for i := 0; i < defaultRecentSize+10; i++ {
		Info("line %d", i)
	}

	entries := Recent()
	require.Len(t, entries, defaultRecentSize)
	assert.Equal(t, "line 10", entries[0].Message)
	assert.Equal(t, fmt.Sprintf("line %d", defaultRecentSize+9), entries[len(entries)-1].Message)
	assert.Equal(t, "INFO", entries[0].Level)
}

func TestConfigureJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	require.NoError(t, Configure("json", path))
	defer func() { _ = Configure("text", "stdout") }()

	Error("boom %s", "here")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "boom here", line["msg"])
	assert.Equal(t, "error", line["level"])
}
