package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewStepClock(start, time.Second)

	assert.Equal(t, start.Add(time.Second), c.Now())
	fired := <-c.After(time.Hour)
	assert.Equal(t, start.Add(2*time.Second), fired)
	assert.True(t, c.Now().After(fired))
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, err := NewLoggerWithFile(path, false)
	require.NoError(t, err)

	logger.Sugar().Infow("block_committed", "height", 7)
	logger.Sugar().Debugw("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "block_committed", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])
	assert.EqualValues(t, 7, rec["height"])
	assert.Contains(t, rec, "ts")
}

func TestNewLoggerVerbose(t *testing.T) {
	logger, err := NewLogger(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	quiet, err := NewLogger(false)
	require.NoError(t, err)
	assert.False(t, quiet.Core().Enabled(-1))
}
