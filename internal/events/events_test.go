package events_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/genbatch/internal/events"
)

func TestStream_TagsRunAndItem(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	stream := events.New(core, "run-1")

	stream.Emit(events.RunStarted, zap.Int("total", 3))
	stream.Item("shoes", events.ItemPersisted, zap.Float64("quality_score", 0.9))

	entries := recorded.All()
	require.Len(t, entries, 2)
	assert.Equal(t, events.RunStarted, entries[0].Message)
	assert.Equal(t, "run-1", entries[0].ContextMap()[events.RunIDKey])

	itemFields := entries[1].ContextMap()
	assert.Equal(t, "shoes", itemFields[events.ItemKeyKey])
	assert.Equal(t, 0.9, itemFields["quality_score"])
	assert.Equal(t, "run-1", itemFields[events.RunIDKey])
}

func TestStream_GeneratesRunID(t *testing.T) {
	assert.Len(t, events.Nop().RunID(), 36)
}

func TestOpenFile_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "outline.jsonl")
	stream, closeFn, err := events.OpenFile(path, "run-2")
	require.NoError(t, err)

	stream.Item("shoes", events.Retry, zap.Int("attempt", 1))
	stream.Emit(events.RunCompleted)
	require.NoError(t, closeFn())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "retry", lines[0]["event"])
	assert.Equal(t, "shoes", lines[0]["item_key"])
	assert.Equal(t, "run-2", lines[0]["run_id"])
	assert.Contains(t, lines[0], "timestamp")
	assert.Equal(t, "run_completed", lines[1]["event"])
}

func TestNewConsoleLogger(t *testing.T) {
	logger, err := events.NewConsoleLogger("warn", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = events.NewConsoleLogger("loud", "json")
	assert.Error(t, err)
}
