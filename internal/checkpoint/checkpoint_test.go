package checkpoint_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temirov/genbatch/internal/checkpoint"
	"github.com/temirov/genbatch/internal/fsops"
)

func TestState_SetsStayDisjoint(t *testing.T) {
	state := checkpoint.New()
	state.MarkFailed("a")
	state.MarkCompleted("b")
	state.MarkCompleted("a")
	state.MarkFailed("b")

	assert.Equal(t, []string{"a"}, state.CompletedKeys())
	assert.Equal(t, []string{"b"}, state.FailedKeys())
}

func TestState_CloneIsIndependent(t *testing.T) {
	original := checkpoint.New()
	original.MarkCompleted("a")

	clone := original.Clone()
	clone.MarkFailed("a")
	clone.LastChunkIndex = 3

	assert.True(t, original.IsCompleted("a"))
	assert.False(t, original.IsFailed("a"))
	assert.Equal(t, checkpoint.NoChunk, original.LastChunkIndex)
}

func TestState_ResumeChunk(t *testing.T) {
	state := checkpoint.New()
	assert.Equal(t, 0, state.ResumeChunk(4))

	state.LastChunkIndex = 1
	state.ChunkSize = 4
	assert.Equal(t, 2, state.ResumeChunk(4))
	assert.Equal(t, 0, state.ResumeChunk(5))
}

func TestState_JSONShape(t *testing.T) {
	state := checkpoint.New()
	state.MarkCompleted("kw2")
	state.MarkCompleted("kw1")
	state.MarkFailed("kw3")
	state.LastChunkIndex = 0
	state.ChunkSize = 4

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{"kw1", "kw2"}, decoded["completed"])
	assert.Equal(t, []any{"kw3"}, decoded["failed"])
	assert.EqualValues(t, 0, decoded["last_chunk_index"])
	assert.EqualValues(t, 4, decoded["chunk_size"])
	assert.Contains(t, decoded, "updated_at")
}

func TestState_DecodeDropsKeysInBothSets(t *testing.T) {
	var state checkpoint.State
	require.NoError(t, json.Unmarshal([]byte(`{"completed":["a"],"failed":["a","b"],"last_chunk_index":2,"updated_at":"2025-01-01T00:00:00Z"}`), &state))

	assert.True(t, state.IsCompleted("a"))
	assert.False(t, state.IsFailed("a"))
	assert.True(t, state.IsFailed("b"))
	assert.Equal(t, 2, state.LastChunkIndex)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := fsops.NewMem()
	store := checkpoint.NewFileStore(fsops.NewOps(mem), "/state/outline.checkpoint.json")

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.NoChunk, empty.LastChunkIndex)
	assert.Empty(t, empty.Completed)

	state := checkpoint.New()
	state.MarkCompleted("a")
	state.MarkFailed("b")
	state.LastChunkIndex = 0
	state.ChunkSize = 4
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, loaded.CompletedKeys())
	assert.Equal(t, []string{"b"}, loaded.FailedKeys())
	assert.Equal(t, 1, loaded.ResumeChunk(4))
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestFileStore_CorruptFileHasHint(t *testing.T) {
	mem := fsops.NewMem()
	require.NoError(t, mem.WriteFile("/cp.json", []byte("{not json"), 0o644))
	store := checkpoint.NewFileStore(fsops.NewOps(mem), "/cp.json")

	_, err := store.Load(context.Background())

	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "--fresh")
}
