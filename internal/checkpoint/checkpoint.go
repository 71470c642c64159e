// Package checkpoint records which work items finished, so an interrupted run
// can resume at chunk granularity.
package checkpoint

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/fsops"
)

// NoChunk is LastChunkIndex before any chunk was recorded.
const NoChunk = -1

// State is a snapshot of per-item completion. A key is never in both sets.
type State struct {
	Completed      map[string]struct{}
	Failed         map[string]struct{}
	LastChunkIndex int
	ChunkSize      int
	UpdatedAt      time.Time
}

// New returns an empty state.
func New() State {
	return State{
		Completed:      map[string]struct{}{},
		Failed:         map[string]struct{}{},
		LastChunkIndex: NoChunk,
	}
}

func (s State) IsCompleted(key string) bool { _, ok := s.Completed[key]; return ok }
func (s State) IsFailed(key string) bool    { _, ok := s.Failed[key]; return ok }

// Clone returns a state that can be modified without touching s.
func (s State) Clone() State {
	clone := State{
		Completed:      make(map[string]struct{}, len(s.Completed)),
		Failed:         make(map[string]struct{}, len(s.Failed)),
		LastChunkIndex: s.LastChunkIndex,
		ChunkSize:      s.ChunkSize,
		UpdatedAt:      s.UpdatedAt,
	}
	for key := range s.Completed {
		clone.Completed[key] = struct{}{}
	}
	for key := range s.Failed {
		clone.Failed[key] = struct{}{}
	}
	return clone
}

// MarkCompleted moves key into Completed.
func (s *State) MarkCompleted(key string) {
	if s.Completed == nil {
		s.Completed = map[string]struct{}{}
	}
	delete(s.Failed, key)
	s.Completed[key] = struct{}{}
}

// MarkFailed moves key into Failed.
func (s *State) MarkFailed(key string) {
	if s.Failed == nil {
		s.Failed = map[string]struct{}{}
	}
	delete(s.Completed, key)
	s.Failed[key] = struct{}{}
}

// ResumeChunk returns the first chunk to process for chunkSize. Chunk indices
// are only meaningful for the chunk size they were recorded with.
func (s State) ResumeChunk(chunkSize int) int {
	if s.LastChunkIndex == NoChunk || s.ChunkSize != chunkSize {
		return 0
	}
	return s.LastChunkIndex + 1
}

func (s State) CompletedKeys() []string { return sortedKeys(s.Completed) }
func (s State) FailedKeys() []string    { return sortedKeys(s.Failed) }

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type fileFormat struct {
	Completed      []string  `json:"completed"`
	Failed         []string  `json:"failed"`
	LastChunkIndex int       `json:"last_chunk_index"`
	ChunkSize      int       `json:"chunk_size,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileFormat{
		Completed:      s.CompletedKeys(),
		Failed:         s.FailedKeys(),
		LastChunkIndex: s.LastChunkIndex,
		ChunkSize:      s.ChunkSize,
		UpdatedAt:      s.UpdatedAt.UTC(),
	})
}

func (s *State) UnmarshalJSON(data []byte) error {
	file := fileFormat{LastChunkIndex: NoChunk}
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	*s = New()
	for _, key := range file.Completed {
		s.Completed[key] = struct{}{}
	}
	for _, key := range file.Failed {
		if !s.IsCompleted(key) {
			s.Failed[key] = struct{}{}
		}
	}
	s.LastChunkIndex = file.LastChunkIndex
	s.ChunkSize = file.ChunkSize
	s.UpdatedAt = file.UpdatedAt
	return nil
}

// Store persists snapshots.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// FileStore keeps the checkpoint as one JSON document rewritten wholesale.
type FileStore struct {
	ops     fsops.Ops
	path    string
	timeNow func() time.Time
}

// NewFileStore creates a store at path.
func NewFileStore(ops fsops.Ops, path string) *FileStore {
	return &FileStore{ops: ops, path: path, timeNow: time.Now}
}

func (s *FileStore) Path() string { return s.path }

// Load returns an empty state when no checkpoint exists yet.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	data, found, err := s.ops.ReadFileIfExists(s.path)
	if err != nil {
		return State{}, errors.Wrapf(err, "read checkpoint %s", s.path)
	}
	if !found {
		return New(), nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, errors.WithHint(
			errors.Wrapf(err, "decode checkpoint %s", s.path),
			"remove the file or run with --fresh to start over",
		)
	}
	return state, nil
}

// Save stamps UpdatedAt and writes the snapshot atomically.
func (s *FileStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state.UpdatedAt = s.timeNow()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	if err := s.ops.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write checkpoint %s", s.path)
	}
	return nil
}
