// Package events writes the per-run JSON event stream: one object per line,
// one line per item state transition.
package events

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event names.
const (
	RunStarted        = "run_started"
	RunCompleted      = "run_completed"
	RunInterrupted    = "run_interrupted"
	ChunkStarted      = "chunk_started"
	ChunkCompleted    = "chunk_completed"
	CheckpointSaved   = "checkpoint_saved"
	ItemSkipped       = "item_skipped"
	ItemLoading       = "item_loading"
	ItemGenerating    = "item_generating"
	ItemParsing       = "item_parsing"
	ItemValidating    = "item_validating"
	ItemPersisted     = "item_persisted"
	ItemRejected      = "item_rejected"
	ItemFailed        = "item_failed"
	ItemDryRun        = "item_dry_run"
	PreconditionFail  = "precondition_missing"
	Retry             = "retry"
	RateLimited       = "rate_limited"
	ValidationWarning = "validation_warning"
	QualityBelow      = "quality_below_threshold"
	AnalysisStarted   = "analysis_started"
	AnalysisApplied   = "analysis_applied"
	AnalysisFailed    = "analysis_failed"
)

// Field keys shared by every event.
const (
	RunIDKey   = "run_id"
	ItemKeyKey = "item_key"
)

// EncoderConfig names the timestamp and event keys of a stream line.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		MessageKey:     "event",
		LevelKey:       "level",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
}

// Stream emits events tagged with a run identifier.
type Stream struct {
	logger *zap.Logger
	runID  string
}

// New creates a stream over core. An empty runID gets a fresh UUID.
func New(core zapcore.Core, runID string) *Stream {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Stream{logger: zap.New(core).With(zap.String(RunIDKey, runID)), runID: runID}
}

// Nop discards every event.
func Nop() *Stream {
	return New(zapcore.NewNopCore(), "")
}

// OpenFile appends JSON lines to path, creating parent directories.
func OpenFile(path string, runID string) (*Stream, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, errors.Wrapf(err, "create events directory for %s", path)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open events file %s", path)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), zapcore.Lock(file), zap.DebugLevel)
	stream := New(core, runID)
	closeFn := func() error {
		_ = stream.logger.Sync()
		return file.Close()
	}
	return stream, closeFn, nil
}

// Tee also writes every event into extra, e.g. an operator console core.
func (s *Stream) Tee(extra zapcore.Core) *Stream {
	return &Stream{logger: s.logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, extra)
	})), runID: s.runID}
}

func (s *Stream) RunID() string { return s.runID }

// Emit records a run-level event.
func (s *Stream) Emit(event string, fields ...zap.Field) {
	s.logger.Info(event, fields...)
}

// Item records an item-level event.
func (s *Stream) Item(key string, event string, fields ...zap.Field) {
	s.logger.Info(event, append([]zap.Field{zap.String(ItemKeyKey, key)}, fields...)...)
}

// Warn records an item-level event at warning level.
func (s *Stream) Warn(key string, event string, fields ...zap.Field) {
	s.logger.Warn(event, append([]zap.Field{zap.String(ItemKeyKey, key)}, fields...)...)
}

func (s *Stream) Sync() error { return s.logger.Sync() }
