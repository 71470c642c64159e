package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/genbatch/internal/checkpoint"
	"github.com/temirov/genbatch/internal/events"
)

// ErrInterrupted is returned by Run when the context is cancelled mid-run.
var ErrInterrupted = errors.New("run interrupted")

// ItemProcessor takes one item to a terminal state.
type ItemProcessor interface {
	Process(ctx context.Context, item WorkItem, state checkpoint.State) ItemResult
}

// Options control chunking and resumption.
type Options struct {
	ChunkSize   int
	Concurrency int
	// Resume starts after the last saved chunk when the chunk size matches.
	Resume bool
	// Fresh ignores any saved checkpoint.
	Fresh  bool
	DryRun bool
}

// Orchestrator runs items chunk by chunk and checkpoints after every chunk.
type Orchestrator struct {
	processor ItemProcessor
	store     checkpoint.Store
	options   Options
	stats     *Stats
	events    *events.Stream
}

// NewOrchestrator wires an orchestrator. stats must be the instance the
// processor updates so the summary reflects it.
func NewOrchestrator(processor ItemProcessor, store checkpoint.Store, options Options, stats *Stats, stream *events.Stream) *Orchestrator {
	if options.ChunkSize <= 0 {
		options.ChunkSize = 1
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 1
	}
	if stats == nil {
		stats = &Stats{}
	}
	if stream == nil {
		stream = events.Nop()
	}
	return &Orchestrator{processor: processor, store: store, options: options, stats: stats, events: stream}
}

// Run processes keys in order. Chunks run strictly one after another; items
// inside a chunk run with bounded concurrency. The checkpoint is saved after
// each complete chunk, never in dry-run mode and never for an interrupted
// chunk.
func (o *Orchestrator) Run(ctx context.Context, keys []string) (Summary, error) {
	started := time.Now()
	summary := Summary{RunID: o.events.RunID(), Items: len(keys), DryRun: o.options.DryRun}

	state := checkpoint.New()
	if !o.options.Fresh {
		loaded, err := o.store.Load(ctx)
		if err != nil {
			return summary, err
		}
		state = loaded
	}

	startChunk := 0
	if o.options.Resume {
		startChunk = state.ResumeChunk(o.options.ChunkSize)
	}
	state.ChunkSize = o.options.ChunkSize

	chunks := Chunk(keys, o.options.ChunkSize)
	summary.Chunks = len(chunks)
	summary.StartChunk = startChunk
	o.events.Emit(events.RunStarted,
		zap.Int("items", len(keys)),
		zap.Int("chunks", len(chunks)),
		zap.Int("start_chunk", startChunk),
		zap.Int("chunk_size", o.options.ChunkSize),
		zap.Int("concurrency", o.options.Concurrency),
		zap.Bool("dry_run", o.options.DryRun),
	)

	for chunkIndex := startChunk; chunkIndex < len(chunks); chunkIndex++ {
		if ctx.Err() != nil {
			break
		}
		chunk := chunks[chunkIndex]
		o.events.Emit(events.ChunkStarted, zap.Int("chunk", chunkIndex), zap.Int("items", len(chunk)))

		results := o.runChunk(ctx, chunk, state.Clone())
		if ctx.Err() != nil {
			summary.addFailures(results)
			break
		}

		apply(&state, results)
		summary.addFailures(results)
		summary.ChunksProcessed++
		state.LastChunkIndex = chunkIndex
		if !o.options.DryRun {
			if err := o.store.Save(ctx, state); err != nil {
				summary.finish(o.stats, started)
				return summary, errors.Wrapf(err, "save checkpoint after chunk %d", chunkIndex)
			}
			o.events.Emit(events.CheckpointSaved,
				zap.Int("chunk", chunkIndex),
				zap.Int("completed", len(state.Completed)),
				zap.Int("failed", len(state.Failed)),
			)
		}
		o.events.Emit(events.ChunkCompleted, zap.Int("chunk", chunkIndex), zap.Any("stats", o.stats.Snapshot()))
	}

	summary.finish(o.stats, started)
	if err := ctx.Err(); err != nil {
		summary.Interrupted = true
		o.events.Emit(events.RunInterrupted, zap.Int("chunks_processed", summary.ChunksProcessed))
		return summary, errors.Mark(errors.Wrap(err, "run interrupted"), ErrInterrupted)
	}
	o.events.Emit(events.RunCompleted, zap.Any("stats", summary.Stats), zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (o *Orchestrator) runChunk(ctx context.Context, chunk []WorkItem, snapshot checkpoint.State) []ItemResult {
	results := make([]ItemResult, len(chunk))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.options.Concurrency)
	for i := range chunk {
		group.Go(func() error {
			results[i] = o.processor.Process(groupCtx, chunk[i], snapshot)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// apply folds chunk outcomes into the checkpoint in input order.
func apply(state *checkpoint.State, results []ItemResult) {
	for _, result := range results {
		switch result.Outcome {
		case OutcomePersisted:
			state.MarkCompleted(result.Key)
		case OutcomeSkipped:
			if result.AlreadyPersisted {
				state.MarkCompleted(result.Key)
			}
		case OutcomeRejected, OutcomeFailed:
			state.MarkFailed(result.Key)
		}
	}
}

// Chunk splits keys into contiguous chunks of size, numbering items by input
// position.
func Chunk(keys []string, size int) [][]WorkItem {
	if size <= 0 {
		size = 1
	}
	var chunks [][]WorkItem
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunk := make([]WorkItem, 0, end-start)
		for index := start; index < end; index++ {
			chunk = append(chunk, WorkItem{Key: keys[index], Index: index})
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
