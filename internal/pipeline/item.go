// Package pipeline drives work items through generation, parsing, validation
// and persistence, chunk by chunk.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/temirov/genbatch/internal/checkpoint"
	"github.com/temirov/genbatch/internal/document"
	"github.com/temirov/genbatch/internal/events"
	"github.com/temirov/genbatch/internal/generation"
	"github.com/temirov/genbatch/internal/parser"
	"github.com/temirov/genbatch/internal/prompts"
	"github.com/temirov/genbatch/internal/refine"
	"github.com/temirov/genbatch/internal/storage"
	"github.com/temirov/genbatch/internal/validate"
)

// ErrPreconditionMissing is returned when a required input artifact is absent.
var ErrPreconditionMissing = errors.New("required input missing")

// Derivative artifact kinds.
const (
	DebugKind    = "raw-response.txt"
	AnalysisKind = "analysis.yaml"
	RefinedKind  = "refined.yaml"
)

// QualityScoreKey is the section the validator's score is embedded under.
const QualityScoreKey = "quality_score"

// Outcome is the terminal state of an item.
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDryRun    Outcome = "dry_run"
)

// WorkItem is one key in input order.
type WorkItem struct {
	Key   string
	Index int
}

// ItemResult reports how an item ended.
type ItemResult struct {
	Key          string
	Index        int
	Outcome      Outcome
	Stage        string
	Strategy     string
	QualityScore float64
	Issues       []string
	Err          error
	// AlreadyPersisted is set on skips caused by an existing output rather
	// than the checkpoint.
	AlreadyPersisted bool
}

// Input declares an artifact role the prompt consumes.
type Input struct {
	Role     string
	Required bool
}

// Generator performs generation calls.
type Generator interface {
	Generate(ctx context.Context, key string, request generation.Request) (generation.Result, error)
}

// Renderer renders prompts for an item.
type Renderer interface {
	Render(data prompts.Data) (generation.Request, error)
}

// Analysis configures the optional second pass.
type Analysis struct {
	Renderer Renderer
	Target   refine.Target
}

// ItemConfig holds per-recipe item settings.
type ItemConfig struct {
	Inputs   []Input
	Schema   validate.Schema
	Format   parser.Format
	Force    bool
	DryRun   bool
	Analysis *Analysis
}

// Dependencies are the collaborators of a Processor.
type Dependencies struct {
	Loader    storage.Loader
	Writer    storage.Writer
	Renderer  Renderer
	Generator Generator
	Stats     *Stats
	Events    *events.Stream
}

// Processor runs the item state machine.
type Processor struct {
	config     ItemConfig
	deps       Dependencies
	strategies []parser.Strategy
}

// NewProcessor wires a processor. Missing Stats and Events are replaced by
// private instances.
func NewProcessor(config ItemConfig, deps Dependencies) *Processor {
	if deps.Stats == nil {
		deps.Stats = &Stats{}
	}
	if deps.Events == nil {
		deps.Events = events.Nop()
	}
	cascade := parser.New(parser.Options{
		Format:   config.Format,
		Sections: config.Schema.SectionNames(),
		Required: config.Schema.RequiredNames(),
	})
	return &Processor{config: config, deps: deps, strategies: cascade.Strategies()}
}

// Stats returns the counters the processor updates.
func (p *Processor) Stats() *Stats { return p.deps.Stats }

// MissingInputs lists the required roles with no usable artifact for key.
func (p *Processor) MissingInputs(ctx context.Context, key string) ([]string, error) {
	_, missing, err := p.load(ctx, key)
	return missing, err
}

// Process takes one item to a terminal state. state is the checkpoint as of
// the start of the chunk and is only read. Errors never escape; they are
// reported in the result.
func (p *Processor) Process(ctx context.Context, item WorkItem, state checkpoint.State) (result ItemResult) {
	result = ItemResult{Key: item.Key, Index: item.Index}
	p.deps.Stats.Total.Add(1)
	stage := "pending"

	defer func() {
		recovered := recover()
		switch {
		case recovered == nil:
		case stage == "analysis":
			p.deps.Stats.AnalysisFailed.Add(1)
			p.deps.Events.Warn(item.Key, events.AnalysisFailed, zap.String("panic", fmt.Sprint(recovered)))
		default:
			result = p.fail(result, stage, errors.Newf("panic: %v", recovered))
		}
	}()

	if !p.config.Force {
		skip, alreadyPersisted, err := p.shouldSkip(ctx, item.Key, state)
		if err != nil {
			return p.fail(result, stage, err)
		}
		if skip {
			p.deps.Stats.Skipped.Add(1)
			p.deps.Events.Item(item.Key, events.ItemSkipped, zap.Bool("output_exists", alreadyPersisted))
			result.Outcome = OutcomeSkipped
			result.AlreadyPersisted = alreadyPersisted
			return result
		}
	}

	stage = "loading"
	p.deps.Events.Item(item.Key, events.ItemLoading)
	inputs, missing, err := p.load(ctx, item.Key)
	if err != nil {
		return p.fail(result, stage, err)
	}
	if len(missing) > 0 {
		p.deps.Events.Item(item.Key, events.PreconditionFail, zap.Strings("roles", missing))
		return p.fail(result, stage, errors.Wrapf(ErrPreconditionMissing, "missing %s", strings.Join(missing, ", ")))
	}

	data := prompts.Data{Key: item.Key, Inputs: inputs}
	request, err := p.deps.Renderer.Render(data)
	if err != nil {
		return p.fail(result, stage, err)
	}

	if p.config.DryRun {
		p.deps.Stats.DryRunReady.Add(1)
		p.deps.Events.Item(item.Key, events.ItemDryRun,
			zap.Int("prompt_chars", len(request.SystemPrompt)+len(request.UserPrompt)))
		result.Outcome = OutcomeDryRun
		return result
	}

	stage = "generating"
	p.deps.Events.Item(item.Key, events.ItemGenerating, zap.String("model", request.Model))
	generated, err := p.deps.Generator.Generate(ctx, item.Key, request)
	if err != nil {
		return p.fail(result, stage, err)
	}

	stage = "parsing"
	p.deps.Events.Item(item.Key, events.ItemParsing,
		zap.Int("response_chars", len(generated.Text)),
		zap.Int("total_tokens", generated.Usage.TotalTokens),
		zap.Int("attempts", generated.Attempts),
		zap.Duration("latency", generated.Latency),
	)
	doc, strategy, err := p.parser(ctx).Parse(item.Key, generated.Text)
	if err != nil {
		return p.fail(result, stage, err)
	}
	result.Strategy = strategy.Name()

	stage = "validating"
	report := validate.Validate(doc, p.config.Schema)
	result.QualityScore = report.QualityScore
	result.Issues = report.Issues
	p.deps.Events.Item(item.Key, events.ItemValidating,
		zap.String("strategy", result.Strategy),
		zap.Float64(QualityScoreKey, report.QualityScore),
		zap.Int("issues", len(report.Issues)),
	)
	if report.HardReject {
		p.deps.Stats.StructuralFailures.Add(1)
		p.deps.Stats.Failed.Add(1)
		p.deps.Events.Item(item.Key, events.ItemRejected, zap.Strings("issues", report.Issues))
		result.Outcome = OutcomeRejected
		result.Stage = stage
		result.Err = report.Err()
		return result
	}
	if len(report.Issues) > 0 {
		p.deps.Stats.ValidationWarnings.Add(int64(len(report.Issues)))
		p.deps.Events.Warn(item.Key, events.ValidationWarning, zap.Strings("issues", report.Issues))
	}
	if threshold := p.config.Schema.QualityThreshold; threshold > 0 && report.QualityScore < threshold {
		p.deps.Events.Warn(item.Key, events.QualityBelow,
			zap.Float64(QualityScoreKey, report.QualityScore), zap.Float64("threshold", threshold))
	}

	stage = "persisting"
	persisted := doc.Clone()
	persisted.Set(QualityScoreKey, document.Scalar{V: report.QualityScore})
	if err := p.deps.Writer.Write(ctx, item.Key, persisted); err != nil {
		return p.fail(result, stage, errors.Wrapf(err, "persist %q", item.Key))
	}
	p.deps.Stats.Success.Add(1)
	p.deps.Events.Item(item.Key, events.ItemPersisted, zap.Float64(QualityScoreKey, report.QualityScore))
	result.Outcome = OutcomePersisted

	if p.config.Analysis != nil {
		stage = "analysis"
		if err := p.analyze(ctx, data, persisted); err != nil {
			p.deps.Stats.AnalysisFailed.Add(1)
			p.deps.Events.Warn(item.Key, events.AnalysisFailed, zap.Error(err))
		} else {
			p.deps.Stats.AnalysisSuccess.Add(1)
		}
	}
	return result
}

func (p *Processor) shouldSkip(ctx context.Context, key string, state checkpoint.State) (skip bool, alreadyPersisted bool, err error) {
	if state.IsCompleted(key) {
		return true, false, nil
	}
	exists, err := p.deps.Writer.Exists(ctx, key)
	if err != nil {
		return false, false, errors.Wrapf(err, "check output for %q", key)
	}
	return exists, exists, nil
}

func (p *Processor) load(ctx context.Context, key string) (map[string]string, []string, error) {
	inputs := make(map[string]string, len(p.config.Inputs))
	var missing []string
	for _, input := range p.config.Inputs {
		data, err := p.deps.Loader.Load(ctx, key, input.Role)
		switch {
		case errors.Is(err, storage.ErrArtifactNotFound):
			if input.Required {
				missing = append(missing, input.Role)
			}
			inputs[input.Role] = ""
		case err != nil:
			return nil, nil, errors.Wrapf(err, "load %s for %q", input.Role, key)
		default:
			inputs[input.Role] = string(data)
		}
	}
	return inputs, missing, nil
}

func (p *Processor) parser(ctx context.Context) *parser.Parser {
	sink := parser.DebugSinkFunc(func(key string, content []byte) error {
		return p.deps.Writer.WriteDerivative(ctx, key, DebugKind, content)
	})
	return parser.NewWithStrategies(sink, p.strategies...)
}

func (p *Processor) analyze(ctx context.Context, data prompts.Data, persisted document.Document) error {
	analysis := p.config.Analysis
	p.deps.Events.Item(data.Key, events.AnalysisStarted)

	encoded, err := storage.Encode("document.yaml", persisted)
	if err != nil {
		return err
	}
	data.Document = string(encoded)
	request, err := analysis.Renderer.Render(data)
	if err != nil {
		return err
	}
	generated, err := p.deps.Generator.Generate(ctx, data.Key, request)
	if err != nil {
		return err
	}
	if err := p.deps.Writer.WriteDerivative(ctx, data.Key, AnalysisKind, []byte(generated.Text)); err != nil {
		return errors.Wrap(err, "save analysis")
	}

	decisions, err := refine.ParseDecisions(generated.Text)
	if err != nil {
		return err
	}
	refined, summary, err := refine.Apply(persisted, analysis.Target, decisions)
	if err != nil {
		return err
	}
	payload, err := storage.Encode(RefinedKind, refined)
	if err != nil {
		return err
	}
	if err := p.deps.Writer.WriteDerivative(ctx, data.Key, RefinedKind, payload); err != nil {
		return errors.Wrap(err, "save refined document")
	}
	p.deps.Events.Item(data.Key, events.AnalysisApplied,
		zap.Int("removed", summary.Removed),
		zap.Int("modified", summary.Modified),
		zap.Int("kept", summary.Kept),
	)
	return nil
}

func (p *Processor) fail(result ItemResult, stage string, err error) ItemResult {
	p.deps.Stats.Failed.Add(1)
	p.deps.Events.Item(result.Key, events.ItemFailed, zap.String("stage", stage), zap.Error(err))
	result.Outcome = OutcomeFailed
	result.Stage = stage
	result.Err = err
	return result
}

// String renders a one-line description for logs.
func (r ItemResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s at %s: %v", r.Key, r.Outcome, r.Stage, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Key, r.Outcome)
}
