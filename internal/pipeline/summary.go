package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// FailedPreviewLimit is how many failed keys a summary line names.
const FailedPreviewLimit = 5

// Summary describes a finished or interrupted run.
type Summary struct {
	RunID           string
	Items           int
	Chunks          int
	StartChunk      int
	ChunksProcessed int
	DryRun          bool
	Interrupted     bool
	Stats           StatsSnapshot
	FailedKeys      []string
	Duration        time.Duration
}

func (s *Summary) addFailures(results []ItemResult) {
	for _, result := range results {
		if result.Outcome == OutcomeFailed || result.Outcome == OutcomeRejected {
			s.FailedKeys = append(s.FailedKeys, result.Key)
		}
	}
}

func (s *Summary) finish(stats *Stats, started time.Time) {
	s.Stats = stats.Snapshot()
	s.Duration = time.Since(started)
}

// FailedPreview names the first failed keys, e.g. "a, b, c, d, e (+3 more)".
func (s Summary) FailedPreview() string {
	return previewKeys(s.FailedKeys, FailedPreviewLimit)
}

func previewKeys(keys []string, limit int) string {
	if len(keys) <= limit {
		return strings.Join(keys, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(keys[:limit], ", "), len(keys)-limit)
}

// Pricing is the per-item token estimate and the price per 1000 tokens.
type Pricing struct {
	InputTokensPerItem  int     `yaml:"input_tokens_per_item"`
	OutputTokensPerItem int     `yaml:"output_tokens_per_item"`
	InputCostPer1K      float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K     float64 `yaml:"output_cost_per_1k"`
}

// Estimate is the projected token usage and cost of a run.
type Estimate struct {
	Items        int
	Passes       int
	InputTokens  int64
	OutputTokens int64
	InputCost    float64
	OutputCost   float64
}

// TotalCost sums input and output cost.
func (e Estimate) TotalCost() float64 { return e.InputCost + e.OutputCost }

// EstimateCost projects a run over items; the analysis pass doubles the calls.
func EstimateCost(items int, analysis bool, pricing Pricing) Estimate {
	passes := 1
	if analysis {
		passes = 2
	}
	inputTokens := int64(items) * int64(pricing.InputTokensPerItem) * int64(passes)
	outputTokens := int64(items) * int64(pricing.OutputTokensPerItem) * int64(passes)
	return Estimate{
		Items:        items,
		Passes:       passes,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		InputCost:    float64(inputTokens) / 1000 * pricing.InputCostPer1K,
		OutputCost:   float64(outputTokens) / 1000 * pricing.OutputCostPer1K,
	}
}
