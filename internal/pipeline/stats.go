package pipeline

import "sync/atomic"

// Stats counts item outcomes for one run. Safe for concurrent use.
type Stats struct {
	Total              atomic.Int64
	Success            atomic.Int64
	Failed             atomic.Int64
	Skipped            atomic.Int64
	StructuralFailures atomic.Int64
	TokensUsed         atomic.Int64
	ValidationWarnings atomic.Int64
	AnalysisSuccess    atomic.Int64
	AnalysisFailed     atomic.Int64
	DryRunReady        atomic.Int64
	Retries            atomic.Int64
}

// AddTokens implements generation.TokenCounter.
func (s *Stats) AddTokens(n int64) { s.TokensUsed.Add(n) }

// AddRetry implements generation.RetryCounter.
func (s *Stats) AddRetry() { s.Retries.Add(1) }

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Total              int64 `json:"total"`
	Success            int64 `json:"success"`
	Failed             int64 `json:"failed"`
	Skipped            int64 `json:"skipped"`
	StructuralFailures int64 `json:"structural_failures"`
	TokensUsed         int64 `json:"tokens_used"`
	ValidationWarnings int64 `json:"validation_warnings"`
	AnalysisSuccess    int64 `json:"analysis_success"`
	AnalysisFailed     int64 `json:"analysis_failed"`
	DryRunReady        int64 `json:"dry_run_ready"`
	Retries            int64 `json:"retries"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Total:              s.Total.Load(),
		Success:            s.Success.Load(),
		Failed:             s.Failed.Load(),
		Skipped:            s.Skipped.Load(),
		StructuralFailures: s.StructuralFailures.Load(),
		TokensUsed:         s.TokensUsed.Load(),
		ValidationWarnings: s.ValidationWarnings.Load(),
		AnalysisSuccess:    s.AnalysisSuccess.Load(),
		AnalysisFailed:     s.AnalysisFailed.Load(),
		DryRunReady:        s.DryRunReady.Load(),
		Retries:            s.Retries.Load(),
	}
}
