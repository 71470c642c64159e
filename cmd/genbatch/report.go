package genbatch

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"

	"github.com/temirov/genbatch/internal/pipeline"
)

func writeEstimate(out io.Writer, recipeName string, estimate pipeline.Estimate) error {
	table, err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Recipe", "Items", "Passes", "Input tokens", "Output tokens", "Cost (USD)"},
		{
			recipeName,
			strconv.Itoa(estimate.Items),
			strconv.Itoa(estimate.Passes),
			strconv.FormatInt(estimate.InputTokens, 10),
			strconv.FormatInt(estimate.OutputTokens, 10),
			fmt.Sprintf("$%.4f", estimate.TotalCost()),
		},
	}).Srender()
	if err != nil {
		return errors.Wrap(err, "render cost estimate")
	}
	_, err = fmt.Fprintln(out, table)
	return err
}

// writePreflight reports how many keys have all required inputs.
func writePreflight(out io.Writer, total int, missing map[string][]string) error {
	ready := total - len(missing)
	if len(missing) == 0 {
		_, err := fmt.Fprint(out, pterm.Success.Sprintln(fmt.Sprintf("inputs ready for %d/%d keys", ready, total)))
		return err
	}

	keys := make([]string, 0, len(missing))
	for key := range missing {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	preview := make([]string, 0, pipeline.FailedPreviewLimit)
	for _, key := range keys {
		if len(preview) == pipeline.FailedPreviewLimit {
			break
		}
		preview = append(preview, fmt.Sprintf("%s (%s)", key, strings.Join(missing[key], ", ")))
	}
	line := fmt.Sprintf("inputs ready for %d/%d keys; missing: %s", ready, total, strings.Join(preview, "; "))
	if extra := len(keys) - len(preview); extra > 0 {
		line += fmt.Sprintf(" (+%d more)", extra)
	}
	_, err := fmt.Fprint(out, pterm.Warning.Sprintln(line))
	return err
}

func writeSummary(out io.Writer, summary pipeline.Summary, estimate *pipeline.Estimate) error {
	stats := summary.Stats
	rows := pterm.TableData{
		{"Metric", "Value"},
		{"Run", summary.RunID},
		{"Items", strconv.Itoa(summary.Items)},
		{"Chunks", fmt.Sprintf("%d/%d (from %d)", summary.ChunksProcessed, summary.Chunks, summary.StartChunk)},
		{"Processed", strconv.FormatInt(stats.Total, 10)},
		{"Succeeded", strconv.FormatInt(stats.Success, 10)},
		{"Failed", strconv.FormatInt(stats.Failed, 10)},
		{"Structural rejects", strconv.FormatInt(stats.StructuralFailures, 10)},
		{"Skipped", strconv.FormatInt(stats.Skipped, 10)},
		{"Validation warnings", strconv.FormatInt(stats.ValidationWarnings, 10)},
		{"Analysis ok/failed", fmt.Sprintf("%d/%d", stats.AnalysisSuccess, stats.AnalysisFailed)},
		{"Retries", strconv.FormatInt(stats.Retries, 10)},
		{"Tokens", strconv.FormatInt(stats.TokensUsed, 10)},
		{"Duration", summary.Duration.Round(time.Millisecond).String()},
	}
	if summary.DryRun {
		rows = append(rows, []string{"Dry-run ready", strconv.FormatInt(stats.DryRunReady, 10)})
	}
	if estimate != nil {
		rows = append(rows, []string{"Estimated cost", fmt.Sprintf("$%.4f (%d passes)", estimate.TotalCost(), estimate.Passes)})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return errors.Wrap(err, "render run summary")
	}
	if _, err := fmt.Fprintln(out, table); err != nil {
		return err
	}

	switch {
	case summary.Interrupted:
		_, err = fmt.Fprint(out, pterm.Warning.Sprintln(fmt.Sprintf("interrupted after %d chunk(s); rerun with --%s to continue", summary.ChunksProcessed, resumeFlagName)))
	case len(summary.FailedKeys) > 0:
		_, err = fmt.Fprint(out, pterm.Error.Sprintln(fmt.Sprintf("failed keys: %s", summary.FailedPreview())))
	default:
		_, err = fmt.Fprint(out, pterm.Success.Sprintln("run completed"))
	}
	return err
}
