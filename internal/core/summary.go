package core

import (
	"time"

	"repovault/internal/model"
)

// summarize folds per-item fan-out results into a RunSummary. Every item
// lands in exactly one of the succeeded or failed counts.
func summarize(kind string, started, finished time.Time, results []ItemResult) *model.RunSummary {
	summary := &model.RunSummary{
		Kind:       kind,
		StartedAt:  started,
		FinishedAt: finished,
		Total:      len(results),
	}
	for _, r := range results {
		if r.Err == nil {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, model.TaskFailure{
			Item:     r.Item,
			Reason:   string(Classify(r.Err)),
			Error:    r.Err.Error(),
			Attempts: r.Attempts,
			Skipped:  IsNotFound(r.Err),
		})
	}
	return summary
}
