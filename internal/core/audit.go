package core

import (
	"context"
	"fmt"

	"repovault/internal/model"
)

// appendAudit writes one ledger event. A ledger outage is logged rather
// than propagated so it never fails the operation being recorded.
func appendAudit(ctx context.Context, ledger Ledger, idgen IDGenerator, clock Clock, logger Logger,
	category model.EventCategory, subject string, taskErr error, detail map[string]any) {
	event := &model.AuditEvent{
		ID:        idgen.New(),
		Timestamp: clock.Now(),
		Category:  category,
		Subject:   subject,
		Outcome:   model.OutcomeSuccess,
		Detail:    detail,
	}
	if taskErr != nil {
		event.Outcome = model.OutcomeFailure
		event.Error = taskErr.Error()
	}
	if err := ledger.Append(ctx, event); err != nil {
		logger.Error("appending audit event failed", "category", category, "subject", subject, "error", err)
	}
}

// auditRunSummary records a whole run as one ledger event. The event is
// a failure when any item failed; the detail names the failed items so
// the ledger alone tells the run's story.
func auditRunSummary(ctx context.Context, ledger Ledger, idgen IDGenerator, clock Clock, logger Logger,
	category model.EventCategory, summary *model.RunSummary) {
	detail := map[string]any{
		"total":     summary.Total,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}
	var runErr error
	if summary.Failed > 0 {
		subjects := make([]string, 0, len(summary.Failures))
		for _, f := range summary.Failures {
			subjects = append(subjects, f.Item)
		}
		detail["failures"] = subjects
		runErr = fmt.Errorf("%d of %d items failed", summary.Failed, summary.Total)
	}
	appendAudit(ctx, ledger, idgen, clock, logger, category, "fleet", runErr, detail)
}
