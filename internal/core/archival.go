package core

import (
	"context"
	"fmt"
	"time"

	"repovault/internal/model"
)

// ArchivalOptions tunes the archival fan-out and the age thresholds at
// which a backup becomes eligible for each storage class.
type ArchivalOptions struct {
	Concurrency int
	Attempts    int
	BackoffBase time.Duration
	TaskTimeout time.Duration

	WarmAfter time.Duration
	ColdAfter time.Duration
	DeepAfter time.Duration

	// Sleep overrides backoff waits in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ArchivalOrchestrator demotes aging backups through the storage-class
// ladder. Transitions are strictly forward and move one tier per run, so
// a backup that skipped several runs still descends step by step.
type ArchivalOrchestrator struct {
	store    StateStore
	ledger   Ledger
	archive  ArchiveStore
	notifier Notifier
	clock    Clock
	idgen    IDGenerator
	logger   Logger
	opts     ArchivalOptions
}

// NewArchivalOrchestrator creates an ArchivalOrchestrator with the provided dependencies.
func NewArchivalOrchestrator(store StateStore, ledger Ledger, archive ArchiveStore, notifier Notifier, clock Clock, idgen IDGenerator, logger Logger, opts ArchivalOptions) *ArchivalOrchestrator {
	return &ArchivalOrchestrator{
		store:    store,
		ledger:   ledger,
		archive:  archive,
		notifier: notifier,
		clock:    clock,
		idgen:    idgen,
		logger:   logger,
		opts:     opts,
	}
}

// transition pairs a backup with the class it is due to enter.
type transition struct {
	rec    *model.BackupRecord
	target model.StorageClass
}

// Run evaluates every non-terminal backup and applies the transitions
// that are due. Running twice in a row is safe: the second run finds
// nothing eligible.
func (o *ArchivalOrchestrator) Run(ctx context.Context) (*model.RunSummary, error) {
	now := o.clock.Now()

	var due []transition
	for _, class := range []model.StorageClass{model.ClassHot, model.ClassWarmIA, model.ClassCold} {
		recs, err := o.store.ListBackupsInClass(ctx, class)
		if err != nil {
			return nil, fmt.Errorf("listing %s backups: %w", class, err)
		}
		for _, rec := range recs {
			target, ok := rec.StorageClass.Next()
			if !ok {
				continue
			}
			if now.Sub(rec.CreatedAt) >= o.thresholdFor(target) {
				due = append(due, transition{rec: rec, target: target})
			}
		}
	}

	started := o.clock.Now()
	o.logger.Info("archival run starting", "eligible", len(due), "concurrency", o.opts.Concurrency)

	fo := &FanOut[transition]{
		Concurrency: o.opts.Concurrency,
		Attempts:    o.opts.Attempts,
		BackoffBase: o.opts.BackoffBase,
		TaskTimeout: o.opts.TaskTimeout,
		Sleep:       o.opts.Sleep,
		Logger:      o.logger,
	}

	results, runErr := fo.Run(ctx, due,
		func(t transition) string { return t.rec.Key },
		func(ctx context.Context, t transition, attempt int) error {
			return o.transitionOne(ctx, t, attempt)
		})

	summary := summarize("archival", started, o.clock.Now(), results)
	auditRunSummary(ctx, o.ledger, o.idgen, o.clock, o.logger, model.CategoryArchival, summary)

	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, summary); err != nil {
			o.logger.Warn("notifying run summary failed", "error", err)
		}
	}

	o.logger.Info("archival run finished",
		"total", summary.Total, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, runErr
}

// thresholdFor returns the minimum age a backup must reach before it may
// enter the given class.
func (o *ArchivalOrchestrator) thresholdFor(class model.StorageClass) time.Duration {
	switch class {
	case model.ClassWarmIA:
		return o.opts.WarmAfter
	case model.ClassCold:
		return o.opts.ColdAfter
	default:
		return o.opts.DeepAfter
	}
}

// transitionOne moves a single backup one tier down and records the new
// class. Re-running after a partial failure converges: the storage-side
// move is idempotent and the record update follows it.
func (o *ArchivalOrchestrator) transitionOne(ctx context.Context, t transition, attempt int) error {
	err := o.archive.Transition(ctx, t.rec.Key, t.target)
	if err == nil {
		err = o.store.SetBackupClass(ctx, t.rec.Key, t.target)
	}

	o.audit(ctx, t.rec.Repository, err, map[string]any{
		"key":      t.rec.Key,
		"version":  t.rec.Version,
		"from":     string(t.rec.StorageClass),
		"to":       string(t.target),
		"attempts": attempt,
	})
	if err != nil {
		return fmt.Errorf("transitioning %s to %s: %w", t.rec.Key, t.target, err)
	}

	o.logger.Info("backup transitioned",
		"key", t.rec.Key, "from", t.rec.StorageClass, "to", t.target, "attempt", attempt)
	return nil
}

func (o *ArchivalOrchestrator) audit(ctx context.Context, subject string, taskErr error, detail map[string]any) {
	appendAudit(ctx, o.ledger, o.idgen, o.clock, o.logger, model.CategoryArchival, subject, taskErr, detail)
}
