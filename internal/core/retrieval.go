package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"repovault/internal/model"
)

// RetrievalOptions tunes cold-storage restores.
type RetrievalOptions struct {
	// RestoreDays is how long storage keeps a restored copy available.
	RestoreDays int
	// JobTTL is how long a job may stay uncollected before it expires.
	JobTTL time.Duration
}

// RetrievalTracker drives asynchronous restores from cold storage
// classes. Progress is observed only when a caller polls; there is no
// background watcher.
type RetrievalTracker struct {
	store   StateStore
	ledger  Ledger
	archive ArchiveStore
	clock   Clock
	idgen   IDGenerator
	logger  Logger
	opts    RetrievalOptions
}

// NewRetrievalTracker creates a RetrievalTracker with the provided dependencies.
func NewRetrievalTracker(store StateStore, ledger Ledger, archive ArchiveStore, clock Clock, idgen IDGenerator, logger Logger, opts RetrievalOptions) *RetrievalTracker {
	return &RetrievalTracker{
		store:   store,
		ledger:  ledger,
		archive: archive,
		clock:   clock,
		idgen:   idgen,
		logger:  logger,
		opts:    opts,
	}
}

// Request starts a restore of the given backup. The backup must sit in a
// cold storage class; warmer classes are directly accessible and never
// need a retrieval job.
func (t *RetrievalTracker) Request(ctx context.Context, repository, version string, tier model.RetrievalTier) (*model.RetrievalJob, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("unknown retrieval tier %q", tier)
	}

	rec, err := t.store.GetBackup(ctx, repository, version)
	if err != nil {
		return nil, fmt.Errorf("looking up backup: %w", err)
	}
	if rec == nil {
		return nil, NotFound(fmt.Errorf("no backup %s for repository %s", version, repository))
	}
	if !rec.StorageClass.Cold() {
		return nil, fmt.Errorf("backup %s is in class %s and needs no retrieval", rec.Key, rec.StorageClass)
	}

	now := t.clock.Now()
	job := &model.RetrievalJob{
		ID:          t.idgen.New(),
		Repository:  repository,
		Version:     version,
		Tier:        tier,
		Status:      model.RetrievalRequested,
		Handle:      rec.Key,
		RequestedAt: now,
		ExpiresAt:   now.Add(t.opts.JobTTL),
	}

	// Restore is idempotent upstream: re-requesting an in-flight restore
	// is accepted without starting a second one.
	restoreErr := t.archive.Restore(ctx, rec.Key, tier, t.opts.RestoreDays)
	if restoreErr != nil {
		job.Status = model.RetrievalFailed
		job.Reason = restoreErr.Error()
		completed := now
		job.CompletedAt = &completed
	} else {
		job.Status = model.RetrievalInProgress
	}

	if serr := t.store.SaveRetrievalJob(ctx, job); serr != nil {
		return nil, fmt.Errorf("saving retrieval job: %w", serr)
	}
	t.audit(ctx, repository, restoreErr, map[string]any{
		"job_id":  job.ID,
		"version": version,
		"tier":    string(tier),
		"status":  string(job.Status),
	})
	if restoreErr != nil {
		return job, fmt.Errorf("requesting restore of %s: %w", rec.Key, restoreErr)
	}

	t.logger.Info("retrieval requested",
		"job_id", job.ID, "repository", repository, "version", version, "tier", tier)
	return job, nil
}

// ErrJobNotFound is returned by Poll for an unknown job id.
var ErrJobNotFound = errors.New("retrieval job not found")

// Poll reports the current state of a job, advancing it if storage has
// made progress since the last look. Terminal jobs are returned as-is;
// polling them again never changes anything.
func (t *RetrievalTracker) Poll(ctx context.Context, id string) (*model.RetrievalJob, error) {
	job, err := t.store.GetRetrievalJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading retrieval job: %w", err)
	}
	if job == nil {
		return nil, NotFound(ErrJobNotFound)
	}
	if job.Status.Terminal() {
		return job, nil
	}

	now := t.clock.Now()
	if now.After(job.ExpiresAt) {
		// Expiry is observed at read time; nothing watches idle jobs.
		return t.finish(ctx, job, model.RetrievalExpired, "job not collected before expiry")
	}

	info, err := t.archive.Head(ctx, job.Handle)
	if err != nil {
		if IsNotFound(err) {
			return t.finish(ctx, job, model.RetrievalFailed, "archived object no longer exists")
		}
		return nil, fmt.Errorf("checking restore progress: %w", err)
	}

	switch info.Restore {
	case RestoreReady:
		return t.finish(ctx, job, model.RetrievalCompleted, "")
	case RestoreNone:
		// The restored copy lapsed before anyone collected it.
		return t.finish(ctx, job, model.RetrievalExpired, "restored copy lapsed")
	default:
		return job, nil
	}
}

func (t *RetrievalTracker) finish(ctx context.Context, job *model.RetrievalJob, status model.RetrievalStatus, reason string) (*model.RetrievalJob, error) {
	now := t.clock.Now()
	job.Status = status
	job.Reason = reason
	job.CompletedAt = &now

	if err := t.store.SaveRetrievalJob(ctx, job); err != nil {
		return nil, fmt.Errorf("saving retrieval job: %w", err)
	}

	var auditErr error
	if status != model.RetrievalCompleted {
		auditErr = errors.New(reason)
	}
	t.audit(ctx, job.Repository, auditErr, map[string]any{
		"job_id":  job.ID,
		"version": job.Version,
		"status":  string(status),
	})
	t.logger.Info("retrieval job finished", "job_id", job.ID, "status", status, "reason", reason)
	return job, nil
}

func (t *RetrievalTracker) audit(ctx context.Context, subject string, taskErr error, detail map[string]any) {
	appendAudit(ctx, t.ledger, t.idgen, t.clock, t.logger, model.CategoryDownload, subject, taskErr, detail)
}
