package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"repovault/internal/model"
)

// DownloadOptions tunes client download operations.
type DownloadOptions struct {
	// URLTTL is how long an issued presigned URL remains valid.
	URLTTL time.Duration
	// DownloadTTL is how long a download operation may stay uncollected.
	DownloadTTL time.Duration
}

// DownloadService hands backups to clients. Warm-class backups resolve
// synchronously to a presigned URL; cold-class backups go through a
// retrieval job and resolve when the caller polls after the restore
// completes.
type DownloadService struct {
	store     StateStore
	ledger    Ledger
	archive   ArchiveStore
	retrieval *RetrievalTracker
	clock     Clock
	idgen     IDGenerator
	logger    Logger
	opts      DownloadOptions
}

// NewDownloadService creates a DownloadService with the provided dependencies.
func NewDownloadService(store StateStore, ledger Ledger, archive ArchiveStore, retrieval *RetrievalTracker, clock Clock, idgen IDGenerator, logger Logger, opts DownloadOptions) *DownloadService {
	return &DownloadService{
		store:     store,
		ledger:    ledger,
		archive:   archive,
		retrieval: retrieval,
		clock:     clock,
		idgen:     idgen,
		logger:    logger,
		opts:      opts,
	}
}

// ErrDownloadNotFound is returned by Get for an unknown operation id.
var ErrDownloadNotFound = errors.New("download operation not found")

// Request starts a download of the given backup for subject. An empty
// version selects the newest backup of the repository.
func (s *DownloadService) Request(ctx context.Context, repository, version, subject string, tier model.RetrievalTier) (*model.DownloadOperation, error) {
	var rec *model.BackupRecord
	var err error
	if version == "" {
		rec, err = s.store.LatestBackup(ctx, repository)
	} else {
		rec, err = s.store.GetBackup(ctx, repository, version)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up backup: %w", err)
	}
	if rec == nil {
		return nil, NotFound(fmt.Errorf("no backup %q for repository %s", version, repository))
	}

	now := s.clock.Now()
	op := &model.DownloadOperation{
		ID:         s.idgen.New(),
		Repository: repository,
		Version:    rec.Version,
		Subject:    subject,
		Status:     model.DownloadRequested,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.opts.DownloadTTL),
	}

	if rec.StorageClass.Cold() {
		job, rerr := s.retrieval.Request(ctx, repository, rec.Version, tier)
		if rerr != nil {
			op.Status = model.DownloadFailed
			op.Error = rerr.Error()
			if serr := s.store.SaveDownload(ctx, op); serr != nil {
				return nil, fmt.Errorf("saving download: %w", serr)
			}
			s.audit(ctx, op, rerr)
			return op, fmt.Errorf("starting retrieval: %w", rerr)
		}
		op.Status = model.DownloadInProgress
		op.RetrievalJobID = job.ID
	} else {
		if perr := s.presign(ctx, op, rec.Key); perr != nil {
			return nil, perr
		}
	}

	if err := s.store.SaveDownload(ctx, op); err != nil {
		return nil, fmt.Errorf("saving download: %w", err)
	}
	s.audit(ctx, op, nil)
	s.logger.Info("download requested",
		"download_id", op.ID, "repository", repository, "version", op.Version, "status", op.Status)
	return op, nil
}

// Get reports the state of a download, advancing it when its linked
// retrieval job has finished since the last look.
func (s *DownloadService) Get(ctx context.Context, id string) (*model.DownloadOperation, error) {
	op, err := s.store.GetDownload(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading download: %w", err)
	}
	if op == nil {
		return nil, NotFound(ErrDownloadNotFound)
	}
	if op.Status.Terminal() {
		return op, nil
	}

	now := s.clock.Now()
	if now.After(op.ExpiresAt) {
		return s.fail(ctx, op, "download not collected before expiry")
	}

	if op.RetrievalJobID == "" {
		return op, nil
	}
	job, err := s.retrieval.Poll(ctx, op.RetrievalJobID)
	if err != nil {
		return nil, fmt.Errorf("polling retrieval job: %w", err)
	}

	switch job.Status {
	case model.RetrievalCompleted:
		rec, err := s.store.GetBackup(ctx, op.Repository, op.Version)
		if err != nil || rec == nil {
			return s.fail(ctx, op, "backup record disappeared during retrieval")
		}
		if perr := s.presign(ctx, op, rec.Key); perr != nil {
			return nil, perr
		}
		if serr := s.store.SaveDownload(ctx, op); serr != nil {
			return nil, fmt.Errorf("saving download: %w", serr)
		}
		s.audit(ctx, op, nil)
		s.logger.Info("download ready", "download_id", op.ID, "repository", op.Repository)
		return op, nil
	case model.RetrievalFailed, model.RetrievalExpired:
		return s.fail(ctx, op, fmt.Sprintf("retrieval %s: %s", job.Status, job.Reason))
	default:
		return op, nil
	}
}

// ListForRepository returns the download history of one repository.
func (s *DownloadService) ListForRepository(ctx context.Context, repository string) ([]*model.DownloadOperation, error) {
	ops, err := s.store.ListDownloads(ctx, repository)
	if err != nil {
		return nil, fmt.Errorf("listing downloads: %w", err)
	}
	return ops, nil
}

// presign fills op with a fresh URL and marks it completed.
func (s *DownloadService) presign(ctx context.Context, op *model.DownloadOperation, key string) error {
	url, err := s.archive.PresignGet(ctx, key, s.opts.URLTTL)
	if err != nil {
		return fmt.Errorf("presigning %s: %w", key, err)
	}
	expires := s.clock.Now().Add(s.opts.URLTTL)
	op.Status = model.DownloadCompleted
	op.URL = url
	op.URLExpiresAt = &expires
	return nil
}

func (s *DownloadService) fail(ctx context.Context, op *model.DownloadOperation, reason string) (*model.DownloadOperation, error) {
	op.Status = model.DownloadFailed
	op.Error = reason
	if err := s.store.SaveDownload(ctx, op); err != nil {
		return nil, fmt.Errorf("saving download: %w", err)
	}
	s.audit(ctx, op, errors.New(reason))
	s.logger.Info("download failed", "download_id", op.ID, "reason", reason)
	return op, nil
}

func (s *DownloadService) audit(ctx context.Context, op *model.DownloadOperation, taskErr error) {
	appendAudit(ctx, s.ledger, s.idgen, s.clock, s.logger, model.CategoryDownload, op.Repository, taskErr, map[string]any{
		"download_id": op.ID,
		"version":     op.Version,
		"subject":     op.Subject,
		"status":      string(op.Status),
	})
}
