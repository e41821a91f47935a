package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"repovault/internal/model"
)

// FinalVersion marks the single immutable backup taken of a repository
// after it was archived upstream.
const FinalVersion = "final"

// BackupOptions tunes the backup fan-out.
type BackupOptions struct {
	Concurrency int
	Attempts    int
	BackoffBase time.Duration
	TaskTimeout time.Duration
	// ScratchDir holds snapshot files while they are produced and
	// encrypted. Defaults to the system temp directory.
	ScratchDir string
	// Sleep overrides backoff waits in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// BackupOrchestrator snapshots every known repository and uploads the
// encrypted archives. One failing repository never aborts the run.
type BackupOrchestrator struct {
	store     StateStore
	ledger    Ledger
	archive   ArchiveStore
	producer  SnapshotProducer
	encryptor Encryptor
	notifier  Notifier
	clock     Clock
	idgen     IDGenerator
	logger    Logger
	opts      BackupOptions
}

// NewBackupOrchestrator creates a BackupOrchestrator with the provided dependencies.
func NewBackupOrchestrator(store StateStore, ledger Ledger, archive ArchiveStore, producer SnapshotProducer, encryptor Encryptor, notifier Notifier, clock Clock, idgen IDGenerator, logger Logger, opts BackupOptions) *BackupOrchestrator {
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	return &BackupOrchestrator{
		store:     store,
		ledger:    ledger,
		archive:   archive,
		producer:  producer,
		encryptor: encryptor,
		notifier:  notifier,
		clock:     clock,
		idgen:     idgen,
		logger:    logger,
		opts:      opts,
	}
}

// Run backs up every repository currently known to the state store and
// returns a summary covering each one. The returned error reports run
// infrastructure problems only; per-repository failures live in the summary.
func (o *BackupOrchestrator) Run(ctx context.Context) (*model.RunSummary, error) {
	repos, err := o.store.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}

	started := o.clock.Now()
	o.logger.Info("backup run starting", "repositories", len(repos), "concurrency", o.opts.Concurrency)

	fo := &FanOut[*model.Repository]{
		Concurrency: o.opts.Concurrency,
		Attempts:    o.opts.Attempts,
		BackoffBase: o.opts.BackoffBase,
		TaskTimeout: o.opts.TaskTimeout,
		Sleep:       o.opts.Sleep,
		Cleanup:     o.reclaimScratch,
		Logger:      o.logger,
	}

	results, runErr := fo.Run(ctx, repos,
		func(r *model.Repository) string { return r.Name },
		func(ctx context.Context, repo *model.Repository, attempt int) error {
			return o.backupOne(ctx, repo, attempt)
		})

	summary := summarize("backup", started, o.clock.Now(), results)
	auditRunSummary(ctx, o.ledger, o.idgen, o.clock, o.logger, model.CategoryBackup, summary)

	if runErr == nil {
		if err := o.writeManifest(ctx, summary); err != nil {
			o.logger.Warn("writing run manifest failed", "error", err)
		}
	}
	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, summary); err != nil {
			o.logger.Warn("notifying run summary failed", "error", err)
		}
	}

	o.logger.Info("backup run finished",
		"total", summary.Total, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, runErr
}

// backupOne snapshots a single repository, encrypts the archive and
// uploads it in the hot storage class.
func (o *BackupOrchestrator) backupOne(ctx context.Context, repo *model.Repository, attempt int) error {
	now := o.clock.Now()

	version := VersionFor(now)
	key := NightlyKey(repo.Name, version)
	if repo.Archived {
		// Archived repositories get one final backup and are skipped on
		// every later run.
		version = FinalVersion
		key = FinalKey(repo.Name)
		existing, err := o.store.GetBackup(ctx, repo.Name, version)
		if err != nil {
			return fmt.Errorf("checking final backup: %w", err)
		}
		if existing != nil {
			o.logger.Debug("final backup already present", "repository", repo.Name)
			return nil
		}
	}

	rec, err := o.snapshotAndUpload(ctx, repo, version, key, now)
	if err != nil {
		o.audit(ctx, model.CategoryBackup, repo.Name, err, map[string]any{
			"version":  version,
			"attempts": attempt,
		})
		return err
	}

	if err := o.store.SaveBackup(ctx, rec); err != nil {
		err = fmt.Errorf("recording backup: %w", err)
		o.audit(ctx, model.CategoryBackup, repo.Name, err, map[string]any{
			"version":  version,
			"key":      key,
			"attempts": attempt,
		})
		return err
	}

	o.audit(ctx, model.CategoryBackup, repo.Name, nil, map[string]any{
		"version":    version,
		"key":        key,
		"size_bytes": rec.SizeBytes,
		"checksum":   rec.Checksum,
		"attempts":   attempt,
	})
	o.logger.Info("repository backed up",
		"repository", repo.Name, "version", version, "size_bytes", rec.SizeBytes, "attempt", attempt)
	return nil
}

func (o *BackupOrchestrator) snapshotAndUpload(ctx context.Context, repo *model.Repository, version, key string, now time.Time) (*model.BackupRecord, error) {
	dir, err := os.MkdirTemp(o.opts.ScratchDir, "snapshot-")
	if err != nil {
		return nil, ResourceExhausted(fmt.Errorf("creating scratch dir: %w", err))
	}
	defer os.RemoveAll(dir)

	src, err := o.producer.Produce(ctx, *repo, dir)
	if err != nil {
		return nil, fmt.Errorf("producing snapshot: %w", err)
	}

	encPath, checksum, err := o.encryptToScratch(src)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(encPath)
	if err != nil {
		return nil, fmt.Errorf("opening encrypted snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("sizing encrypted snapshot: %w", err)
	}

	if err := o.archive.Put(ctx, key, f, info.Size()); err != nil {
		return nil, fmt.Errorf("uploading snapshot: %w", err)
	}

	return &model.BackupRecord{
		Repository:   repo.Name,
		Version:      version,
		Key:          key,
		SizeBytes:    info.Size(),
		Checksum:     checksum,
		StorageClass: model.ClassHot,
		CreatedAt:    now,
	}, nil
}

// encryptToScratch encrypts the snapshot file next to itself and returns
// the ciphertext path plus the hex checksum of the plaintext.
func (o *BackupOrchestrator) encryptToScratch(src string) (string, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", "", fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	encPath := src + ".age"
	out, err := os.Create(encPath)
	if err != nil {
		return "", "", ResourceExhausted(fmt.Errorf("creating encrypted snapshot: %w", err))
	}
	defer out.Close()

	h := sha256.New()
	if err := o.encryptor.Encrypt(io.TeeReader(in, h), out); err != nil {
		return "", "", fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", "", fmt.Errorf("flushing encrypted snapshot: %w", err)
	}
	return encPath, hex.EncodeToString(h.Sum(nil)), nil
}

// reclaimScratch clears leftover snapshot files so a resource-exhausted
// item can retry with a clean scratch area.
func (o *BackupOrchestrator) reclaimScratch(ctx context.Context) error {
	entries, err := os.ReadDir(o.opts.ScratchDir)
	if err != nil {
		return fmt.Errorf("reading scratch dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "snapshot-") {
			os.RemoveAll(filepath.Join(o.opts.ScratchDir, e.Name()))
		}
	}
	return nil
}

// writeManifest uploads a JSON rendering of the run summary so the day's
// outcome is inspectable straight from storage.
func (o *BackupOrchestrator) writeManifest(ctx context.Context, summary *model.RunSummary) error {
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	key := ManifestKey(summary.StartedAt)
	if err := o.archive.Put(ctx, key, bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("uploading manifest: %w", err)
	}
	return nil
}

func (o *BackupOrchestrator) audit(ctx context.Context, category model.EventCategory, subject string, taskErr error, detail map[string]any) {
	appendAudit(ctx, o.ledger, o.idgen, o.clock, o.logger, category, subject, taskErr, detail)
}
