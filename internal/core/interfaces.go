package core

import (
	"context"
	"io"
	"time"

	"repovault/internal/model"
)

// Source enumerates repositories in the upstream fleet.
type Source interface {
	// ListRepositories returns every repository visible to the configured
	// credentials, across all pages. The result contains no duplicates.
	ListRepositories(ctx context.Context) ([]model.Repository, error)
}

// SnapshotProducer materializes a point-in-time snapshot of a repository
// as a compressed archive on local disk.
type SnapshotProducer interface {
	// Produce writes a snapshot archive for repo into dir and returns the
	// path of the file it created. The caller owns cleanup of the file.
	Produce(ctx context.Context, repo model.Repository, dir string) (string, error)
}

// RestoreState describes where a cold-storage restore stands for an object.
type RestoreState int

const (
	// RestoreNone means no restore has been requested, or a previous
	// restored copy has lapsed.
	RestoreNone RestoreState = iota
	// RestoreInProgress means a restore was requested and storage is
	// still working on it.
	RestoreInProgress
	// RestoreReady means a restored copy exists and can be fetched.
	RestoreReady
)

// ObjectInfo describes a stored archive object.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	StorageClass model.StorageClass
	Restore      RestoreState
}

// ArchiveStore is the durable home of snapshot archives. Implementations
// stream content and never buffer whole archives in memory.
type ArchiveStore interface {
	// Put stores the object under key in the hot storage class.
	// size is the number of bytes that will be read from r.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get streams the object back. For objects in a cold class, Get only
	// succeeds while a restored copy is available.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head returns metadata for the object, including its storage class
	// and restore state.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Transition moves the object to the given storage class. Moving an
	// object to the class it already occupies is a no-op.
	Transition(ctx context.Context, key string, class model.StorageClass) error

	// Restore requests a temporary copy of a cold-class object at the
	// given service tier, accessible for the given number of days.
	// Requesting a restore that is already in flight is a no-op.
	Restore(ctx context.Context, key string, tier model.RetrievalTier, days int) error

	// PresignGet returns a URL from which the object can be fetched
	// without credentials until the TTL lapses.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// EventQuery filters audit ledger reads. Zero fields match everything.
type EventQuery struct {
	Subject  string
	Category model.EventCategory
	From     time.Time
	To       time.Time
	Limit    int
}

// Ledger is the append-only audit record. Events are never updated or
// deleted once written.
type Ledger interface {
	Append(ctx context.Context, event *model.AuditEvent) error
	Query(ctx context.Context, q EventQuery) ([]*model.AuditEvent, error)
}

// StateStore persists repositories, backup records, retrieval jobs,
// downloads and revoked sessions.
type StateStore interface {
	UpsertRepository(ctx context.Context, repo *model.Repository) error
	ListRepositories(ctx context.Context) ([]*model.Repository, error)
	GetRepository(ctx context.Context, name string) (*model.Repository, error)

	SaveBackup(ctx context.Context, rec *model.BackupRecord) error
	ListBackups(ctx context.Context, repository string) ([]*model.BackupRecord, error)
	ListBackupsInClass(ctx context.Context, class model.StorageClass) ([]*model.BackupRecord, error)
	GetBackup(ctx context.Context, repository, version string) (*model.BackupRecord, error)
	LatestBackup(ctx context.Context, repository string) (*model.BackupRecord, error)
	SetBackupClass(ctx context.Context, key string, class model.StorageClass) error

	SaveRetrievalJob(ctx context.Context, job *model.RetrievalJob) error
	GetRetrievalJob(ctx context.Context, id string) (*model.RetrievalJob, error)

	SaveDownload(ctx context.Context, op *model.DownloadOperation) error
	GetDownload(ctx context.Context, id string) (*model.DownloadOperation, error)
	ListDownloads(ctx context.Context, repository string) ([]*model.DownloadOperation, error)

	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)

	Close() error
}

// Notifier delivers run summaries after each orchestrated run.
type Notifier interface {
	Notify(ctx context.Context, summary *model.RunSummary) error
}

// Encryptor encrypts archives before upload and decrypts them on the way
// back. Encryption uses the public key only; decryption needs the private key.
type Encryptor interface {
	Encrypt(r io.Reader, w io.Writer) error
	Decrypt(r io.Reader, w io.Writer) error
}
