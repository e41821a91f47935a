package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"repovault/internal/core"
	"repovault/internal/model"
	"repovault/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the state store and the audit ledger on a
// single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens a SQLite database at path and brings its schema
// up to date. path can be ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the store relies on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite ships with foreign keys off for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Repository operations

func (s *SQLiteStore) UpsertRepository(ctx context.Context, repo *model.Repository) error {
	var updatedAt sql.NullTime
	if repo.UpdatedAt != nil {
		updatedAt = sql.NullTime{Time: *repo.UpdatedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (name, clone_url, default_branch, private, archived, size_kb, updated_at, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			clone_url = excluded.clone_url,
			default_branch = excluded.default_branch,
			private = excluded.private,
			archived = excluded.archived,
			size_kb = excluded.size_kb,
			updated_at = excluded.updated_at,
			discovered_at = excluded.discovered_at`,
		repo.Name, repo.CloneURL, repo.DefaultBranch, repo.Private, repo.Archived,
		repo.SizeKB, updatedAt, repo.DiscoveredAt)
	if err != nil {
		return fmt.Errorf("upserting repository %s: %w", repo.Name, err)
	}
	return nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*model.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, clone_url, default_branch, private, archived, size_kb, updated_at, discovered_at
		FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var repos []*model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

func (s *SQLiteStore) GetRepository(ctx context.Context, name string) (*model.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, clone_url, default_branch, private, archived, size_kb, updated_at, discovered_at
		FROM repositories WHERE name = ?`, name)

	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding repository %s: %w", name, err)
	}
	return repo, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*model.Repository, error) {
	var repo model.Repository
	var updatedAt sql.NullTime
	err := row.Scan(&repo.Name, &repo.CloneURL, &repo.DefaultBranch, &repo.Private,
		&repo.Archived, &repo.SizeKB, &updatedAt, &repo.DiscoveredAt)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		repo.UpdatedAt = &updatedAt.Time
	}
	return &repo, nil
}

// Backup operations

func (s *SQLiteStore) SaveBackup(ctx context.Context, rec *model.BackupRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backups (key, repository, version, size_bytes, checksum, storage_class, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			checksum = excluded.checksum,
			storage_class = excluded.storage_class,
			created_at = excluded.created_at`,
		rec.Key, rec.Repository, rec.Version, rec.SizeBytes, rec.Checksum,
		string(rec.StorageClass), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving backup %s: %w", rec.Key, err)
	}
	return nil
}

const backupColumns = `key, repository, version, size_bytes, checksum, storage_class, created_at`

func (s *SQLiteStore) ListBackups(ctx context.Context, repository string) ([]*model.BackupRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE repository = ? ORDER BY created_at DESC`,
		repository)
	if err != nil {
		return nil, fmt.Errorf("listing backups for %s: %w", repository, err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

func (s *SQLiteStore) ListBackupsInClass(ctx context.Context, class model.StorageClass) ([]*model.BackupRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE storage_class = ? ORDER BY created_at`,
		string(class))
	if err != nil {
		return nil, fmt.Errorf("listing %s backups: %w", class, err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

func (s *SQLiteStore) GetBackup(ctx context.Context, repository, version string) (*model.BackupRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE repository = ? AND version = ?`,
		repository, version)

	rec, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding backup %s/%s: %w", repository, version, err)
	}
	return rec, nil
}

func (s *SQLiteStore) LatestBackup(ctx context.Context, repository string) (*model.BackupRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE repository = ? ORDER BY created_at DESC LIMIT 1`,
		repository)

	rec, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest backup for %s: %w", repository, err)
	}
	return rec, nil
}

// SetBackupClass moves a backup to a later storage class. Transitions
// only ever go forward; setting the current class again is a no-op so a
// retried transition converges.
func (s *SQLiteStore) SetBackupClass(ctx context.Context, key string, class model.StorageClass) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT storage_class FROM backups WHERE key = ?`, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no backup with key %s", key)
	}
	if err != nil {
		return fmt.Errorf("updating class of %s: %w", key, err)
	}
	if model.StorageClass(current) == class {
		return nil
	}
	if !model.StorageClass(current).Before(class) {
		return fmt.Errorf("backup %s is in class %s and cannot move back to %s", key, current, class)
	}

	// The guard repeats in the WHERE clause so a concurrent writer
	// cannot slip a backward move between the read and the update.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE backups SET storage_class = ? WHERE key = ? AND storage_class = ?`,
		string(class), key, current); err != nil {
		return fmt.Errorf("updating class of %s: %w", key, err)
	}
	return nil
}

func collectBackups(rows *sql.Rows) ([]*model.BackupRecord, error) {
	var recs []*model.BackupRecord
	for rows.Next() {
		rec, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanBackup(row rowScanner) (*model.BackupRecord, error) {
	var rec model.BackupRecord
	var class string
	err := row.Scan(&rec.Key, &rec.Repository, &rec.Version, &rec.SizeBytes,
		&rec.Checksum, &class, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.StorageClass = model.StorageClass(class)
	return &rec, nil
}

// Retrieval job operations

func (s *SQLiteStore) SaveRetrievalJob(ctx context.Context, job *model.RetrievalJob) error {
	var completedAt sql.NullTime
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retrieval_jobs (id, repository, version, tier, status, handle, reason, requested_at, completed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			completed_at = excluded.completed_at`,
		job.ID, job.Repository, job.Version, string(job.Tier), string(job.Status),
		job.Handle, job.Reason, job.RequestedAt, completedAt, job.ExpiresAt)
	if err != nil {
		return fmt.Errorf("saving retrieval job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRetrievalJob(ctx context.Context, id string) (*model.RetrievalJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repository, version, tier, status, handle, reason, requested_at, completed_at, expires_at
		FROM retrieval_jobs WHERE id = ?`, id)

	var job model.RetrievalJob
	var tier, status string
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.Repository, &job.Version, &tier, &status,
		&job.Handle, &job.Reason, &job.RequestedAt, &completedAt, &job.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding retrieval job %s: %w", id, err)
	}
	job.Tier = model.RetrievalTier(tier)
	job.Status = model.RetrievalStatus(status)
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

// Download operations

func (s *SQLiteStore) SaveDownload(ctx context.Context, op *model.DownloadOperation) error {
	var urlExpires sql.NullTime
	if op.URLExpiresAt != nil {
		urlExpires = sql.NullTime{Time: *op.URLExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads (id, repository, version, subject, status, retrieval_job_id, url, url_expires_at, error, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			url = excluded.url,
			url_expires_at = excluded.url_expires_at,
			error = excluded.error`,
		op.ID, op.Repository, op.Version, op.Subject, string(op.Status),
		op.RetrievalJobID, op.URL, urlExpires, op.Error, op.CreatedAt, op.ExpiresAt)
	if err != nil {
		return fmt.Errorf("saving download %s: %w", op.ID, err)
	}
	return nil
}

const downloadColumns = `id, repository, version, subject, status, retrieval_job_id, url, url_expires_at, error, created_at, expires_at`

func (s *SQLiteStore) GetDownload(ctx context.Context, id string) (*model.DownloadOperation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)

	op, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding download %s: %w", id, err)
	}
	return op, nil
}

func (s *SQLiteStore) ListDownloads(ctx context.Context, repository string) ([]*model.DownloadOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE repository = ? ORDER BY created_at DESC`,
		repository)
	if err != nil {
		return nil, fmt.Errorf("listing downloads for %s: %w", repository, err)
	}
	defer rows.Close()

	var ops []*model.DownloadOperation
	for rows.Next() {
		op, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanDownload(row rowScanner) (*model.DownloadOperation, error) {
	var op model.DownloadOperation
	var status string
	var urlExpires sql.NullTime
	err := row.Scan(&op.ID, &op.Repository, &op.Version, &op.Subject, &status,
		&op.RetrievalJobID, &op.URL, &urlExpires, &op.Error, &op.CreatedAt, &op.ExpiresAt)
	if err != nil {
		return nil, err
	}
	op.Status = model.DownloadStatus(status)
	if urlExpires.Valid {
		op.URLExpiresAt = &urlExpires.Time
	}
	return &op, nil
}

// Revoked token operations

func (s *SQLiteStore) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_id, expires_at) VALUES (?, ?)
		ON CONFLICT(token_id) DO NOTHING`, tokenID, expiresAt)
	if err != nil {
		return fmt.Errorf("revoking token %s: %w", tokenID, err)
	}
	return nil
}

func (s *SQLiteStore) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM revoked_tokens WHERE token_id = ?`, tokenID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking token %s: %w", tokenID, err)
	}
	return true, nil
}

// Audit ledger operations

func (s *SQLiteStore) Append(ctx context.Context, event *model.AuditEvent) error {
	detail := "{}"
	if len(event.Detail) > 0 {
		body, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("encoding event detail: %w", err)
		}
		detail = string(body)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, timestamp, category, subject, outcome, detail, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp, string(event.Category), event.Subject,
		string(event.Outcome), detail, event.Error)
	if err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, q core.EventQuery) ([]*model.AuditEvent, error) {
	query := `SELECT id, timestamp, category, subject, outcome, detail, error FROM audit_events WHERE 1=1`
	var args []any

	if q.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, q.Subject)
	}
	if q.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(q.Category))
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.From)
	}
	if !q.To.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, q.To)
	}
	query += ` ORDER BY timestamp DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*model.AuditEvent
	for rows.Next() {
		var event model.AuditEvent
		var category, outcome, detail string
		if err := rows.Scan(&event.ID, &event.Timestamp, &category, &event.Subject,
			&outcome, &detail, &event.Error); err != nil {
			return nil, err
		}
		event.Category = model.EventCategory(category)
		event.Outcome = model.Outcome(outcome)
		if detail != "" && detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &event.Detail); err != nil {
				return nil, fmt.Errorf("decoding detail of event %s: %w", event.ID, err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
