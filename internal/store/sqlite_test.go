package store

import (
	"context"
	"testing"
	"time"

	"repovault/internal/core"
	"repovault/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRepository(t *testing.T, s *SQLiteStore, name string) {
	t.Helper()
	err := s.UpsertRepository(context.Background(), &model.Repository{
		Name:          name,
		CloneURL:      "https://example.com/" + name + ".git",
		DefaultBranch: "main",
		DiscoveredAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seeding repository: %v", err)
	}
}

func TestRepositoryUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	updated := time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)
	repo := &model.Repository{
		Name:          "api-server",
		CloneURL:      "https://example.com/api-server.git",
		DefaultBranch: "main",
		Private:       true,
		SizeKB:        2048,
		UpdatedAt:     &updated,
		DiscoveredAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertRepository(ctx, repo); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetRepository(ctx, "api-server")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected repository, got nil")
	}
	if !got.Private || got.SizeKB != 2048 {
		t.Errorf("unexpected repository: %+v", got)
	}
	if got.UpdatedAt == nil || !got.UpdatedAt.Equal(updated) {
		t.Errorf("unexpected updated_at: %v", got.UpdatedAt)
	}

	// Re-upserting the same name updates in place.
	repo.Archived = true
	if err := s.UpsertRepository(ctx, repo); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	repos, err := s.ListRepositories(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(repos) != 1 {
		t.Fatalf("expected 1 repository, got %d", len(repos))
	}
	if !repos[0].Archived {
		t.Error("expected archived flag to be updated")
	}
}

func TestGetRepositoryNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRepository(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown repository, got %+v", got)
	}
}

func TestBackupLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRepository(t, s, "api-server")

	older := &model.BackupRecord{
		Repository:   "api-server",
		Version:      "2025-06-01-02-00",
		Key:          "nightly/api-server/2025-06-01-02-00.tar.gz",
		SizeBytes:    100,
		Checksum:     "aaa",
		StorageClass: model.ClassHot,
		CreatedAt:    time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC),
	}
	newer := &model.BackupRecord{
		Repository:   "api-server",
		Version:      "2025-06-02-02-00",
		Key:          "nightly/api-server/2025-06-02-02-00.tar.gz",
		SizeBytes:    120,
		Checksum:     "bbb",
		StorageClass: model.ClassHot,
		CreatedAt:    time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC),
	}
	for _, rec := range []*model.BackupRecord{older, newer} {
		if err := s.SaveBackup(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	t.Run("list is newest first", func(t *testing.T) {
		recs, err := s.ListBackups(ctx, "api-server")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 backups, got %d", len(recs))
		}
		if recs[0].Version != newer.Version {
			t.Errorf("expected newest first, got %s", recs[0].Version)
		}
	})

	t.Run("latest", func(t *testing.T) {
		rec, err := s.LatestBackup(ctx, "api-server")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if rec == nil || rec.Version != newer.Version {
			t.Errorf("expected %s, got %+v", newer.Version, rec)
		}
	})

	t.Run("get by version", func(t *testing.T) {
		rec, err := s.GetBackup(ctx, "api-server", older.Version)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if rec == nil || rec.Checksum != "aaa" {
			t.Errorf("unexpected record: %+v", rec)
		}

		missing, err := s.GetBackup(ctx, "api-server", "never-was")
		if err != nil {
			t.Fatalf("get missing: %v", err)
		}
		if missing != nil {
			t.Errorf("expected nil for unknown version, got %+v", missing)
		}
	})

	t.Run("class transitions", func(t *testing.T) {
		if err := s.SetBackupClass(ctx, older.Key, model.ClassWarmIA); err != nil {
			t.Fatalf("set class: %v", err)
		}
		warm, err := s.ListBackupsInClass(ctx, model.ClassWarmIA)
		if err != nil {
			t.Fatalf("list in class: %v", err)
		}
		if len(warm) != 1 || warm[0].Key != older.Key {
			t.Errorf("unexpected warm backups: %+v", warm)
		}
		hot, err := s.ListBackupsInClass(ctx, model.ClassHot)
		if err != nil {
			t.Fatalf("list in class: %v", err)
		}
		if len(hot) != 1 || hot[0].Key != newer.Key {
			t.Errorf("unexpected hot backups: %+v", hot)
		}

		if err := s.SetBackupClass(ctx, "nightly/ghost/x.tar.gz", model.ClassCold); err == nil {
			t.Error("expected error for unknown key")
		}

		if err := s.SetBackupClass(ctx, older.Key, model.ClassWarmIA); err != nil {
			t.Errorf("setting the current class again should be a no-op, got %v", err)
		}
		if err := s.SetBackupClass(ctx, older.Key, model.ClassHot); err == nil {
			t.Error("expected error for a backward class move")
		}
		warm, err = s.ListBackupsInClass(ctx, model.ClassWarmIA)
		if err != nil {
			t.Fatalf("list in class: %v", err)
		}
		if len(warm) != 1 || warm[0].Key != older.Key {
			t.Errorf("backup should still be warm-ia after rejected moves: %+v", warm)
		}
	})
}

func TestRetrievalJobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &model.RetrievalJob{
		ID:          "job-1",
		Repository:  "api-server",
		Version:     "2025-06-01-02-00",
		Tier:        model.TierStandard,
		Status:      model.RetrievalInProgress,
		Handle:      "nightly/api-server/2025-06-01-02-00.tar.gz",
		RequestedAt: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
		ExpiresAt:   time.Date(2025, 7, 31, 9, 0, 0, 0, time.UTC),
	}
	if err := s.SaveRetrievalJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetRetrievalJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.RetrievalInProgress || got.Tier != model.TierStandard {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("expected nil completed_at")
	}

	done := time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC)
	job.Status = model.RetrievalCompleted
	job.CompletedAt = &done
	if err := s.SaveRetrievalJob(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.GetRetrievalJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != model.RetrievalCompleted || got.CompletedAt == nil {
		t.Errorf("update did not stick: %+v", got)
	}

	missing, err := s.GetRetrievalJob(ctx, "ghost")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown job, got %+v", missing)
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op := &model.DownloadOperation{
		ID:         "dl-1",
		Repository: "api-server",
		Version:    "2025-06-01-02-00",
		Subject:    "operator",
		Status:     model.DownloadInProgress,
		CreatedAt:  time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
		ExpiresAt:  time.Date(2025, 7, 31, 9, 0, 0, 0, time.UTC),
	}
	if err := s.SaveDownload(ctx, op); err != nil {
		t.Fatalf("save: %v", err)
	}

	urlExpires := time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC)
	op.Status = model.DownloadCompleted
	op.URL = "https://storage.example.com/signed"
	op.URLExpiresAt = &urlExpires
	if err := s.SaveDownload(ctx, op); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetDownload(ctx, "dl-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.DownloadCompleted || got.URL == "" || got.URLExpiresAt == nil {
		t.Errorf("unexpected download: %+v", got)
	}

	ops, err := s.ListDownloads(ctx, "api-server")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 1 {
		t.Errorf("expected 1 download, got %d", len(ops))
	}
}

func TestTokenRevocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	revoked, err := s.IsTokenRevoked(ctx, "tok-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if revoked {
		t.Error("fresh token should not be revoked")
	}

	exp := time.Date(2025, 7, 1, 17, 0, 0, 0, time.UTC)
	if err := s.RevokeToken(ctx, "tok-1", exp); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// Revoking twice is a no-op.
	if err := s.RevokeToken(ctx, "tok-1", exp); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	revoked, err = s.IsTokenRevoked(ctx, "tok-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !revoked {
		t.Error("expected token to be revoked")
	}
}

func TestAuditLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	events := []*model.AuditEvent{
		{
			ID: "ev-1", Timestamp: base, Category: model.CategoryBackup,
			Subject: "api-server", Outcome: model.OutcomeSuccess,
			Detail: map[string]any{"version": "2025-06-01-02-00", "attempts": float64(1)},
		},
		{
			ID: "ev-2", Timestamp: base.Add(time.Minute), Category: model.CategoryBackup,
			Subject: "web-frontend", Outcome: model.OutcomeFailure, Error: "transient: connection reset",
		},
		{
			ID: "ev-3", Timestamp: base.Add(24 * time.Hour), Category: model.CategoryArchival,
			Subject: "api-server", Outcome: model.OutcomeSuccess,
		},
	}
	for _, ev := range events {
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	t.Run("by subject", func(t *testing.T) {
		got, err := s.Query(ctx, core.EventQuery{Subject: "api-server"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 events, got %d", len(got))
		}
		// Newest first.
		if got[0].ID != "ev-3" {
			t.Errorf("expected ev-3 first, got %s", got[0].ID)
		}
	})

	t.Run("by category", func(t *testing.T) {
		got, err := s.Query(ctx, core.EventQuery{Category: model.CategoryArchival})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(got) != 1 || got[0].ID != "ev-3" {
			t.Errorf("unexpected events: %+v", got)
		}
	})

	t.Run("by date range", func(t *testing.T) {
		got, err := s.Query(ctx, core.EventQuery{From: base, To: base.Add(time.Hour)})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 events in range, got %d", len(got))
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.Query(ctx, core.EventQuery{Limit: 1})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected 1 event, got %d", len(got))
		}
	})

	t.Run("detail survives round trip", func(t *testing.T) {
		got, err := s.Query(ctx, core.EventQuery{Subject: "api-server", Category: model.CategoryBackup})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 event, got %d", len(got))
		}
		if got[0].Detail["version"] != "2025-06-01-02-00" {
			t.Errorf("unexpected detail: %+v", got[0].Detail)
		}
	})
}
