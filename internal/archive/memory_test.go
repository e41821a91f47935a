package archive

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"repovault/internal/core"
	"repovault/internal/model"
)

func putObject(t *testing.T, a core.ArchiveStore, key, content string) {
	t.Helper()
	err := a.Put(context.Background(), key, strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestMemoryArchivePutGet(t *testing.T) {
	a := NewMemoryArchive()
	ctx := context.Background()

	putObject(t, a, "nightly/api-server/2025-06-01-02-00.tar.gz", "archive bytes")

	rc, err := a.Get(ctx, "nightly/api-server/2025-06-01-02-00.tar.gz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "archive bytes" {
		t.Errorf("unexpected content: %q", body)
	}

	_, err = a.Get(ctx, "nightly/ghost/x.tar.gz")
	if !core.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestMemoryArchiveSizeMismatch(t *testing.T) {
	a := NewMemoryArchive()
	err := a.Put(context.Background(), "k", strings.NewReader("abc"), 99)
	if err == nil {
		t.Error("expected error for size mismatch")
	}
}

func TestMemoryArchiveTransition(t *testing.T) {
	a := NewMemoryArchive()
	ctx := context.Background()
	putObject(t, a, "k", "data")

	if err := a.Transition(ctx, "k", model.ClassWarmIA); err != nil {
		t.Fatalf("transition: %v", err)
	}
	// Transitioning to the same class is a no-op.
	if err := a.Transition(ctx, "k", model.ClassWarmIA); err != nil {
		t.Fatalf("repeat transition: %v", err)
	}

	info, err := a.Head(ctx, "k")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.StorageClass != model.ClassWarmIA {
		t.Errorf("expected warm-ia, got %s", info.StorageClass)
	}
}

func TestMemoryArchiveRestoreFlow(t *testing.T) {
	a := NewMemoryArchive()
	ctx := context.Background()
	putObject(t, a, "k", "data")

	if err := a.Transition(ctx, "k", model.ClassCold); err != nil {
		t.Fatalf("transition: %v", err)
	}

	// Cold object without a restore cannot be fetched.
	if _, err := a.Get(ctx, "k"); err == nil {
		t.Error("expected error fetching unrestored cold object")
	}

	if err := a.Restore(ctx, "k", model.TierStandard, 7); err != nil {
		t.Fatalf("restore: %v", err)
	}
	// Re-requesting is a no-op.
	if err := a.Restore(ctx, "k", model.TierStandard, 7); err != nil {
		t.Fatalf("repeat restore: %v", err)
	}

	info, _ := a.Head(ctx, "k")
	if info.Restore != core.RestoreInProgress {
		t.Errorf("expected in-progress restore, got %v", info.Restore)
	}

	a.FinishRestore("k")
	info, _ = a.Head(ctx, "k")
	if info.Restore != core.RestoreReady {
		t.Errorf("expected ready restore, got %v", info.Restore)
	}
	if _, err := a.Get(ctx, "k"); err != nil {
		t.Errorf("expected fetch of restored object to succeed: %v", err)
	}

	a.LapseRestore("k")
	info, _ = a.Head(ctx, "k")
	if info.Restore != core.RestoreNone {
		t.Errorf("expected lapsed restore, got %v", info.Restore)
	}
}

func TestMemoryArchivePresign(t *testing.T) {
	a := NewMemoryArchive()
	putObject(t, a, "k", "data")

	url, err := a.PresignGet(context.Background(), "k", 24*time.Hour)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if url == "" {
		t.Error("expected non-empty url")
	}

	if _, err := a.PresignGet(context.Background(), "ghost", time.Hour); !core.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}
