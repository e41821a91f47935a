package core_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"repovault/internal/archive"
	"repovault/internal/core"
	"repovault/internal/model"
	"repovault/internal/store"
	"repovault/internal/testutil"
)

type archivalFixture struct {
	store    *store.SQLiteStore
	archive  *archive.MemoryArchive
	notifier *testutil.RecordingNotifier
	clock    *testutil.StubClock
	orch     *core.ArchivalOrchestrator
}

func newArchivalFixture(t *testing.T) *archivalFixture {
	t.Helper()
	f := &archivalFixture{
		store:    testutil.NewTestStore(t),
		archive:  testutil.NewTestArchive(),
		notifier: &testutil.RecordingNotifier{},
		clock:    testutil.FixedClock(),
	}
	f.orch = core.NewArchivalOrchestrator(
		f.store, f.store, f.archive, f.notifier, f.clock,
		testutil.NewStubIDGenerator(), core.NewNopLogger(),
		core.ArchivalOptions{
			Concurrency: 5,
			Attempts:    3,
			Sleep:       testutil.InstantSleep,
			WarmAfter:   24 * time.Hour,
			ColdAfter:   30 * 24 * time.Hour,
			DeepAfter:   365 * 24 * time.Hour,
		})
	return f
}

// seedBackup stores a backup record of the given age and the matching
// archive object.
func (f *archivalFixture) seedBackup(t *testing.T, repo string, age time.Duration, class model.StorageClass) *model.BackupRecord {
	t.Helper()
	ctx := context.Background()
	created := f.clock.Now().Add(-age)
	version := core.VersionFor(created)

	err := f.store.UpsertRepository(ctx, &model.Repository{
		Name: repo, CloneURL: "https://example.com/" + repo + ".git",
		DefaultBranch: "main", DiscoveredAt: created,
	})
	if err != nil {
		t.Fatalf("seed repo: %v", err)
	}

	rec := &model.BackupRecord{
		Repository:   repo,
		Version:      version,
		Key:          core.NightlyKey(repo, version),
		SizeBytes:    10,
		Checksum:     "c",
		StorageClass: class,
		CreatedAt:    created,
	}
	if err := f.store.SaveBackup(ctx, rec); err != nil {
		t.Fatalf("seed backup: %v", err)
	}
	if err := f.archive.Put(ctx, rec.Key, strings.NewReader("archive db."), 11); err != nil {
		t.Fatalf("seed object: %v", err)
	}
	if class != model.ClassHot {
		if err := f.archive.Transition(ctx, rec.Key, class); err != nil {
			t.Fatalf("seed class: %v", err)
		}
	}
	return rec
}

func classOf(t *testing.T, f *archivalFixture, repo, version string) model.StorageClass {
	t.Helper()
	rec, err := f.store.GetBackup(context.Background(), repo, version)
	if err != nil || rec == nil {
		t.Fatalf("get backup: %v, %+v", err, rec)
	}
	return rec.StorageClass
}

func TestArchivalTransitionsEligibleBackups(t *testing.T) {
	f := newArchivalFixture(t)
	ctx := context.Background()

	fresh := f.seedBackup(t, "fresh", 2*time.Hour, model.ClassHot)
	aging := f.seedBackup(t, "aging", 3*24*time.Hour, model.ClassHot)
	old := f.seedBackup(t, "old", 45*24*time.Hour, model.ClassWarmIA)

	summary, err := f.orch.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total != 2 || summary.Succeeded != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if got := classOf(t, f, "fresh", fresh.Version); got != model.ClassHot {
		t.Errorf("fresh backup moved to %s", got)
	}
	if got := classOf(t, f, "aging", aging.Version); got != model.ClassWarmIA {
		t.Errorf("aging backup should be warm-ia, got %s", got)
	}
	if got := classOf(t, f, "old", old.Version); got != model.ClassCold {
		t.Errorf("old backup should be cold, got %s", got)
	}

	// The archive side moved too.
	info, err := f.archive.Head(ctx, old.Key)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.StorageClass != model.ClassCold {
		t.Errorf("archive object class is %s", info.StorageClass)
	}
}

func TestArchivalMovesOneTierPerRun(t *testing.T) {
	f := newArchivalFixture(t)

	// Old enough for deep-cold, but still hot: it must step down one
	// tier at a time, not jump.
	rec := f.seedBackup(t, "ancient", 400*24*time.Hour, model.ClassHot)

	expected := []model.StorageClass{model.ClassWarmIA, model.ClassCold, model.ClassDeepCold}
	for _, want := range expected {
		if _, err := f.orch.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		if got := classOf(t, f, "ancient", rec.Version); got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestArchivalIsIdempotent(t *testing.T) {
	f := newArchivalFixture(t)
	rec := f.seedBackup(t, "aging", 3*24*time.Hour, model.ClassHot)

	if _, err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("second run should find nothing eligible: %+v", summary)
	}
	if got := classOf(t, f, "aging", rec.Version); got != model.ClassWarmIA {
		t.Errorf("class moved again: %s", got)
	}
}

func TestArchivalLeavesDeepColdAlone(t *testing.T) {
	f := newArchivalFixture(t)
	rec := f.seedBackup(t, "frozen", 1000*24*time.Hour, model.ClassDeepCold)

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("deep-cold backups are terminal: %+v", summary)
	}
	if got := classOf(t, f, "frozen", rec.Version); got != model.ClassDeepCold {
		t.Errorf("unexpected class: %s", got)
	}
}

func TestArchivalRecordsAuditEvents(t *testing.T) {
	f := newArchivalFixture(t)
	f.seedBackup(t, "aging", 3*24*time.Hour, model.ClassHot)

	if _, err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	events, err := f.store.Query(context.Background(), core.EventQuery{Category: model.CategoryArchival})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected a transition event and a run summary event, got %d", len(events))
	}

	var item *model.AuditEvent
	for _, ev := range events {
		if ev.Subject == "aging" {
			item = ev
		}
	}
	if item == nil {
		t.Fatal("no transition event for the aging backup")
	}
	if item.Detail["to"] != string(model.ClassWarmIA) {
		t.Errorf("unexpected detail: %+v", item.Detail)
	}

	run := findFleetEvent(t, events)
	if run.Outcome != model.OutcomeSuccess {
		t.Errorf("clean run summary should be a success event: %+v", run)
	}
	if run.Detail["total"] != float64(1) || run.Detail["succeeded"] != float64(1) {
		t.Errorf("unexpected summary detail: %+v", run.Detail)
	}
}
