package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"repovault/internal/archive"
	"repovault/internal/core"
	"repovault/internal/model"
)

// NewTestArchive creates a new in-memory archive store for testing.
func NewTestArchive() *archive.MemoryArchive {
	return archive.NewMemoryArchive()
}

// FlakyArchive wraps an archive store and fails Put calls according to
// a script. Use it to exercise retry handling.
type FlakyArchive struct {
	core.ArchiveStore

	mu sync.Mutex
	// PutErrs is consumed one entry per Put call; a nil entry lets the
	// call through. Once drained, all calls succeed.
	PutErrs []error
	// Puts counts every Put call, including failed ones.
	Puts int
}

// NewFlakyArchive wraps inner with the given scripted Put failures.
func NewFlakyArchive(inner core.ArchiveStore, putErrs ...error) *FlakyArchive {
	return &FlakyArchive{ArchiveStore: inner, PutErrs: putErrs}
}

func (f *FlakyArchive) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	f.mu.Lock()
	f.Puts++
	var scripted error
	if len(f.PutErrs) > 0 {
		scripted = f.PutErrs[0]
		f.PutErrs = f.PutErrs[1:]
	}
	f.mu.Unlock()

	if scripted != nil {
		// The body must still be drained; a real transport would have
		// consumed it before failing.
		io.Copy(io.Discard, r)
		return scripted
	}
	return f.ArchiveStore.Put(ctx, key, r, size)
}

// RecordingNotifier captures run summaries for assertions.
type RecordingNotifier struct {
	mu        sync.Mutex
	Summaries []*model.RunSummary
}

func (n *RecordingNotifier) Notify(ctx context.Context, summary *model.RunSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Summaries = append(n.Summaries, summary)
	return nil
}

// Last returns the most recent summary, or nil.
func (n *RecordingNotifier) Last() *model.RunSummary {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.Summaries) == 0 {
		return nil
	}
	return n.Summaries[len(n.Summaries)-1]
}

// InstantSleep never waits; install it to make backoff-heavy tests fast.
func InstantSleep(ctx context.Context, d time.Duration) error { return nil }
