package testutil

import (
	"testing"

	"repovault/internal/store"
)

// NewTestStore creates an in-memory SQLite store with schema applied.
// The store is automatically closed when the test completes. It serves
// as both the state store and the audit ledger.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
