package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"repovault/internal/config"
	"repovault/internal/core"
)

func newTestSource(t *testing.T, server *httptest.Server, pageSize, attempts int) *GitHubSource {
	t.Helper()
	s := NewGitHubSource(config.DiscoveryConfig{
		Org:            "example-org",
		APIBase:        server.URL,
		PageSize:       pageSize,
		Attempts:       attempts,
		RequestsPerSec: 1000, // keep tests fast
	}, "test-token", core.RealClock{}, core.NewNopLogger())
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

func repoPage(names ...string) []map[string]any {
	page := make([]map[string]any, 0, len(names))
	for _, name := range names {
		page = append(page, map[string]any{
			"name":           name,
			"clone_url":      "https://example.com/" + name + ".git",
			"default_branch": "main",
			"size":           42,
		})
	}
	return page
}

func TestListRepositoriesPaginates(t *testing.T) {
	pages := map[string][]map[string]any{
		"1": repoPage("alpha", "beta"),
		"2": repoPage("gamma", "delta"),
		"3": repoPage("epsilon"),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header: %q", got)
		}
		page := r.URL.Query().Get("page")
		json.NewEncoder(w).Encode(pages[page])
	}))
	defer server.Close()

	s := newTestSource(t, server, 2, 1)
	repos, err := s.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(repos) != 5 {
		t.Fatalf("expected 5 repositories, got %d", len(repos))
	}
	if repos[0].Name != "alpha" || repos[4].Name != "epsilon" {
		t.Errorf("unexpected order: %v", repos)
	}
	if repos[0].SizeKB != 42 {
		t.Errorf("size not carried through: %+v", repos[0])
	}
}

func TestListRepositoriesDeduplicates(t *testing.T) {
	// A repository shifting between pages during the walk shows up twice.
	pages := map[string][]map[string]any{
		"1": repoPage("alpha", "beta"),
		"2": repoPage("beta", "gamma"),
		"3": repoPage("gamma"),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pages[r.URL.Query().Get("page")])
	}))
	defer server.Close()

	s := newTestSource(t, server, 2, 1)
	repos, err := s.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(repos) != 3 {
		t.Errorf("expected 3 unique repositories, got %d", len(repos))
	}
}

func TestListRepositoriesRetriesTransient(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(repoPage("alpha"))
	}))
	defer server.Close()

	s := newTestSource(t, server, 100, 6)
	repos, err := s.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(repos) != 1 {
		t.Errorf("expected 1 repository, got %d", len(repos))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestListRepositoriesExhaustsBudget(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := newTestSource(t, server, 100, 6)
	_, err := s.ListRepositories(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausted budget")
	}
	if got := atomic.LoadInt32(&calls); got != 6 {
		t.Errorf("expected 6 attempts, got %d", got)
	}
	if core.Classify(err) != core.ClassTransient {
		t.Errorf("expected transient classification, got %s", core.Classify(err))
	}
}

func TestListRepositoriesAuthFailureIsFinal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s := newTestSource(t, server, 100, 6)
	_, err := s.ListRepositories(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("auth failures must not be retried, got %d calls", got)
	}
	if core.Classify(err) != core.ClassAuthentication {
		t.Errorf("expected authentication classification, got %s", core.Classify(err))
	}
}

func TestListRepositoriesEmptyOrg(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	s := newTestSource(t, server, 100, 1)
	repos, err := s.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(repos) != 0 {
		t.Errorf("expected no repositories, got %d", len(repos))
	}
}
