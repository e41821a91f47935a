package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"repovault/internal/config"
	"repovault/internal/core"
	"repovault/internal/model"
)

const defaultAPIBase = "https://api.github.com"

// GitHubSource enumerates the repositories of one organization through
// the GitHub REST API. Requests are rate limited and retried, so a
// flaky API call does not abort a whole discovery pass.
type GitHubSource struct {
	client      *http.Client
	base        string
	org         string
	token       string
	pageSize    int
	attempts    int
	backoffBase time.Duration
	limiter     *rate.Limiter
	clock       core.Clock
	logger      core.Logger

	// sleep overrides backoff waits in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ core.Source = (*GitHubSource)(nil)

// NewGitHubSource creates a GitHubSource from configuration. token
// authenticates API requests and is required for private repositories.
func NewGitHubSource(cfg config.DiscoveryConfig, token string, clock core.Clock, logger core.Logger) *GitHubSource {
	base := cfg.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	return &GitHubSource{
		client:      &http.Client{Timeout: 30 * time.Second},
		base:        base,
		org:         cfg.Org,
		token:       token,
		pageSize:    pageSize,
		attempts:    attempts,
		backoffBase: time.Duration(cfg.BackoffBaseSecs) * time.Second,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		clock:       clock,
		logger:      logger,
	}
}

// ghRepo is the slice of the GitHub repository payload we care about.
type ghRepo struct {
	Name          string     `json:"name"`
	CloneURL      string     `json:"clone_url"`
	DefaultBranch string     `json:"default_branch"`
	Private       bool       `json:"private"`
	Archived      bool       `json:"archived"`
	Size          int64      `json:"size"` // KB
	PushedAt      *time.Time `json:"pushed_at"`
}

// ListRepositories walks every page of the organization listing and
// returns the deduplicated set.
func (s *GitHubSource) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	seen := make(map[string]bool)
	var repos []model.Repository

	for page := 1; ; page++ {
		batch, err := s.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("listing repositories page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}

		for _, gr := range batch {
			if seen[gr.Name] {
				// Pages can shift while we walk them; a repository that
				// moved between pages must not be backed up twice.
				continue
			}
			seen[gr.Name] = true
			repos = append(repos, model.Repository{
				Name:          gr.Name,
				CloneURL:      gr.CloneURL,
				DefaultBranch: gr.DefaultBranch,
				Private:       gr.Private,
				Archived:      gr.Archived,
				SizeKB:        gr.Size,
				UpdatedAt:     gr.PushedAt,
				DiscoveredAt:  s.clock.Now(),
			})
		}

		if len(batch) < s.pageSize {
			break
		}
	}

	s.logger.Info("discovery finished", "org", s.org, "repositories", len(repos))
	return repos, nil
}

// fetchPage requests one page, retrying transient failures within the
// attempt budget.
func (s *GitHubSource) fetchPage(ctx context.Context, page int) ([]ghRepo, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch, err := s.doRequest(ctx, page)
		if err == nil {
			return batch, nil
		}
		lastErr = err

		switch core.Classify(err) {
		case core.ClassAuthentication, core.ClassNotFound:
			return nil, err
		}
		if attempt == s.attempts {
			break
		}
		delay := s.backoffBase << (attempt - 1)
		s.logger.Warn("discovery request failed, retrying",
			"page", page, "attempt", attempt, "delay", delay, "error", err)
		if err := s.waitBackoff(ctx, delay); err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (s *GitHubSource) doRequest(ctx context.Context, page int) ([]ghRepo, error) {
	url := fmt.Sprintf("%s/orgs/%s/repos?type=all&per_page=%d&page=%d", s.base, s.org, s.pageSize, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.Timeout(err)
		}
		return nil, core.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// handled below
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, core.AuthenticationFailure(fmt.Errorf("api returned %s", resp.Status))
	case resp.StatusCode == http.StatusNotFound:
		return nil, core.NotFound(fmt.Errorf("organization %s not found", s.org))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, core.Transient(fmt.Errorf("api returned %s", resp.Status))
	default:
		return nil, fmt.Errorf("api returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.Transient(fmt.Errorf("reading response: %w", err))
	}
	var batch []ghRepo
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return batch, nil
}

func (s *GitHubSource) waitBackoff(ctx context.Context, d time.Duration) error {
	if s.sleep != nil {
		return s.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
