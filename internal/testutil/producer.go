package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"repovault/internal/core"
	"repovault/internal/model"
)

// ScriptedProducer writes placeholder snapshots, failing according to a
// per-repository script. Use it to exercise backup retry handling.
type ScriptedProducer struct {
	mu sync.Mutex
	// Errs maps a repository name to the errors its next Produce calls
	// return, consumed front to back. Once drained, calls succeed.
	Errs map[string][]error
	// Calls counts Produce invocations per repository.
	Calls map[string]int
}

var _ core.SnapshotProducer = (*ScriptedProducer)(nil)

// NewScriptedProducer creates a producer with no scripted failures.
func NewScriptedProducer() *ScriptedProducer {
	return &ScriptedProducer{
		Errs:  make(map[string][]error),
		Calls: make(map[string]int),
	}
}

// FailWith schedules errs as the outcomes of the next Produce calls for
// the named repository.
func (p *ScriptedProducer) FailWith(repository string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Errs[repository] = append(p.Errs[repository], errs...)
}

func (p *ScriptedProducer) Produce(ctx context.Context, repo model.Repository, dir string) (string, error) {
	p.mu.Lock()
	p.Calls[repo.Name]++
	var scripted error
	if queue := p.Errs[repo.Name]; len(queue) > 0 {
		scripted = queue[0]
		p.Errs[repo.Name] = queue[1:]
	}
	p.mu.Unlock()

	if scripted != nil {
		return "", scripted
	}

	out := filepath.Join(dir, repo.Name+".tar.gz")
	content := fmt.Sprintf("snapshot of %s\n", repo.Name)
	if err := os.WriteFile(out, []byte(content), 0644); err != nil {
		return "", err
	}
	return out, nil
}

// StubSource returns a fixed repository list.
type StubSource struct {
	Repos []model.Repository
	Err   error
}

var _ core.Source = (*StubSource)(nil)

func (s *StubSource) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Repos, nil
}
