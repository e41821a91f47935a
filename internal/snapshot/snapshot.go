package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"repovault/internal/config"
	"repovault/internal/core"
	"repovault/internal/model"
)

// NewFromConfig creates a SnapshotProducer based on the snapshot config type.
func NewFromConfig(cfg config.SnapshotConfig, logger core.Logger) (core.SnapshotProducer, error) {
	switch cfg.Type {
	case "exec", "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("exec snapshot requires a command")
		}
		return &ExecProducer{
			command: cfg.Command,
			args:    cfg.Args,
			workDir: cfg.WorkDir,
			logger:  logger,
		}, nil
	case "stub":
		return &StubProducer{}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot type: %s", cfg.Type)
	}
}

// ExecProducer shells out to an external tool that mirrors a repository
// and packs it. The command is invoked as:
//
//	<command> [args...] <repository> <clone-url> <output-path>
//
// and must write a tar.gz archive at the output path.
type ExecProducer struct {
	command string
	args    []string
	workDir string
	logger  core.Logger
}

var _ core.SnapshotProducer = (*ExecProducer)(nil)

func (p *ExecProducer) Produce(ctx context.Context, repo model.Repository, dir string) (string, error) {
	out := filepath.Join(dir, repo.Name+".tar.gz")

	args := append(append([]string{}, p.args...), repo.Name, repo.CloneURL, out)
	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Dir = p.workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Debug("producing snapshot", "repository", repo.Name, "command", p.command)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", core.Timeout(fmt.Errorf("snapshot of %s: %w", repo.Name, ctx.Err()))
		}
		return "", classifyExit(repo.Name, err, stderr.String())
	}

	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("snapshot command for %s wrote no output: %w", repo.Name, err)
	}
	return out, nil
}

// Snapshot command exit codes, part of the contract with the external tool.
const (
	exitNotFound   = 3
	exitAuthDenied = 4
	exitDiskFull   = 5
)

func classifyExit(repo string, err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		wrapped := fmt.Errorf("snapshot of %s: %w (stderr: %s)", repo, err, stderr)
		switch exitErr.ExitCode() {
		case exitNotFound:
			return core.NotFound(wrapped)
		case exitAuthDenied:
			return core.AuthenticationFailure(wrapped)
		case exitDiskFull:
			return core.ResourceExhausted(wrapped)
		default:
			// Unmapped exit codes are usually clone hiccups; retrying helps.
			return core.Transient(wrapped)
		}
	}
	return fmt.Errorf("snapshot of %s: %w", repo, err)
}

// StubProducer writes a deterministic placeholder archive. Dev and
// tests only; it never touches the network.
type StubProducer struct{}

var _ core.SnapshotProducer = (*StubProducer)(nil)

func (p *StubProducer) Produce(ctx context.Context, repo model.Repository, dir string) (string, error) {
	out := filepath.Join(dir, repo.Name+".tar.gz")
	content := fmt.Sprintf("stub snapshot of %s from %s\n", repo.Name, repo.CloneURL)
	if err := os.WriteFile(out, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing stub snapshot: %w", err)
	}
	return out, nil
}
