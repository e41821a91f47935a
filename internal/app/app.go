package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"repovault/internal/archive"
	"repovault/internal/auth"
	"repovault/internal/config"
	"repovault/internal/core"
	"repovault/internal/discovery"
	"repovault/internal/encryption"
	"repovault/internal/httpapi"
	"repovault/internal/model"
	"repovault/internal/notify"
	"repovault/internal/secrets"
	"repovault/internal/snapshot"
	"repovault/internal/store"
)

// Secret names resolved through the configured provider.
const (
	secretAuthUsername = "auth_username"
	secretAuthPassword = "auth_password"
	secretSigningKey   = "jwt_signing_key"
)

// App is the application layer between the CLI and the orchestrators.
// It constructs all dependencies from config and manages the store
// lifecycle on Close.
type App struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	archive   core.ArchiveStore
	discovery *core.DiscoveryStage
	backup    *core.BackupOrchestrator
	archival  *core.ArchivalOrchestrator
	retrieval *core.RetrievalTracker
	downloads *core.DownloadService
	gate      *auth.Gate
	server    *httpapi.Server
	logger    core.Logger
	logFile   *os.File
}

// New creates a fully wired App from the given config. runID identifies
// the CLI command being run and tags every log line it writes. The
// caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, runID string) (*App, error) {
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	sec, err := secrets.NewFromConfig(cfg.Secrets)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating secret provider: %w", err)
	}

	st, err := store.NewFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	clock := core.RealClock{}
	idgen := core.UUIDGenerator{}

	arch, err := archive.NewFromConfig(ctx, cfg.Archive, sec, clock)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating archive store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Archive.Encryption)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	producer, err := snapshot.NewFromConfig(cfg.Snapshot, logger)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating snapshot producer: %w", err)
	}

	notifier, err := notify.NewFromConfig(cfg.Notify, logger)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating notifier: %w", err)
	}

	token, err := sec.Get(cfg.Discovery.TokenSecret)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("resolving upstream token: %w", err)
	}
	source := discovery.NewGitHubSource(cfg.Discovery, token, clock, logger)

	username, err := sec.Get(secretAuthUsername)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("resolving %s: %w", secretAuthUsername, err)
	}
	password, err := sec.Get(secretAuthPassword)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("resolving %s: %w", secretAuthPassword, err)
	}
	signingKey, err := sec.Get(secretSigningKey)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("resolving %s: %w", secretSigningKey, err)
	}

	gate := auth.NewGate(username, password, signingKey, cfg.Auth.Issuer,
		time.Duration(cfg.Auth.SessionTTLHours)*time.Hour, st, st, clock, idgen, logger)

	stage := core.NewDiscoveryStage(source, st, st, clock, idgen, logger)

	backup := core.NewBackupOrchestrator(st, st, arch, producer, enc, notifier, clock, idgen, logger,
		core.BackupOptions{
			Concurrency: cfg.Backup.Concurrency,
			Attempts:    cfg.Backup.Attempts,
			BackoffBase: time.Duration(cfg.Backup.BackoffBaseSecs) * time.Second,
			TaskTimeout: time.Duration(cfg.Backup.TaskTimeoutSecs) * time.Second,
			ScratchDir:  filepath.Join(cfg.BaseDir, "scratch"),
		})

	archival := core.NewArchivalOrchestrator(st, st, arch, notifier, clock, idgen, logger,
		core.ArchivalOptions{
			Concurrency: cfg.Archival.Concurrency,
			Attempts:    cfg.Archival.Attempts,
			BackoffBase: time.Duration(cfg.Archival.BackoffBaseSecs) * time.Second,
			TaskTimeout: time.Duration(cfg.Archival.TaskTimeoutSecs) * time.Second,
			WarmAfter:   time.Duration(cfg.Archival.WarmAfterDays) * 24 * time.Hour,
			ColdAfter:   time.Duration(cfg.Archival.ColdAfterDays) * 24 * time.Hour,
			DeepAfter:   time.Duration(cfg.Archival.DeepAfterDays) * 24 * time.Hour,
		})

	retrieval := core.NewRetrievalTracker(st, st, arch, clock, idgen, logger,
		core.RetrievalOptions{
			RestoreDays: cfg.Retrieval.RestoreDays,
			JobTTL:      time.Duration(cfg.Retrieval.JobTTLDays) * 24 * time.Hour,
		})

	downloads := core.NewDownloadService(st, st, arch, retrieval, clock, idgen, logger,
		core.DownloadOptions{
			URLTTL:      time.Duration(cfg.Retrieval.URLTTLHours) * time.Hour,
			DownloadTTL: time.Duration(cfg.Retrieval.DownloadTTLDays) * 24 * time.Hour,
		})

	server := httpapi.NewServer(gate, st, st, downloads, clock, logger)

	return &App{
		cfg:       cfg,
		store:     st,
		archive:   arch,
		discovery: stage,
		backup:    backup,
		archival:  archival,
		retrieval: retrieval,
		downloads: downloads,
		gate:      gate,
		server:    server,
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// Discover refreshes the repository fleet from upstream.
func (a *App) Discover(ctx context.Context) ([]*model.Repository, error) {
	return a.discovery.Run(ctx)
}

// BackupRun refreshes the fleet and then backs up every repository.
// A discovery failure aborts before any backup starts.
func (a *App) BackupRun(ctx context.Context) (*model.RunSummary, error) {
	if _, err := a.Discover(ctx); err != nil {
		return nil, err
	}
	return a.backup.Run(ctx)
}

// ArchivalRun applies every storage-class transition that is due.
func (a *App) ArchivalRun(ctx context.Context) (*model.RunSummary, error) {
	return a.archival.Run(ctx)
}

// Login issues a session token for the configured operator credentials.
func (a *App) Login(ctx context.Context, username, password string) (string, *model.Session, error) {
	return a.gate.Login(ctx, username, password)
}

// Serve runs the HTTP API and the periodic schedules until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	sched := newScheduler(a, a.cfg.Schedule, a.logger)
	go sched.run(ctx)
	return a.server.ListenAndServe(ctx, a.cfg.Server.Addr)
}

// Close releases the store and the log file.
func (a *App) Close() error {
	err := a.store.Close()
	if cerr := a.logFile.Close(); err == nil {
		err = cerr
	}
	return err
}
