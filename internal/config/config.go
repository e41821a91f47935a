package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for repovault.
type Config struct {
	BaseDir   string          `toml:"base_dir"`
	LogDir    string          `toml:"log_dir"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Secrets   SecretsConfig   `toml:"secrets"`
	Database  DatabaseConfig  `toml:"database"`
	Archive   ArchiveConfig   `toml:"archive"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Backup    BackupConfig    `toml:"backup"`
	Archival  ArchivalConfig  `toml:"archival"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Notify    NotifyConfig    `toml:"notify"`
	Schedule  ScheduleConfig  `toml:"schedule"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds bearer-session settings. The credential pair and the
// signing key come from the secret provider, never from this file.
type AuthConfig struct {
	Issuer          string `toml:"issuer"`
	SessionTTLHours int    `toml:"session_ttl_hours"`
}

// SecretsConfig selects the secret provider backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SecretsConfig struct {
	Type string `toml:"type"` // "env", "file", or "static"

	// File-specific (only used when Type == "file")
	Path string `toml:"path,omitempty"`

	// Static-specific (only used when Type == "static"; dev and tests only)
	Values map[string]string `toml:"values,omitempty"`
}

// DatabaseConfig selects the state store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ArchiveConfig selects the archive store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "s3", "filesystem", or "memory"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// Encryption of archives at rest, applied before upload.
	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig holds paths to the age key pair used for archive encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test", or "none"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// DiscoveryConfig holds settings for upstream repository enumeration.
type DiscoveryConfig struct {
	Org             string  `toml:"org"`
	APIBase         string  `toml:"api_base,omitempty"` // defaults to the public GitHub API
	PageSize        int     `toml:"page_size"`
	Attempts        int     `toml:"attempts"`
	BackoffBaseSecs int     `toml:"backoff_base_seconds"`
	RequestsPerSec  float64 `toml:"requests_per_second"`
	TokenSecret     string  `toml:"token_secret"` // secret name resolved via the provider
}

// SnapshotConfig selects the snapshot producer.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SnapshotConfig struct {
	Type string `toml:"type"` // "exec" or "stub"

	// Exec-specific: the external command invoked as
	// `command <repository> <clone-url> <output-path>`.
	Command string   `toml:"command,omitempty"`
	Args    []string `toml:"args,omitempty"`
	WorkDir string   `toml:"work_dir,omitempty"`
}

// BackupConfig tunes the backup fan-out. Concurrency ceilings and retry
// budgets are deliberately configuration, not constants.
type BackupConfig struct {
	Concurrency     int `toml:"concurrency"`
	Attempts        int `toml:"attempts"`
	BackoffBaseSecs int `toml:"backoff_base_seconds"`
	TaskTimeoutSecs int `toml:"task_timeout_seconds"`
}

// ArchivalConfig tunes the archival fan-out and the age thresholds that
// make a backup eligible for each storage-class transition.
type ArchivalConfig struct {
	Concurrency     int `toml:"concurrency"`
	Attempts        int `toml:"attempts"`
	BackoffBaseSecs int `toml:"backoff_base_seconds"`
	TaskTimeoutSecs int `toml:"task_timeout_seconds"`
	WarmAfterDays   int `toml:"warm_after_days"`
	ColdAfterDays   int `toml:"cold_after_days"`
	DeepAfterDays   int `toml:"deep_after_days"`
}

// RetrievalConfig tunes retrieval jobs and downloads.
type RetrievalConfig struct {
	RestoreDays     int `toml:"restore_days"`      // how long a restored copy stays accessible
	JobTTLDays      int `toml:"job_ttl_days"`      // retrieval job expiry
	URLTTLHours     int `toml:"url_ttl_hours"`     // presigned URL validity
	DownloadTTLDays int `toml:"download_ttl_days"` // download record expiry
}

// NotifyConfig selects the run-summary notifier.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type NotifyConfig struct {
	Type string `toml:"type"`          // "log" or "webhook"
	URL  string `toml:"url,omitempty"` // only used for type=webhook
}

// ScheduleConfig sets how often the serve command fires each run.
type ScheduleConfig struct {
	BackupIntervalHours   int `toml:"backup_interval_hours"`
	ArchivalIntervalHours int `toml:"archival_interval_hours"`
}

// NewConfig creates a Config with the provided base directory and sensible
// defaults for every tunable.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Server:  ServerConfig{Addr: ":8080"},
		Auth: AuthConfig{
			Issuer:          "repovault",
			SessionTTLHours: 8,
		},
		Secrets:  SecretsConfig{Type: "env"},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "data")},
		Archive: ArchiveConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "archive"),
			Encryption: EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "repovault.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "repovault.key"),
			},
		},
		Discovery: DiscoveryConfig{
			PageSize:        100,
			Attempts:        6,
			BackoffBaseSecs: 2,
			RequestsPerSec:  5,
			TokenSecret:     "upstream_token",
		},
		Snapshot: SnapshotConfig{Type: "exec"},
		Backup: BackupConfig{
			Concurrency:     10,
			Attempts:        3,
			BackoffBaseSecs: 2,
			TaskTimeoutSecs: 900,
		},
		Archival: ArchivalConfig{
			Concurrency:     5,
			Attempts:        3,
			BackoffBaseSecs: 2,
			TaskTimeoutSecs: 300,
			WarmAfterDays:   1,
			ColdAfterDays:   30,
			DeepAfterDays:   365,
		},
		Retrieval: RetrievalConfig{
			RestoreDays:     7,
			JobTTLDays:      30,
			URLTTLHours:     24,
			DownloadTTLDays: 30,
		},
		Notify: NotifyConfig{Type: "log"},
		Schedule: ScheduleConfig{
			BackupIntervalHours:   24,
			ArchivalIntervalHours: 24,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
