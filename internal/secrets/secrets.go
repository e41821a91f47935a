package secrets

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"repovault/internal/config"
)

// Provider resolves named secrets: API tokens, credential pairs, signing
// keys. Names use lower_snake_case.
type Provider interface {
	Get(name string) (string, error)
}

// NewFromConfig creates a Provider based on the secrets config type.
func NewFromConfig(cfg config.SecretsConfig) (Provider, error) {
	switch cfg.Type {
	case "env":
		return &EnvProvider{}, nil
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for file secrets")
		}
		return NewFileProvider(cfg.Path)
	case "static":
		return StaticProvider(cfg.Values), nil
	default:
		return nil, fmt.Errorf("unknown secrets type: %s", cfg.Type)
	}
}

// EnvProvider resolves secrets from the environment. The name
// "upstream_token" maps to REPOVAULT_UPSTREAM_TOKEN.
type EnvProvider struct{}

func (p *EnvProvider) Get(name string) (string, error) {
	key := "REPOVAULT_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("secret %s not set (expected env var %s)", name, key)
	}
	return value, nil
}

// FileProvider resolves secrets from a TOML file of name = "value"
// pairs. The file is read once at startup.
type FileProvider struct {
	values map[string]string
}

func NewFileProvider(path string) (*FileProvider, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stating secrets file: %w", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("secrets file %s is readable by group or world (mode %o)", path, info.Mode().Perm())
	}

	values := map[string]string{}
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return nil, fmt.Errorf("decoding secrets file: %w", err)
	}
	return &FileProvider{values: values}, nil
}

func (p *FileProvider) Get(name string) (string, error) {
	value, ok := p.values[name]
	if !ok || value == "" {
		return "", fmt.Errorf("secret %s not present in secrets file", name)
	}
	return value, nil
}

// StaticProvider serves secrets from a fixed map. Dev and tests only.
type StaticProvider map[string]string

func (p StaticProvider) Get(name string) (string, error) {
	value, ok := p[name]
	if !ok {
		return "", fmt.Errorf("secret %s not configured", name)
	}
	return value, nil
}
