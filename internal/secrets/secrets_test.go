package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"repovault/internal/config"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("REPOVAULT_UPSTREAM_TOKEN", "tok-123")

	p := &EnvProvider{}
	got, err := p.Get("upstream_token")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "tok-123" {
		t.Errorf("expected tok-123, got %s", got)
	}

	if _, err := p.Get("never_set_secret"); err == nil {
		t.Error("expected error for unset secret")
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.toml")
	content := "upstream_token = \"tok-456\"\njwt_signing_key = \"hunter2\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing secrets file: %v", err)
	}

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := p.Get("jwt_signing_key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("expected hunter2, got %s", got)
	}

	if _, err := p.Get("missing"); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestFileProviderRejectsLoosepermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.toml")
	if err := os.WriteFile(path, []byte("a = \"b\"\n"), 0644); err != nil {
		t.Fatalf("writing secrets file: %v", err)
	}

	if _, err := NewFileProvider(path); err == nil {
		t.Error("expected error for world-readable secrets file")
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Run("static", func(t *testing.T) {
		p, err := NewFromConfig(config.SecretsConfig{Type: "static", Values: map[string]string{"k": "v"}})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		got, err := p.Get("k")
		if err != nil || got != "v" {
			t.Errorf("unexpected result: %s, %v", got, err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewFromConfig(config.SecretsConfig{Type: "vault"}); err == nil {
			t.Error("expected error for unknown type")
		}
	})
}
