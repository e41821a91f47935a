package encryption

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"repovault/internal/config"
)

func newConfiguredEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	e := NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "repovault.pub"),
		PrivateKeyPath: filepath.Join(dir, "repovault.key"),
	})
	if err := e.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return e
}

func TestAgeEncryptorRoundTrip(t *testing.T) {
	e := newConfiguredEncryptor(t)
	plaintext := []byte("snapshot archive content")

	var ciphertext bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(plaintext), &ciphertext); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(ciphertext.Bytes(), plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	var got bytes.Buffer
	if err := e.Decrypt(bytes.NewReader(ciphertext.Bytes()), &got); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got.Bytes(), plaintext) {
		t.Errorf("round trip mismatch: %q", got.Bytes())
	}
}

func TestAgeEncryptorSetup(t *testing.T) {
	e := newConfiguredEncryptor(t)

	if !e.IsConfigured() {
		t.Error("expected encryptor to be configured after setup")
	}
	// A second setup must not clobber existing keys.
	if err := e.Setup(); err == nil {
		t.Error("expected error setting up over existing keys")
	}
}

func TestAgeEncryptorUnconfigured(t *testing.T) {
	dir := t.TempDir()
	e := NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "missing.pub"),
		PrivateKeyPath: filepath.Join(dir, "missing.key"),
	})

	if e.IsConfigured() {
		t.Error("expected unconfigured encryptor")
	}
	var out bytes.Buffer
	if err := e.Encrypt(strings.NewReader("x"), &out); err == nil {
		t.Error("expected error encrypting without keys")
	}
}

func TestAgeEncryptorWrongKey(t *testing.T) {
	sender := newConfiguredEncryptor(t)
	other := newConfiguredEncryptor(t)

	var ciphertext bytes.Buffer
	if err := sender.Encrypt(strings.NewReader("secret"), &ciphertext); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var out bytes.Buffer
	if err := other.Decrypt(bytes.NewReader(ciphertext.Bytes()), &out); err == nil {
		t.Error("expected decryption with the wrong key to fail")
	}
}
