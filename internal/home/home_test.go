package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	d := New("/tmp/sv-config", "/tmp/sv-cache", "/tmp/sv-keys")
	if d.ConfigRoot() != "/tmp/sv-config" {
		t.Errorf("expected config root /tmp/sv-config, got %s", d.ConfigRoot())
	}
	if d.CacheRoot() != "/tmp/sv-cache" {
		t.Errorf("expected cache root /tmp/sv-cache, got %s", d.CacheRoot())
	}
	if d.KeysDir() != "/tmp/sv-keys" {
		t.Errorf("expected keys dir /tmp/sv-keys, got %s", d.KeysDir())
	}
}

func TestDefault(t *testing.T) {
	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.ConfigRoot() == "" {
		t.Fatal("expected non-empty config root")
	}
	if filepath.Base(d.ConfigRoot()) != "snapvault" {
		t.Errorf("expected config root to end with 'snapvault', got %s", d.ConfigRoot())
	}
	if filepath.Base(d.KeysDir()) != "keys" {
		t.Errorf("expected keys dir to end with 'keys', got %s", d.KeysDir())
	}
}

func TestDefaultHonorsEnv(t *testing.T) {
	t.Setenv(envConfigDir, "/custom/config")
	t.Setenv(envCacheDir, "/custom/cache")
	t.Setenv(envKeysDir, "/custom/keys")

	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.ConfigRoot() != "/custom/config" {
		t.Errorf("got %s", d.ConfigRoot())
	}
	if d.CacheRoot() != "/custom/cache" {
		t.Errorf("got %s", d.CacheRoot())
	}
	if d.KeysDir() != "/custom/keys" {
		t.Errorf("got %s", d.KeysDir())
	}
}

func TestSecurityDir(t *testing.T) {
	d := New("/data", "/cache", "/data/keys")
	if got := d.SecurityDir("repo1"); got != "/data/security/repo1" {
		t.Errorf("got %s", got)
	}
}

func TestCacheDir(t *testing.T) {
	d := New("/data", "/cache", "/data/keys")
	if got := d.CacheDir("repo1"); got != "/cache/repo1" {
		t.Errorf("got %s", got)
	}
}

func TestEnsureExists(t *testing.T) {
	root := t.TempDir()
	d := New(
		filepath.Join(root, "config"),
		filepath.Join(root, "cache"),
		filepath.Join(root, "config", "keys"),
	)
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	for _, p := range []string{d.ConfigRoot(), d.CacheRoot(), d.KeysDir()} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("Stat(%s): %v", p, err)
		}
		if !info.IsDir() {
			t.Errorf("%s: expected directory", p)
		}
	}

	// Calling again should be idempotent.
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists (idempotent): %v", err)
	}
}
