// Package home resolves the local directories snapvault uses for client-side
// state: the key material directory and the chunks/files cache.
//
// Layout:
//
//	<config-root>/
//	  keys/                 (keyfile-mode repository keys)
//	  security/<repo-id>/   (per-repository manifest-ts, key-type records)
//	<cache-root>/
//	  <repo-id>/
//	    chunks.db           (bbolt: chunk refcounts and sizes)
//	    files.db             (bbolt: path -> chunk list cache)
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envConfigDir = "SNAPVAULT_CONFIG_DIR"
	envCacheDir  = "SNAPVAULT_CACHE_DIR"
	envKeysDir   = "SNAPVAULT_KEYS_DIR"
)

// Dir represents the resolved snapvault client directories.
type Dir struct {
	configRoot string
	cacheRoot  string
	keysRoot   string
}

// New creates a Dir with explicit roots.
func New(configRoot, cacheRoot, keysRoot string) Dir {
	return Dir{configRoot: configRoot, cacheRoot: cacheRoot, keysRoot: keysRoot}
}

// Default resolves the platform-appropriate directories, honoring
// SNAPVAULT_CONFIG_DIR, SNAPVAULT_CACHE_DIR, and SNAPVAULT_KEYS_DIR when set.
func Default() (Dir, error) {
	cfgBase, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	cacheBase, err := os.UserCacheDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine cache directory: %w", err)
	}

	d := Dir{
		configRoot: filepath.Join(cfgBase, "snapvault"),
		cacheRoot:  filepath.Join(cacheBase, "snapvault"),
	}
	if v := os.Getenv(envConfigDir); v != "" {
		d.configRoot = v
	}
	if v := os.Getenv(envCacheDir); v != "" {
		d.cacheRoot = v
	}
	d.keysRoot = filepath.Join(d.configRoot, "keys")
	if v := os.Getenv(envKeysDir); v != "" {
		d.keysRoot = v
	}
	return d, nil
}

// ConfigRoot returns the configuration root directory.
func (d Dir) ConfigRoot() string { return d.configRoot }

// CacheRoot returns the cache root directory.
func (d Dir) CacheRoot() string { return d.cacheRoot }

// KeysDir returns the directory holding keyfile-mode repository keys.
func (d Dir) KeysDir() string { return d.keysRoot }

// SecurityDir returns the per-repository security directory (manifest
// timestamp, key-type record) keyed by repository id.
func (d Dir) SecurityDir(repoID string) string {
	return filepath.Join(d.configRoot, "security", repoID)
}

// CacheDir returns the per-repository cache directory (chunks.db, files.db)
// keyed by repository id.
func (d Dir) CacheDir(repoID string) string {
	return filepath.Join(d.cacheRoot, repoID)
}

// EnsureExists creates the config, cache, and keys directories.
func (d Dir) EnsureExists() error {
	for _, p := range []string{d.configRoot, d.cacheRoot, d.keysRoot} {
		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", p, err)
		}
	}
	return nil
}
