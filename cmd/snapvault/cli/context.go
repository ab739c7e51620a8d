// Package cli implements the snapvault command-line subcommand tree:
// each command opens a repository context (repo + key + optional
// cache), does its work, and releases everything in deterministic
// order on exit — the local equivalent of a Connect-RPC
// clientFromCmd(cmd) Connect-RPC client factory, generalized from a
// remote config client to a local-or-remote repository handle.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"snapvault/internal/cache"
	"snapvault/internal/compress"
	"snapvault/internal/crypto"
	"snapvault/internal/home"
	"snapvault/internal/repo"
	"snapvault/internal/repoconfig"
	"snapvault/internal/storeopen"
)

const envPassphrase = "SNAPVAULT_PASSPHRASE"
const envRepo = "SNAPVAULT_REPO"

// RepoContext bundles everything a subcommand needs to operate on a
// repository, released via Close: the repository first, then the cache.
type RepoContext struct {
	Repo   *repo.Repository
	KM     *crypto.KeyMaterial
	Cache  *cache.Cache // nil if --no-cache or cache unavailable
	Config *repoconfig.Config
	Root   string
}

// Close releases the repository and cache, repository first so the
// cache's own bbolt handles outlive any final repo.Commit flush.
func (rc *RepoContext) Close() error {
	var err error
	if rc.Repo != nil {
		err = rc.Repo.Close()
	}
	if rc.Cache != nil {
		if cerr := rc.Cache.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func repoRoot(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if v, _ := cmd.Flags().GetString("repo"); v != "" {
		return v, nil
	}
	if v := os.Getenv(envRepo); v != "" {
		return v, nil
	}
	return "", errors.New("no repository given: pass --repo, set " + envRepo + ", or provide it as the first argument")
}

func passphrase(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("passphrase"); v != "" {
		return v
	}
	return os.Getenv(envPassphrase)
}

// openRepoContext resolves the repository at root, loads its key
// material (repokey or keyfile mode), and opens the repository facade
// plus, unless --no-cache, the local chunks/files cache.
func openRepoContext(cmd *cobra.Command, root string) (*RepoContext, error) {
	cfg, err := repoconfig.Load(root)
	if err != nil {
		return nil, fmt.Errorf("open repository config: %w", err)
	}

	hd, err := resolveHomeDir(cmd)
	if err != nil {
		return nil, err
	}

	pass := passphrase(cmd)
	var km *crypto.KeyMaterial
	switch cfg.KeyLocation {
	case "repokey":
		km, err = crypto.UnwrapRepokey(cfg.RepokeyBlob, pass)
	default:
		km, err = crypto.ReadKeyfile(hd.KeysDir(), cfg.ID, pass)
	}
	if err != nil {
		return nil, fmt.Errorf("unlock repository key: %w", err)
	}

	store, err := storeopen.Open(context.Background(), root, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("open segment store: %w", err)
	}

	scheme, _ := cmd.Flags().GetString("encryption-scheme")
	lockWait, _ := cmd.Flags().GetInt64("lock-wait")

	r, err := repo.Open(repo.Config{
		Store:       store,
		HintsDir:    root,
		KeyMaterial: km,
		Scheme:      schemeByte(scheme),
		Compression: repo.CompressionConfig{Codec: compress.CodecZstd, Level: 3},
		AppendOnly:  cfg.AppendOnly,
		QuotaBytes:  cfg.StorageQuota,
		MaxSegment:  cfg.MaxSegmentSize,
		LockWaitSecs: lockWait,
	})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	rc := &RepoContext{Repo: r, KM: km, Config: cfg, Root: root}

	noCache, _ := cmd.Flags().GetBool("no-cache")
	if !noCache {
		repoID := fmt.Sprintf("%x", cfg.ID)
		c, err := cache.Open(hd.CacheDir(repoID))
		if err == nil {
			rc.Cache = c
		}
	}
	return rc, nil
}

func resolveHomeDir(cmd *cobra.Command) (home.Dir, error) {
	if v, _ := cmd.Flags().GetString("home"); v != "" {
		return home.New(v, v, v), nil
	}
	return home.Default()
}

func schemeByte(name string) byte {
	switch name {
	case "none":
		return crypto.SchemeNone
	case "chacha20poly1305":
		return crypto.SchemeChaCha20Poly1305
	case "blake2b":
		return crypto.SchemeBlake2b
	default:
		return crypto.SchemeCTRHMAC
	}
}
