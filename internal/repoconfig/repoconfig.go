// Package repoconfig reads and writes a repository's on-disk "config"
// file: the INI document at the repository root that records its
// format version, id, segment layout, quota, and key-storage mode,
// following the repository's on-disk external layout.
package repoconfig

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// CurrentVersion is the on-disk config format version this build writes.
const CurrentVersion = 1

// Config is the parsed [repository] (and optional [key]) section of a
// repository's config file.
type Config struct {
	Version             int
	ID                  [16]byte
	SegmentsPerDir       uint64
	MaxSegmentSize       int64
	AdditionalFreeSpace  int64
	StorageQuota         int64 // 0 means unlimited
	AppendOnly           bool
	Storage              string // "file", "s3", "azblob", "gcs"; default "file"
	StorageParams        map[string]string

	// KeyLocation is "repokey" (wrapped key blob embedded in this file)
	// or "keyfile" (key material lives in the user's keys directory).
	KeyLocation string
	RepokeyBlob string // populated when KeyLocation == "repokey"
}

const readmeText = `This is a snapvault repository.

Do not delete, copy, or edit any of the files in this directory unless
you know exactly what you are doing. The "config" file here names the
repository's id; the matching key is either wrapped inside this file
(repokey mode) or kept separately in your keys directory (keyfile mode).
Without the right key, the data in data/ cannot be decrypted.
`

// ReadmePath and ConfigPath return the canonical file names under root.
func ReadmePath(root string) string { return filepath.Join(root, "README") }
func ConfigPath(root string) string { return filepath.Join(root, "config") }

// WriteREADME drops the repository's README file, matching spec's
// external layout.
func WriteREADME(root string) error {
	return os.WriteFile(ReadmePath(root), []byte(readmeText), 0o644)
}

// Load reads and parses the config file at root/config.
func Load(root string) (*Config, error) {
	f, err := ini.Load(ConfigPath(root))
	if err != nil {
		return nil, fmt.Errorf("repoconfig: load: %w", err)
	}
	repoSec := f.Section("repository")
	cfg := &Config{
		Version:             repoSec.Key("version").MustInt(CurrentVersion),
		SegmentsPerDir:       repoSec.Key("segments_per_dir").MustUint64(1000),
		MaxSegmentSize:       repoSec.Key("max_segment_size").MustInt64(512 << 20),
		AdditionalFreeSpace:  repoSec.Key("additional_free_space").MustInt64(0),
		StorageQuota:         repoSec.Key("storage_quota").MustInt64(0),
		AppendOnly:           repoSec.Key("append_only").MustBool(false),
		Storage:              repoSec.Key("storage").MustString("file"),
	}
	idHex := repoSec.Key("id").String()
	idBytes, err := hex.DecodeString(idHex)
	if err != nil || len(idBytes) != 16 {
		return nil, fmt.Errorf("repoconfig: invalid repository id %q", idHex)
	}
	copy(cfg.ID[:], idBytes)

	if storageSec, err := f.GetSection("storage"); err == nil {
		cfg.StorageParams = storageSec.KeysHash()
	}

	if keySec, err := f.GetSection("key"); err == nil {
		cfg.KeyLocation = keySec.Key("location").MustString("keyfile")
		cfg.RepokeyBlob = keySec.Key("repokey").String()
	} else {
		cfg.KeyLocation = "keyfile"
	}
	return cfg, nil
}

// Save writes cfg to root/config, overwriting any existing file.
func Save(root string, cfg *Config) error {
	f := ini.Empty()
	repoSec, err := f.NewSection("repository")
	if err != nil {
		return err
	}
	repoSec.Key("version").SetValue(fmt.Sprintf("%d", cfg.Version))
	repoSec.Key("id").SetValue(hex.EncodeToString(cfg.ID[:]))
	repoSec.Key("segments_per_dir").SetValue(fmt.Sprintf("%d", cfg.SegmentsPerDir))
	repoSec.Key("max_segment_size").SetValue(fmt.Sprintf("%d", cfg.MaxSegmentSize))
	repoSec.Key("additional_free_space").SetValue(fmt.Sprintf("%d", cfg.AdditionalFreeSpace))
	repoSec.Key("storage_quota").SetValue(fmt.Sprintf("%d", cfg.StorageQuota))
	repoSec.Key("append_only").SetValue(fmt.Sprintf("%t", cfg.AppendOnly))
	if cfg.Storage != "" {
		repoSec.Key("storage").SetValue(cfg.Storage)
	}

	if len(cfg.StorageParams) > 0 {
		storageSec, err := f.NewSection("storage")
		if err != nil {
			return err
		}
		for k, v := range cfg.StorageParams {
			storageSec.Key(k).SetValue(v)
		}
	}

	if cfg.KeyLocation != "" {
		keySec, err := f.NewSection("key")
		if err != nil {
			return err
		}
		keySec.Key("location").SetValue(cfg.KeyLocation)
		if cfg.RepokeyBlob != "" {
			keySec.Key("repokey").SetValue(cfg.RepokeyBlob)
		}
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	return f.SaveTo(ConfigPath(root))
}

// Get returns the string value of a dotted "section.key" path, used by
// the "config" CLI subcommand's get/set/list surface.
func (c *Config) Get(key string) (string, bool) {
	switch key {
	case "segments_per_dir":
		return fmt.Sprintf("%d", c.SegmentsPerDir), true
	case "max_segment_size":
		return fmt.Sprintf("%d", c.MaxSegmentSize), true
	case "additional_free_space":
		return fmt.Sprintf("%d", c.AdditionalFreeSpace), true
	case "storage_quota":
		return fmt.Sprintf("%d", c.StorageQuota), true
	case "append_only":
		return fmt.Sprintf("%t", c.AppendOnly), true
	case "storage":
		return c.Storage, true
	case "id":
		return hex.EncodeToString(c.ID[:]), true
	default:
		return "", false
	}
}
