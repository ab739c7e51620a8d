package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"snapvault/internal/archive"
	"snapvault/internal/compress"
	"snapvault/internal/crypto"
	"snapvault/internal/repo"
	"snapvault/internal/repoconfig"
	"snapvault/internal/storeopen"
)

func newInitCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a new repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := repoRoot(cmd, args)
			if err != nil {
				return err
			}
			keyMode, _ := cmd.Flags().GetString("encryption")
			tamRequired, _ := cmd.Flags().GetBool("tam-required")
			quota, _ := cmd.Flags().GetInt64("storage-quota")
			appendOnly, _ := cmd.Flags().GetBool("append-only")

			if _, err := os.Stat(repoconfig.ConfigPath(root)); err == nil {
				return fmt.Errorf("repository %q already exists", root)
			}

			km, err := crypto.Generate(tamRequired)
			if err != nil {
				return fmt.Errorf("generate key material: %w", err)
			}

			pass := passphrase(cmd)
			cfg := &repoconfig.Config{
				Version:             repoconfig.CurrentVersion,
				ID:                  km.RepositoryID,
				SegmentsPerDir:      1000,
				MaxSegmentSize:      512 << 20,
				AdditionalFreeSpace: 0,
				StorageQuota:        quota,
				AppendOnly:          appendOnly,
				Storage:             "file",
			}

			switch keyMode {
			case "repokey":
				blob, err := crypto.WrapRepokey(km, pass)
				if err != nil {
					return fmt.Errorf("wrap repokey: %w", err)
				}
				cfg.KeyLocation = "repokey"
				cfg.RepokeyBlob = blob
			case "keyfile":
				hd, err := resolveHomeDir(cmd)
				if err != nil {
					return err
				}
				if _, err := crypto.WriteKeyfile(hd.KeysDir(), km, pass); err != nil {
					return fmt.Errorf("write keyfile: %w", err)
				}
				cfg.KeyLocation = "keyfile"
			case "none":
				cfg.KeyLocation = "keyfile"
			default:
				return fmt.Errorf("unknown --encryption mode %q (want repokey, keyfile, or none)", keyMode)
			}

			if err := repoconfig.Save(root, cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			if err := repoconfig.WriteREADME(root); err != nil {
				return fmt.Errorf("write README: %w", err)
			}

			store, err := storeopen.Open(context.Background(), root, cfg, logger)
			if err != nil {
				return fmt.Errorf("open segment store: %w", err)
			}
			r, err := repo.Open(repo.Config{
				Store:       store,
				HintsDir:    root,
				KeyMaterial: km,
				Scheme:      schemeByte(mustFlagString(cmd, "encryption-scheme")),
				Compression: repo.CompressionConfig{Codec: compress.CodecZstd, Level: 3},
				AppendOnly:  appendOnly,
				QuotaBytes:  quota,
				MaxSegment:  cfg.MaxSegmentSize,
				Logger:      logger,
			})
			if err != nil {
				return fmt.Errorf("open new repository: %w", err)
			}
			defer r.Close()

			manifest := archive.NewManifest(km.RepositoryID, tamRequired)
			if err := r.PutManifest(manifest); err != nil {
				return fmt.Errorf("write initial manifest: %w", err)
			}
			if err := r.Commit(false, 0); err != nil {
				return fmt.Errorf("commit initial manifest: %w", err)
			}

			fmt.Printf("Initialized repository %x at %s\n", km.RepositoryID, root)
			return nil
		},
	}
	cmd.Flags().String("encryption", "repokey", "key storage mode: repokey, keyfile, or none")
	cmd.Flags().Bool("tam-required", false, "require authenticated manifests (TAM)")
	cmd.Flags().Int64("storage-quota", 0, "storage quota in bytes (0 = unlimited)")
	cmd.Flags().Bool("append-only", false, "create the repository in append-only mode")
	return cmd
}

func mustFlagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
