package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"snapvault/internal/compress"
	"snapvault/internal/crypto"
	"snapvault/internal/remote"
	"snapvault/internal/repo"
	"snapvault/internal/repoconfig"
	"snapvault/internal/storeopen"
)

// newServeCmd implements the "serve" side of the remote protocol:
// dispatched over stdin/stdout by an SSH ForceCommand (or by
// remote.Dial's own subprocess spawn) the way the client in
// internal/remote/client.go expects.
func newServeCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a repository over the remote protocol on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			restrictPaths, _ := cmd.Flags().GetStringArray("restrict-to-path")
			appendOnly, _ := cmd.Flags().GetBool("append-only")
			quota, _ := cmd.Flags().GetInt64("storage-quota")

			root, err := repoRoot(cmd, args)
			if err != nil {
				return err
			}
			if !allowedPath(root, restrictPaths) {
				return fmt.Errorf("serve: %q is not among the allowed paths", root)
			}

			cfg, err := repoconfig.Load(root)
			if err != nil {
				return fmt.Errorf("load repository config: %w", err)
			}
			hd, err := resolveHomeDir(cmd)
			if err != nil {
				return err
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
				return fmt.Errorf("unlock repository key: %w", err)
			}

			store, err := storeopen.Open(context.Background(), root, cfg, logger)
			if err != nil {
				return fmt.Errorf("open segment store: %w", err)
			}
			lockWait, _ := cmd.Flags().GetInt64("lock-wait")
			scheme, _ := cmd.Flags().GetString("encryption-scheme")

			r, err := repo.Open(repo.Config{
				Store:        store,
				HintsDir:     root,
				KeyMaterial:  km,
				Scheme:       schemeByte(scheme),
				Compression:  repo.CompressionConfig{Codec: compress.CodecZstd, Level: 3},
				AppendOnly:   cfg.AppendOnly || appendOnly,
				QuotaBytes:   firstNonZero(quota, cfg.StorageQuota),
				MaxSegment:   cfg.MaxSegmentSize,
				LockWaitSecs: lockWait,
				Logger:       logger,
			})
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}
			defer r.Close()

			srv := remote.NewServer(r, remote.Restrictions{
				AllowedPaths: restrictPaths,
				AppendOnly:   appendOnly,
				QuotaBytes:   quota,
			}, logger)
			return srv.Serve(os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringArray("restrict-to-path", nil, "restrict remote access to this path (repeatable)")
	cmd.Flags().Bool("append-only", false, "force append-only mode for this connection")
	cmd.Flags().Int64("storage-quota", 0, "override the repository's storage quota for this connection")
	return cmd
}

func allowedPath(root string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, p := range allowed {
		if p == root {
			return true
		}
	}
	return false
}

func firstNonZero(a, b int64) int64 {
	if a != 0 {
		return a
	}
	return b
}
