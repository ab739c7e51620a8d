package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"snapvault/internal/crypto"
	"snapvault/internal/repoconfig"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage a repository's encryption key",
	}
	cmd.AddCommand(
		newKeyExportCmd(),
		newKeyImportCmd(),
		newKeyChangePassphraseCmd(),
		newKeyChangeLocationCmd(),
	)
	return cmd
}

func newKeyExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export REPO FILE",
		Short: "Export the repository key to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			rc, err := openRepoContext(cmd, loc.Repo)
			if err != nil {
				return err
			}
			defer rc.Close()

			blob, err := crypto.WrapRepokey(rc.KM, passphrase(cmd))
			if err != nil {
				return fmt.Errorf("wrap key: %w", err)
			}
			if err := os.WriteFile(args[1], []byte(blob), 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported key for repository %s to %s\n", crypto.FormatRepositoryID(rc.KM.RepositoryID), args[1])
			return nil
		},
	}
	return cmd
}

func newKeyImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import REPO FILE",
		Short: "Import a repository key from a file, switching the repository to repokey mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read key file: %w", err)
			}

			km, err := crypto.UnwrapRepokey(string(data), passphrase(cmd))
			if err != nil {
				return fmt.Errorf("unwrap key: %w", err)
			}

			cfg, err := repoconfig.Load(loc.Repo)
			if err != nil {
				return fmt.Errorf("load repository config: %w", err)
			}
			if cfg.ID != km.RepositoryID {
				return fmt.Errorf("key is for repository %s, not %s", crypto.FormatRepositoryID(km.RepositoryID), crypto.FormatRepositoryID(cfg.ID))
			}
			cfg.KeyLocation = "repokey"
			cfg.RepokeyBlob = string(data)
			if err := repoconfig.Save(loc.Repo, cfg); err != nil {
				return fmt.Errorf("save repository config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "key imported; repository now uses repokey mode")
			return nil
		},
	}
	return cmd
}

func newKeyChangePassphraseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change-passphrase REPO",
		Short: "Re-wrap the repository key under a new passphrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			newPassphrase, _ := cmd.Flags().GetString("new-passphrase")
			if newPassphrase == "" {
				return fmt.Errorf("--new-passphrase is required")
			}

			rc, err := openRepoContext(cmd, loc.Repo)
			if err != nil {
				return err
			}
			defer rc.Close()

			switch rc.Config.KeyLocation {
			case "repokey":
				blob, err := crypto.WrapRepokey(rc.KM, newPassphrase)
				if err != nil {
					return fmt.Errorf("wrap key: %w", err)
				}
				rc.Config.RepokeyBlob = blob
				if err := repoconfig.Save(loc.Repo, rc.Config); err != nil {
					return fmt.Errorf("save repository config: %w", err)
				}
			default:
				hd, err := resolveHomeDir(cmd)
				if err != nil {
					return err
				}
				if _, err := crypto.WriteKeyfile(hd.KeysDir(), rc.KM, newPassphrase); err != nil {
					return fmt.Errorf("write keyfile: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "passphrase changed")
			return nil
		},
	}
	cmd.Flags().String("new-passphrase", "", "new passphrase to wrap the key under")
	return cmd
}

func newKeyChangeLocationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change-location REPO keyfile|repokey",
		Short: "Move the repository key between keyfile and repokey storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			target := args[1]
			if target != "keyfile" && target != "repokey" {
				return fmt.Errorf("target must be %q or %q, got %q", "keyfile", "repokey", target)
			}

			rc, err := openRepoContext(cmd, loc.Repo)
			if err != nil {
				return err
			}
			defer rc.Close()

			if rc.Config.KeyLocation == target {
				fmt.Fprintf(cmd.OutOrStdout(), "key is already stored as %s\n", target)
				return nil
			}

			hd, err := resolveHomeDir(cmd)
			if err != nil {
				return err
			}
			pass := passphrase(cmd)

			switch target {
			case "repokey":
				blob, err := crypto.WrapRepokey(rc.KM, pass)
				if err != nil {
					return fmt.Errorf("wrap key: %w", err)
				}
				rc.Config.KeyLocation = "repokey"
				rc.Config.RepokeyBlob = blob
				if err := repoconfig.Save(loc.Repo, rc.Config); err != nil {
					return fmt.Errorf("save repository config: %w", err)
				}
				if path, ok := crypto.FindKeyfile(hd.KeysDir(), rc.KM.RepositoryID); ok {
					if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
						return fmt.Errorf("remove old keyfile: %w", err)
					}
				}
			case "keyfile":
				if _, err := crypto.WriteKeyfile(hd.KeysDir(), rc.KM, pass); err != nil {
					return fmt.Errorf("write keyfile: %w", err)
				}
				rc.Config.KeyLocation = "keyfile"
				rc.Config.RepokeyBlob = ""
				if err := repoconfig.Save(loc.Repo, rc.Config); err != nil {
					return fmt.Errorf("save repository config: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key now stored as %s\n", target)
			return nil
		},
	}
	return cmd
}
