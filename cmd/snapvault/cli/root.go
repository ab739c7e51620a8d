package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// NewRootCommand returns the "snapvault" root command with the full
// full subcommand surface wired in.
func NewRootCommand(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "snapvault",
		Short: "Deduplicating, encrypted, compressed backup tool",
	}

	root.PersistentFlags().String("repo", "", "repository path or storage:// URL (or "+envRepo+")")
	root.PersistentFlags().String("home", "", "client state directory (default: platform config dir)")
	root.PersistentFlags().String("passphrase", "", "repository passphrase (or "+envPassphrase+")")
	root.PersistentFlags().String("encryption-scheme", "ctrhmac", "encryption scheme for new repositories: none, ctrhmac, chacha20poly1305, blake2b")
	root.PersistentFlags().Int64("lock-wait", 10, "seconds to wait for the repository lock")
	root.PersistentFlags().Bool("no-cache", false, "disable the local chunks/files cache")
	root.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	root.AddCommand(
		newInitCmd(logger),
		newCreateCmd(logger),
		newExtractCmd(logger),
		newListCmd(),
		newInfoCmd(),
		newDiffCmd(),
		newRenameCmd(),
		newDeleteCmd(logger),
		newPruneCmd(logger),
		newCompactCmd(),
		newCheckCmd(),
		newRecreateCmd(logger),
		newMountCmd(),
		newUmountCmd(),
		newExportTarCmd(),
		newImportTarCmd(),
		newKeyCmd(),
		newConfigCmd(),
		newWithLockCmd(),
		newServeCmd(logger),
	)

	return root
}
