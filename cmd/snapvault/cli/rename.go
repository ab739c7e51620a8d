package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRenameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename REPO::ARCHIVE NEWNAME",
		Short: "Rename an archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			if err := requireArchive(loc); err != nil {
				return err
			}
			newName := args[1]

			rc, err := openRepoContext(cmd, loc.Repo)
			if err != nil {
				return err
			}
			defer rc.Close()

			manifest, err := rc.Repo.GetManifest()
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}
			ref, ok := manifest.Archives[loc.Archive]
			if !ok {
				return fmt.Errorf("archive %q not found", loc.Archive)
			}
			if _, exists := manifest.Archives[newName]; exists {
				return fmt.Errorf("an archive named %q already exists", newName)
			}
			delete(manifest.Archives, loc.Archive)
			manifest.Archives[newName] = ref

			if err := rc.Repo.PutManifest(manifest); err != nil {
				return fmt.Errorf("update manifest: %w", err)
			}
			return rc.Repo.Commit(false, 0)
		},
	}
	return cmd
}
