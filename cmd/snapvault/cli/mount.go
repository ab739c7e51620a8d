package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newMountCmd and newUmountCmd register the subcommand surface for
// FUSE-mounting a repository or archive. The mount filesystem itself is
// an external collaborator consumed through this package's Repository
// and archive.ChunkGetter interfaces, not implemented here; this
// command validates its arguments and the repository open path, then
// reports that no FUSE driver is linked into this build.
func newMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount REPO[::ARCHIVE] MOUNTPOINT",
		Short: "Mount a repository or archive as a FUSE filesystem",
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

			if loc.Archive != "" {
				manifest, err := rc.Repo.GetManifest()
				if err != nil {
					return fmt.Errorf("load manifest: %w", err)
				}
				if _, ok := manifest.Archives[loc.Archive]; !ok {
					return fmt.Errorf("archive %q not found", loc.Archive)
				}
			}

			return fmt.Errorf("mount: no FUSE driver is linked into this build; built for mountpoint %s", args[1])
		},
	}
	return cmd
}

func newUmountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "umount MOUNTPOINT",
		Short: "Unmount a previously mounted repository or archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("umount: no FUSE driver is linked into this build; nothing mounted by this process at %s", args[0])
		},
	}
}
