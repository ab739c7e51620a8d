package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"snapvault/internal/segment"
)

func newDeleteCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete REPO[::ARCHIVE]",
		Short: "Delete an archive, or an entire repository with --force",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}

			if loc.Archive == "" {
				force, _ := cmd.Flags().GetBool("force")
				return deleteRepository(cmd, loc.Repo, force)
			}

			rc, err := openRepoContext(cmd, loc.Repo)
			if err != nil {
				return err
			}
			defer rc.Close()

			manifest, err := rc.Repo.GetManifest()
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}
			if _, ok := manifest.Archives[loc.Archive]; !ok {
				return fmt.Errorf("archive %q not found", loc.Archive)
			}

			knownArchives := make(map[string]segment.ObjectID, len(manifest.Archives))
			for name, ref := range manifest.Archives {
				knownArchives[name] = ref.ID
			}

			delete(manifest.Archives, loc.Archive)
			if err := rc.Repo.PutManifest(manifest); err != nil {
				return fmt.Errorf("update manifest: %w", err)
			}
			if err := rc.Repo.Commit(false, 0); err != nil {
				return fmt.Errorf("commit: %w", err)
			}

			if rc.Cache != nil {
				if err := reclaimChunks(rc, knownArchives, logger); err != nil {
					logger.Warn("cache reclaim after delete failed", "archive", loc.Archive, "error", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "required to delete an entire repository (bare REPO locator, no ::ARCHIVE)")
	return cmd
}

// deleteRepository removes every segment, index/hints/integrity
// side-car file, and the config/README files, making repo irrecoverable.
func deleteRepository(cmd *cobra.Command, repo string, force bool) error {
	if !force {
		return fmt.Errorf("refusing to delete the entire repository %q without --force", repo)
	}
	rc, err := openRepoContext(cmd, repo)
	if err != nil {
		return err
	}
	if err := rc.Repo.Destroy(repo); err != nil {
		rc.Close()
		return fmt.Errorf("destroy repository: %w", err)
	}
	return rc.Close()
}

// reclaimChunks re-syncs the cache against the post-delete manifest and
// removes any chunk whose refcount just reached zero, matching the
// dedup model's client-driven garbage collection.
func reclaimChunks(rc *RepoContext, knownArchives map[string]segment.ObjectID, logger *slog.Logger) error {
	result, err := rc.Cache.Sync(rc.Repo, knownArchives)
	if err != nil {
		return err
	}
	if len(result.ChunksQueuedForDelete) == 0 {
		return nil
	}
	for _, id := range result.ChunksQueuedForDelete {
		if err := rc.Repo.Delete(id); err != nil {
			logger.Warn("delete reclaimed chunk failed", "id", fmt.Sprintf("%x", id), "error", err)
		}
	}
	return rc.Repo.Commit(false, 0)
}
