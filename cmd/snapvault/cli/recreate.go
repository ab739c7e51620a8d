package cli

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"snapvault/internal/archive"
	"snapvault/internal/chunker"
)

// newRecreateCmd rebuilds an archive's chunk stream under the
// repository's current chunker parameters and compression settings,
// without needing the original source files: it re-chunks the
// concatenated bytes already stored for the archive, replacing each
// item's chunk list in place.
func newRecreateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recreate REPO::ARCHIVE",
		Short: "Re-chunk and recompress an existing archive under the current repository settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			if err := requireArchive(loc); err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")

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
			metaBytes, err := rc.Repo.GetChunk(ref.ID)
			if err != nil {
				return fmt.Errorf("fetch archive metadata: %w", err)
			}
			var meta archive.Metadata
			if err := meta.Unmarshal(metaBytes); err != nil {
				return fmt.Errorf("decode archive metadata: %w", err)
			}

			reader, err := archive.NewItemReader(rc.Repo, meta.Items)
			if err != nil {
				return fmt.Errorf("open item stream: %w", err)
			}

			params := chunker.DefaultParams(rc.KM.ChunkSeed)
			writer := archive.NewItemWriter(rc.Repo)

			for {
				item, err := reader.Next()
				if err != nil {
					break
				}
				if len(item.Chunks) > 0 {
					rebuilt, err := recreateChunks(rc, item, params, dryRun)
					if err != nil {
						return fmt.Errorf("recreate %s: %w", item.Path, err)
					}
					item.Chunks = rebuilt
				}
				if !dryRun {
					if err := writer.Add(item); err != nil {
						return fmt.Errorf("write item record for %s: %w", item.Path, err)
					}
				}
			}

			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "dry run: no changes written")
				return nil
			}

			itemIDs, err := writer.Close()
			if err != nil {
				return fmt.Errorf("flush item stream: %w", err)
			}
			meta.Items = itemIDs
			meta.ChunkerParams = fmt.Sprintf("buzhash,%d,%d,%d,%d", params.MinExp, params.MaxExp, params.MaskBits, params.Seed)

			data, err := meta.Marshal()
			if err != nil {
				return fmt.Errorf("marshal archive metadata: %w", err)
			}
			archiveID, err := rc.Repo.PutChunk(data)
			if err != nil {
				return fmt.Errorf("store archive metadata: %w", err)
			}
			manifest.Archives[loc.Archive] = archive.ArchiveRef{ID: archiveID, Timestamp: ref.Timestamp}
			if err := rc.Repo.PutManifest(manifest); err != nil {
				return fmt.Errorf("update manifest: %w", err)
			}
			if err := rc.Repo.Commit(false, 0); err != nil {
				return fmt.Errorf("commit: %w", err)
			}
			logger.Info("recreated archive", "archive", loc.Archive)
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "show what would change without writing anything")
	return cmd
}

func recreateChunks(rc *RepoContext, item *archive.Item, params chunker.Params, dryRun bool) ([]archive.ChunkEntry, error) {
	var buf bytes.Buffer
	for _, c := range item.Chunks {
		data, err := rc.Repo.GetChunk(c.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch chunk %x: %w", c.ID, err)
		}
		buf.Write(data)
	}
	if dryRun {
		return item.Chunks, nil
	}

	ck := chunker.NewBuzhash(bytes.NewReader(buf.Bytes()), params)
	var entries []archive.ChunkEntry
	for {
		data, err := ck.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		id, err := rc.Repo.ComputeID(data)
		if err != nil {
			return nil, err
		}
		if _, err := rc.Repo.Get(id); err != nil {
			if err := rc.Repo.Put(id, data); err != nil {
				return nil, fmt.Errorf("store chunk: %w", err)
			}
		}
		size := uint32(len(data))
		entries = append(entries, archive.ChunkEntry{ID: id, PlainSize: size, CompressedSize: size})
	}
	return entries, nil
}
