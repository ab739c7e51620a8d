package cli

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snapvault/internal/archive"
)

func newExtractCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract REPO::ARCHIVE [PATH...]",
		Short: "Restore files from an archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			if err := requireArchive(loc); err != nil {
				return err
			}
			dest, _ := cmd.Flags().GetString("dest")
			statusList, _ := cmd.Flags().GetBool("list")
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

			cancel := installSignalFlag()
			bySource := make(map[string]string)
			errCount := 0
			itemCount := 0
			for {
				if cancel() {
					break
				}
				item, err := reader.Next()
				if err != nil {
					break
				}
				if paths := args[1:]; len(paths) > 0 {
					selected := false
					for _, p := range paths {
						if item.Path == p || strings.HasPrefix(item.Path, strings.TrimSuffix(p, "/")+"/") {
							selected = true
							break
						}
					}
					if !selected {
						continue
					}
				}
				target := filepath.Join(dest, item.Path)
				if err := extractOne(rc, item, target, bySource, dryRun); err != nil {
					logger.Warn("extract item failed", "path", item.Path, "error", err)
					errCount++
					if statusList {
						fmt.Printf("E %s\n", item.Path)
					}
					continue
				}
				itemCount++
				if statusList {
					fmt.Printf("%c %s\n", extractStatusChar(item), item.Path)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "extracted %d items (%d errors)\n", itemCount, errCount)
			if errCount > 0 {
				return ErrWarning
			}
			return nil
		},
	}
	cmd.Flags().String("dest", ".", "destination directory")
	cmd.Flags().Bool("list", false, "print one status line per item")
	cmd.Flags().Bool("dry-run", false, "list what would be extracted without writing anything")
	return cmd
}

func extractStatusChar(item *archive.Item) byte {
	switch {
	case item.Source != "":
		return 'h'
	case item.LinkTarget != "":
		return 's'
	case item.Mode&uint32(fs.ModeDir) != 0:
		return 'd'
	default:
		return 'x'
	}
}

func extractOne(rc *RepoContext, item *archive.Item, target string, bySource map[string]string, dryRun bool) error {
	if dryRun {
		return nil
	}
	mode := fs.FileMode(item.Mode)

	switch {
	case item.Source != "":
		original, ok := bySource[item.Source]
		if !ok {
			return fmt.Errorf("hardlink source %q not yet extracted", item.Source)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.Link(original, target)

	case mode&fs.ModeSymlink != 0:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		_ = os.Remove(target)
		return os.Symlink(item.LinkTarget, target)

	case mode.IsDir():
		if err := os.MkdirAll(target, mode.Perm()); err != nil {
			return err
		}

	default:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
		if err != nil {
			return err
		}
		defer f.Close()
		for _, c := range item.Chunks {
			data, err := rc.Repo.GetChunk(c.ID)
			if err != nil {
				return fmt.Errorf("fetch chunk %x: %w", c.ID, err)
			}
			if _, err := f.Write(data); err != nil {
				return err
			}
		}
	}

	bySource[item.Path] = target
	if item.MTime != 0 {
		mtime := time.Unix(0, item.MTime)
		_ = os.Chtimes(target, mtime, mtime)
	}
	if os.Geteuid() == 0 {
		_ = os.Chown(target, item.UID, item.GID)
	}
	return nil
}
