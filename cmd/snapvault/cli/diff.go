package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"snapvault/internal/archive"
)

func newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff REPO::ARCHIVE1 ARCHIVE2",
		Short: "Show differences between two archives in the same repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			if err := requireArchive(loc); err != nil {
				return err
			}
			other := args[1]

			rc, err := openRepoContext(cmd, loc.Repo)
			if err != nil {
				return err
			}
			defer rc.Close()

			manifest, err := rc.Repo.GetManifest()
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}

			left, err := readItems(rc, manifest, loc.Archive)
			if err != nil {
				return err
			}
			right, err := readItems(rc, manifest, other)
			if err != nil {
				return err
			}

			p := newPrinter(outputFormat(cmd))
			type diffRow struct {
				Path   string `json:"path"`
				Change string `json:"change"`
			}
			var rows []diffRow
			for path, l := range left {
				r, ok := right[path]
				if !ok {
					rows = append(rows, diffRow{Path: path, Change: "removed"})
					continue
				}
				if !sameContent(l, r) {
					rows = append(rows, diffRow{Path: path, Change: "modified"})
				}
			}
			for path := range right {
				if _, ok := left[path]; !ok {
					rows = append(rows, diffRow{Path: path, Change: "added"})
				}
			}

			if p.format == "json" {
				return p.json(rows)
			}
			table := make([][]string, len(rows))
			for i, row := range rows {
				table[i] = []string{row.Change, row.Path}
			}
			p.table([]string{"CHANGE", "PATH"}, table)
			return nil
		},
	}
	return cmd
}

func readItems(rc *RepoContext, manifest *archive.Manifest, name string) (map[string]*archive.Item, error) {
	ref, ok := manifest.Archives[name]
	if !ok {
		return nil, fmt.Errorf("archive %q not found", name)
	}
	metaBytes, err := rc.Repo.GetChunk(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch archive metadata: %w", err)
	}
	var meta archive.Metadata
	if err := meta.Unmarshal(metaBytes); err != nil {
		return nil, fmt.Errorf("decode archive metadata: %w", err)
	}
	reader, err := archive.NewItemReader(rc.Repo, meta.Items)
	if err != nil {
		return nil, fmt.Errorf("open item stream: %w", err)
	}
	items := make(map[string]*archive.Item)
	for {
		item, err := reader.Next()
		if err != nil {
			break
		}
		items[item.Path] = item
	}
	return items, nil
}

func sameContent(a, b *archive.Item) bool {
	if a.Mode != b.Mode || len(a.Chunks) != len(b.Chunks) {
		return false
	}
	for i := range a.Chunks {
		if a.Chunks[i].ID != b.Chunks[i].ID {
			return false
		}
	}
	return true
}
