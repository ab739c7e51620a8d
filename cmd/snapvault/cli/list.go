package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"snapvault/internal/archive"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list REPO[::ARCHIVE]",
		Short: "List archives in a repository, or items within an archive",
		Args:  cobra.ExactArgs(1),
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

			manifest, err := rc.Repo.GetManifest()
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}

			p := newPrinter(outputFormat(cmd))
			if loc.Archive == "" {
				return listArchives(p, manifest)
			}
			return listItems(p, rc, manifest, loc.Archive)
		},
	}
	return cmd
}

func listArchives(p *printer, manifest *archive.Manifest) error {
	type row struct {
		Name      string
		ID        string
		Timestamp string
	}
	rows := make([]row, 0, len(manifest.Archives))
	for name, ref := range manifest.Archives {
		rows = append(rows, row{Name: name, ID: fmt.Sprintf("%x", ref.ID), Timestamp: ref.Timestamp.UTC().Format("2006-01-02T15:04:05")})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	if p.format == "json" {
		return p.json(rows)
	}
	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{r.Name, r.Timestamp, r.ID}
	}
	p.table([]string{"ARCHIVE", "TIME", "ID"}, table)
	return nil
}

func listItems(p *printer, rc *RepoContext, manifest *archive.Manifest, name string) error {
	ref, ok := manifest.Archives[name]
	if !ok {
		return fmt.Errorf("archive %q not found", name)
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

	if p.format == "json" {
		var items []*archive.Item
		for {
			item, err := reader.Next()
			if err != nil {
				break
			}
			items = append(items, item)
		}
		return p.json(items)
	}

	var rows [][]string
	for {
		item, err := reader.Next()
		if err != nil {
			break
		}
		var size int64
		for _, c := range item.Chunks {
			size += int64(c.PlainSize)
		}
		rows = append(rows, []string{fmt.Sprintf("%#o", item.Mode), item.User, item.Group, fmt.Sprintf("%d", size), item.Path})
	}
	p.table([]string{"MODE", "USER", "GROUP", "SIZE", "PATH"}, rows)
	return nil
}
