package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"snapvault/internal/archive"
	"snapvault/internal/crypto"
)

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info REPO[::ARCHIVE]",
		Short: "Show repository or archive information",
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
				return repoInfo(p, rc, manifest)
			}
			return archiveInfo(p, rc, manifest, loc.Archive)
		},
	}
	return cmd
}

func repoInfo(p *printer, rc *RepoContext, manifest *archive.Manifest) error {
	segs, err := rc.Repo.Store().List()
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	pairs := [][2]string{
		{"Repository ID", crypto.FormatRepositoryID(manifest.RepositoryID)},
		{"Archives", fmt.Sprintf("%d", len(manifest.Archives))},
		{"Unique chunks", fmt.Sprintf("%d", rc.Repo.Len())},
		{"Segments", fmt.Sprintf("%d", len(segs))},
		{"TAM required", fmt.Sprintf("%v", manifest.TAMRequired)},
	}
	if p.format == "json" {
		return p.json(map[string]string{
			"repository_id":  pairs[0][1],
			"archives":       pairs[1][1],
			"unique_chunks":  pairs[2][1],
			"segments":       pairs[3][1],
			"tam_required":   pairs[4][1],
		})
	}
	p.kv(pairs)
	return nil
}

func archiveInfo(p *printer, rc *RepoContext, manifest *archive.Manifest, name string) error {
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
	var items, chunks int
	var plainSize, compressedSize int64
	for {
		item, err := reader.Next()
		if err != nil {
			break
		}
		items++
		for _, c := range item.Chunks {
			chunks++
			plainSize += int64(c.PlainSize)
			compressedSize += int64(c.CompressedSize)
		}
	}

	pairs := [][2]string{
		{"Name", name},
		{"Comment", meta.Comment},
		{"Start", meta.Start.UTC().Format("2006-01-02T15:04:05")},
		{"End", meta.End.UTC().Format("2006-01-02T15:04:05")},
		{"Chunker params", meta.ChunkerParams},
		{"Items", fmt.Sprintf("%d", items)},
		{"Chunk refs", fmt.Sprintf("%d", chunks)},
		{"Original size", fmt.Sprintf("%d", plainSize)},
		{"Compressed size", fmt.Sprintf("%d", compressedSize)},
	}
	if p.format == "json" {
		return p.json(map[string]any{
			"name":             name,
			"comment":          meta.Comment,
			"start":            meta.Start,
			"end":              meta.End,
			"chunker_params":   meta.ChunkerParams,
			"items":            items,
			"chunk_refs":       chunks,
			"original_size":    plainSize,
			"compressed_size":  compressedSize,
		})
	}
	p.kv(pairs)
	return nil
}
