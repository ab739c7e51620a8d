package cli

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"snapvault/internal/archive"
	"snapvault/internal/chunker"
)

func newExportTarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-tar REPO::ARCHIVE FILE.tar",
		Short: "Export an archive as a tar file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			if err := requireArchive(loc); err != nil {
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

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer out.Close()
			tw := tar.NewWriter(out)
			defer tw.Close()

			for {
				item, err := reader.Next()
				if err != nil {
					break
				}
				if err := writeTarEntry(tw, rc, item); err != nil {
					return fmt.Errorf("write %s: %w", item.Path, err)
				}
			}
			return tw.Close()
		},
	}
	return cmd
}

func writeTarEntry(tw *tar.Writer, rc *RepoContext, item *archive.Item) error {
	mode := fs.FileMode(item.Mode)
	var size int64
	for _, c := range item.Chunks {
		size += int64(c.PlainSize)
	}

	hdr := &tar.Header{
		Name:     item.Path,
		Mode:     int64(mode.Perm()),
		Uid:      item.UID,
		Gid:      item.GID,
		Uname:    item.User,
		Gname:    item.Group,
		ModTime:  time.Unix(0, item.MTime),
		Size:     size,
		Typeflag: tar.TypeReg,
	}
	switch {
	case item.LinkTarget != "":
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = item.LinkTarget
		hdr.Size = 0
	case item.Source != "":
		hdr.Typeflag = tar.TypeLink
		hdr.Linkname = item.Source
		hdr.Size = 0
	case mode.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Size = 0
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if hdr.Typeflag != tar.TypeReg {
		return nil
	}
	for _, c := range item.Chunks {
		data, err := rc.Repo.GetChunk(c.ID)
		if err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func newImportTarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-tar REPO::ARCHIVE FILE.tar",
		Short: "Import a tar file as a new archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			if err := requireArchive(loc); err != nil {
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
			if _, exists := manifest.Archives[loc.Archive]; exists {
				return fmt.Errorf("an archive named %q already exists", loc.Archive)
			}

			in, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer in.Close()
			tr := tar.NewReader(in)

			params := chunker.DefaultParams(rc.KM.ChunkSeed)
			writer := archive.NewItemWriter(rc.Repo)
			start := time.Now()

			for {
				hdr, err := tr.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return fmt.Errorf("read tar: %w", err)
				}
				item, err := importTarEntry(rc, tr, hdr, params)
				if err != nil {
					return fmt.Errorf("import %s: %w", hdr.Name, err)
				}
				if err := writer.Add(item); err != nil {
					return fmt.Errorf("write item record for %s: %w", hdr.Name, err)
				}
			}
			end := time.Now()

			itemIDs, err := writer.Close()
			if err != nil {
				return fmt.Errorf("flush item stream: %w", err)
			}
			meta := &archive.Metadata{
				Name:          loc.Archive,
				Start:         start.UTC(),
				End:           end.UTC(),
				ChunkerParams: fmt.Sprintf("buzhash,%d,%d,%d,%d", params.MinExp, params.MaxExp, params.MaskBits, params.Seed),
				Cmdline:       os.Args,
				Items:         itemIDs,
			}
			data, err := meta.Marshal()
			if err != nil {
				return fmt.Errorf("marshal archive metadata: %w", err)
			}
			archiveID, err := rc.Repo.PutChunk(data)
			if err != nil {
				return fmt.Errorf("store archive metadata: %w", err)
			}
			manifest.Archives[loc.Archive] = archive.ArchiveRef{ID: archiveID, Timestamp: end}
			if err := rc.Repo.PutManifest(manifest); err != nil {
				return fmt.Errorf("update manifest: %w", err)
			}
			return rc.Repo.Commit(false, 0)
		},
	}
	return cmd
}

func importTarEntry(rc *RepoContext, tr *tar.Reader, hdr *tar.Header, params chunker.Params) (*archive.Item, error) {
	item := &archive.Item{
		Path:  filepath.Clean(hdr.Name),
		Mode:  uint32(hdr.FileInfo().Mode()),
		UID:   hdr.Uid,
		GID:   hdr.Gid,
		User:  hdr.Uname,
		Group: hdr.Gname,
		MTime: hdr.ModTime.UnixNano(),
	}
	switch hdr.Typeflag {
	case tar.TypeSymlink:
		item.LinkTarget = hdr.Linkname
		return item, nil
	case tar.TypeLink:
		item.Source = hdr.Linkname
		return item, nil
	case tar.TypeDir:
		return item, nil
	}

	ck := chunker.NewBuzhash(tr, params)
	for {
		buf, err := ck.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		id, err := rc.Repo.ComputeID(buf)
		if err != nil {
			return nil, err
		}
		if _, err := rc.Repo.Get(id); err != nil {
			if err := rc.Repo.Put(id, buf); err != nil {
				return nil, fmt.Errorf("store chunk: %w", err)
			}
		}
		size := uint32(len(buf))
		item.Chunks = append(item.Chunks, archive.ChunkEntry{ID: id, PlainSize: size, CompressedSize: size})
	}
	return item, nil
}
