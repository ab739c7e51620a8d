package cli

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"snapvault/internal/archive"
	"snapvault/internal/cache"
	"snapvault/internal/chunker"
	"snapvault/internal/pattern"
	"snapvault/internal/segment"
)

func newCreateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create REPO::ARCHIVE PATH...",
		Short: "Create a new archive",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseLocator(args[0])
			if err != nil {
				return err
			}
			if err := requireArchive(loc); err != nil {
				return err
			}
			loc.Archive, err = expandArchiveName(cmd, loc.Archive)
			if err != nil {
				return err
			}
			roots := args[1:]

			excludes, _ := cmd.Flags().GetStringArray("exclude")
			comment, _ := cmd.Flags().GetString("comment")
			checkpointSecs, _ := cmd.Flags().GetInt64("checkpoint-interval")
			statusList, _ := cmd.Flags().GetBool("list")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			rules, err := pattern.NewRuleSet(excludes)
			if err != nil {
				return fmt.Errorf("compile exclude patterns: %w", err)
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

			if rc.Cache != nil {
				if err := syncCache(rc, manifest); err != nil {
					logger.Warn("cache sync failed, continuing without dedup stats", "error", err)
				}
			}

			params := chunker.DefaultParams(rc.KM.ChunkSeed)
			writer := archive.NewItemWriter(rc.Repo)

			b := &backupRun{
				rc:        rc,
				rules:     rules,
				params:    params,
				writer:    writer,
				dryRun:    dryRun,
				printLog:  statusList,
				cancelled: installSignalFlag(),
			}
			if checkpointSecs > 0 {
				b.checkpointEvery = time.Duration(checkpointSecs) * time.Second
			}

			start := time.Now()
			for _, root := range roots {
				if err := b.walk(root); err != nil {
					return err
				}
				if b.cancelled() {
					break
				}
			}
			end := time.Now()

			itemIDs, err := writer.Close()
			if err != nil {
				return fmt.Errorf("flush item stream: %w", err)
			}

			meta := &archive.Metadata{
				Name:          loc.Archive,
				Comment:       comment,
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

			name := loc.Archive
			if b.cancelled() {
				name = loc.Archive + ".checkpoint"
			}
			manifest.Archives[name] = archive.ArchiveRef{ID: archiveID, Timestamp: end}
			if err := rc.Repo.PutManifest(manifest); err != nil {
				return fmt.Errorf("update manifest: %w", err)
			}
			if err := rc.Repo.Commit(false, 0); err != nil {
				return fmt.Errorf("commit: %w", err)
			}

			if b.cancelled() {
				fmt.Fprintf(cmd.OutOrStdout(), "interrupted: saved checkpoint archive %q\n", name)
				return ErrWarning
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created archive %q (%d items, %d errors)\n", name, b.itemCount, b.errorCount)
			if b.errorCount > 0 {
				return ErrWarning
			}
			return nil
		},
	}
	cmd.Flags().StringArray("exclude", nil, "exclude pattern (repeatable); prefix with - or ! to exclude, --no-recurse: to exclude-norecurse")
	cmd.Flags().String("comment", "", "archive comment")
	cmd.Flags().Int64("checkpoint-interval", 1800, "checkpoint interval in seconds; no periodic checkpoint is written, a .checkpoint archive is saved only when the run is interrupted")
	cmd.Flags().Bool("list", false, "print one status line per item")
	cmd.Flags().Bool("dry-run", false, "do not change the repository")
	return cmd
}

// ErrWarning marks a run that finished but hit a recoverable per-file
// error or a SIGINT checkpoint save: main.go maps it to a distinct,
// non-zero exit code rather than a hard failure.
var ErrWarning = fmt.Errorf("completed with warnings")

// backupRun carries the state threaded through one create invocation's
// filesystem walk.
type backupRun struct {
	rc     *RepoContext
	rules  *pattern.RuleSet
	params chunker.Params
	writer *archive.ItemWriter

	dryRun   bool
	printLog bool

	checkpointEvery time.Duration

	itemCount  int
	errorCount int
	cancelled  func() bool

	seenInodes map[uint64]string
}

func (b *backupRun) walk(root string) error {
	if b.seenInodes == nil {
		b.seenInodes = make(map[uint64]string)
	}
	return filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if b.cancelled() {
			return filepath.SkipDir
		}
		if err != nil {
			b.errorCount++
			b.status('E', path)
			return nil
		}
		switch b.rules.Evaluate(path) {
		case pattern.ActionExclude, pattern.ActionExcludeNoRecurse:
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		item, err := b.backupOne(path, info)
		if err != nil {
			b.errorCount++
			b.status('E', path)
			return nil
		}
		if item == nil {
			return nil
		}
		if !b.dryRun {
			if err := b.writer.Add(item); err != nil {
				return fmt.Errorf("write item record for %s: %w", path, err)
			}
		}
		b.itemCount++
		b.status(statusChar(item, info), path)
		return nil
	})
}

func (b *backupRun) status(code byte, path string) {
	if b.printLog {
		fmt.Printf("%c %s\n", code, path)
	}
}

func statusChar(item *archive.Item, info fs.FileInfo) byte {
	switch {
	case item.Source != "":
		return 'h'
	case info.Mode()&fs.ModeSymlink != 0:
		return 's'
	case info.IsDir():
		return 'd'
	case info.Mode().IsRegular():
		return 'A'
	default:
		return 'b'
	}
}

func (b *backupRun) backupOne(path string, info fs.FileInfo) (*archive.Item, error) {
	st, _ := info.Sys().(*syscall.Stat_t)

	item := &archive.Item{
		Path:  path,
		Mode:  uint32(info.Mode()),
		MTime: info.ModTime().UnixNano(),
	}
	var inode uint64
	if st != nil {
		item.UID = int(st.Uid)
		item.GID = int(st.Gid)
		item.CTime = st.Ctim.Sec*1e9 + st.Ctim.Nsec
		item.ATime = st.Atim.Sec*1e9 + st.Atim.Nsec
		inode = st.Ino

		if st.Nlink > 1 && !info.IsDir() {
			if first, seen := b.seenInodes[inode]; seen {
				item.Source = first
				return item, nil
			}
			b.seenInodes[inode] = path
		}
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return nil, err
		}
		item.LinkTarget = target
		return item, nil
	case info.IsDir(), !info.Mode().IsRegular():
		return item, nil
	}

	if b.dryRun {
		return item, nil
	}

	sig := cache.FileSignature{Inode: inode, Size: info.Size(), Ctime: item.CTime, Mtime: item.MTime}
	if b.rc.Cache != nil {
		if cached, err := b.rc.Cache.GetFile(path); err == nil && cache.DefaultFilesMode().Matches(cached.Signature, sig) {
			for _, id := range cached.ChunkIDs {
				entry, gerr := b.rc.Cache.GetChunk(id)
				if gerr != nil {
					continue
				}
				item.Chunks = append(item.Chunks, archive.ChunkEntry{ID: id, PlainSize: entry.PlainSize, CompressedSize: entry.CompressedSize})
			}
			return item, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	chunks, err := b.chunkFile(f)
	if err != nil {
		return nil, err
	}
	item.Chunks = chunks

	if b.rc.Cache != nil {
		ids := make([]segment.ObjectID, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		_ = b.rc.Cache.PutFile(path, cache.FileEntry{Signature: sig, ChunkIDs: ids})
	}
	return item, nil
}

func (b *backupRun) chunkFile(f *os.File) ([]archive.ChunkEntry, error) {
	ck := chunker.NewBuzhash(f, b.params)
	var entries []archive.ChunkEntry
	for {
		buf, err := ck.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		id, err := b.rc.Repo.ComputeID(buf)
		if err != nil {
			return nil, err
		}

		if b.rc.Cache != nil {
			if existing, err := b.rc.Cache.GetChunk(id); err == nil {
				_ = b.rc.Cache.IncRefChunk(id, existing.PlainSize, existing.CompressedSize)
				entries = append(entries, archive.ChunkEntry{ID: id, PlainSize: existing.PlainSize, CompressedSize: existing.CompressedSize})
				continue
			}
		}

		if err := b.rc.Repo.Put(id, buf); err != nil {
			return nil, fmt.Errorf("store chunk: %w", err)
		}
		plainSize := uint32(len(buf))
		if b.rc.Cache != nil {
			_ = b.rc.Cache.IncRefChunk(id, plainSize, plainSize)
		}
		entries = append(entries, archive.ChunkEntry{ID: id, PlainSize: plainSize, CompressedSize: plainSize})
	}
	return entries, nil
}

// syncCache brings the local chunks/files cache up to date with the
// repository's current manifest before a new backup runs, per
// the cache's sync protocol.
func syncCache(rc *RepoContext, manifest *archive.Manifest) error {
	known := make(map[string]segment.ObjectID, len(manifest.Archives))
	for name, ref := range manifest.Archives {
		known[name] = ref.ID
	}
	_, err := rc.Cache.Sync(rc.Repo, known)
	return err
}

// installSignalFlag installs a cooperative cancellation flag set on
// SIGINT/SIGTERM: a flag is set and checked between items; in-flight
// chunk commits complete, then the writer exits leaving either a
// checkpoint archive or a no-op.
func installSignalFlag() func() bool {
	var flag atomic.Bool
	go watchSignals(&flag)
	return flag.Load
}
