package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"snapvault/internal/logging"
)

// ErrLockTimeout is returned by Lock when the waiter's MaxWait elapses
// without acquiring the lock.
var ErrLockTimeout = errors.New("segment: lock timeout")

const (
	exclusiveLockName = "lock.exclusive"
	sharedLockDir     = "lock.shared"
	defaultSegsPerDir = 1000
)

// LocalConfig configures a LocalStore.
type LocalConfig struct {
	Dir string
	// SegmentsPerDir bounds the fanout of the data/ directory. Segment N is
	// stored at data/<N/SegmentsPerDir>/<N>. Zero selects a sane default.
	SegmentsPerDir uint64
	FileMode       os.FileMode
	Logger         *slog.Logger
}

// LocalStore is the default SegmentStore, backed by the local filesystem
// with advisory flock-based locking, following the same pattern as the
// teacher's chunk/file manager: an exclusive flock on a sentinel file
// guards writers, and readers use a shared flock so many readers coexist
// with at most one writer.
type LocalStore struct {
	cfg    LocalConfig
	logger *slog.Logger

	mu       sync.Mutex
	lockFile *os.File
}

// NewLocalStore creates (if needed) the repository's data directory and
// returns a LocalStore rooted at cfg.Dir. It does not itself acquire any
// lock; call Lock before performing writes.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("segment: LocalConfig.Dir is required")
	}
	if cfg.SegmentsPerDir == 0 {
		cfg.SegmentsPerDir = defaultSegsPerDir
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "data"), 0o750); err != nil {
		return nil, err
	}
	return &LocalStore{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "segment-store", "type", "local"),
	}, nil
}

func (s *LocalStore) segmentDir(n SegmentID) string {
	bucket := uint64(n) / s.cfg.SegmentsPerDir
	return filepath.Join(s.cfg.Dir, "data", strconv.FormatUint(bucket, 10))
}

func (s *LocalStore) segmentPath(n SegmentID) string {
	return filepath.Join(s.segmentDir(n), strconv.FormatUint(uint64(n), 10))
}

// Create implements SegmentStore.
func (s *LocalStore) Create(name SegmentID) (io.WriteCloser, error) {
	dir := s.segmentDir(name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.segmentPath(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.cfg.FileMode)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Open implements SegmentStore.
func (s *LocalStore) Open(name SegmentID) (io.ReaderAt, int64, error) {
	f, err := os.Open(s.segmentPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: segment %d", ErrSegmentNotFound, name)
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Remove implements SegmentStore.
func (s *LocalStore) Remove(name SegmentID) error {
	err := os.Remove(s.segmentPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List implements SegmentStore, returning segment ids in ascending order
// across all fanout subdirectories.
func (s *LocalStore) List() ([]SegmentID, error) {
	dataDir := filepath.Join(s.cfg.Dir, "data")
	buckets, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []SegmentID
	for _, b := range buckets {
		if !b.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dataDir, b.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			n, err := strconv.ParseUint(e.Name(), 10, 64)
			if err != nil {
				continue // ignore stray non-segment files
			}
			out = append(out, SegmentID(n))
		}
	}
	sortSegmentIDs(out)
	return out, nil
}

func sortSegmentIDs(ids []SegmentID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// Sync fsyncs the data directory so prior Create/Remove renames survive a
// crash, matching the segment log's write_commit fsync-the-directory step.
func (s *LocalStore) Sync() error {
	dir, err := os.Open(filepath.Join(s.cfg.Dir, "data"))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

// Lock acquires the repository's advisory lock. Exclusive locks use
// syscall.Flock on a sentinel file, the same way a chunk/file
// manager; shared (reader) locks use LOCK_SH so many readers can coexist.
func (s *LocalStore) Lock(ctx context.Context, mode LockMode, waiter LockWaiter) (Unlocker, error) {
	path := filepath.Join(s.cfg.Dir, exclusiveLockName)
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	how := syscall.LOCK_EX
	if mode == LockShared {
		how = syscall.LOCK_SH
	}

	deadline := time.Now().Add(time.Duration(waiter.MaxWait))
	backoff := 50 * time.Millisecond
	for {
		err := syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB) //nolint:gosec // G115: uintptr->int is safe on 64-bit
		if err == nil {
			s.logger.Debug("lock acquired", "mode", modeName(mode))
			return &fileUnlocker{f: f}, nil
		}
		if waiter.MaxWait <= 0 || time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, s.cfg.Dir)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

func modeName(m LockMode) string {
	if m == LockExclusive {
		return "exclusive"
	}
	return "shared"
}

type fileUnlocker struct {
	f *os.File
}

func (u *fileUnlocker) Unlock() error {
	_ = syscall.Flock(int(u.f.Fd()), syscall.LOCK_UN) //nolint:gosec // G115: uintptr->int is safe on 64-bit
	return u.f.Close()
}
