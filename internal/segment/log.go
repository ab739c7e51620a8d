package segment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"snapvault/internal/logging"
)

// ErrQuotaExceeded is returned by Append when MaxSegmentSize accounting
// would overflow a single segment and rotation cannot proceed (e.g. a
// payload larger than an entire empty segment).
var ErrQuotaExceeded = errors.New("segment: payload larger than max segment size")

// LogConfig configures a Log.
type LogConfig struct {
	Store          SegmentStore
	MaxSegmentSize int64 // rotate to a new segment once the current one exceeds this
	Logger         *slog.Logger
}

// Log is the append-only segment log: it owns rotation across segment
// files and exposes append/read/commit/iterate the way the
// Segment Log Store component describes.
type Log struct {
	store          SegmentStore
	maxSegmentSize int64
	logger         *slog.Logger

	mu      sync.Mutex
	current SegmentID
	writer  io.WriteCloser
	size    int64
	opened  bool
}

const defaultMaxSegmentSize = 4 << 30 // 4 GiB hard-limit default

// NewLog opens (or creates) the log on top of store. Appends go to a fresh
// segment numbered one past the highest segment in the store's listing.
func NewLog(cfg LogConfig) (*Log, error) {
	if cfg.Store == nil {
		return nil, errors.New("segment: LogConfig.Store is required")
	}
	if cfg.MaxSegmentSize <= 0 {
		cfg.MaxSegmentSize = defaultMaxSegmentSize
	}
	ids, err := cfg.Store.List()
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	l := &Log{
		store:          cfg.Store,
		maxSegmentSize: cfg.MaxSegmentSize,
		logger:         logging.Default(cfg.Logger).With("component", "segment-log"),
	}
	if len(ids) > 0 {
		l.current = ids[len(ids)-1] + 1
	}
	return l, nil
}

// Position identifies a record's location within the log.
type Position struct {
	Segment SegmentID
	Offset  int64
}

func (l *Log) ensureOpenLocked() error {
	if l.opened {
		return nil
	}
	w, err := l.store.Create(l.current)
	if err != nil {
		return err
	}
	l.writer = w
	l.opened = true
	return nil
}

// Append writes a PUT or DELETE record, rotating to a fresh segment first
// if the current one would exceed maxSegmentSize. It returns the position
// the record was written at.
func (l *Log) Append(tag Tag, id ObjectID, payload []byte) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := EncodeRecord(tag, id, payload)
	if int64(len(buf)) > l.maxSegmentSize {
		return Position{}, fmt.Errorf("%w: %d bytes", ErrQuotaExceeded, len(buf))
	}

	if l.opened && l.size+int64(len(buf)) > l.maxSegmentSize {
		if err := l.rotateLocked(); err != nil {
			return Position{}, err
		}
	}
	if err := l.ensureOpenLocked(); err != nil {
		return Position{}, err
	}

	off := l.size
	if _, err := l.writer.Write(buf); err != nil {
		return Position{}, err
	}
	l.size += int64(len(buf))
	return Position{Segment: l.current, Offset: off}, nil
}

func (l *Log) rotateLocked() error {
	if err := l.writer.Close(); err != nil {
		return err
	}
	l.current++
	l.opened = false
	l.size = 0
	l.logger.Debug("rotated segment", "new", l.current)
	return nil
}

// WriteCommit fsyncs the current segment, appends a COMMIT record, fsyncs
// again, then fsyncs the containing directory — the two-fsync commit
// on-disk protocol.
func (l *Log) WriteCommit() (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureOpenLocked(); err != nil {
		return Position{}, err
	}
	if err := syncWriter(l.writer); err != nil {
		return Position{}, err
	}

	buf := EncodeRecord(TagCommit, ObjectID{}, nil)
	off := l.size
	if _, err := l.writer.Write(buf); err != nil {
		return Position{}, err
	}
	l.size += int64(len(buf))

	if err := syncWriter(l.writer); err != nil {
		return Position{}, err
	}
	if err := l.store.Sync(); err != nil {
		return Position{}, err
	}
	return Position{Segment: l.current, Offset: off}, nil
}

// syncer is implemented by *os.File and any other WriteCloser that can
// fsync itself; stores backed by non-durable writers (memory, object
// storage) may implement it as a no-op.
type syncer interface {
	Sync() error
}

func syncWriter(w io.WriteCloser) error {
	if s, ok := w.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// Current returns the segment currently being written.
func (l *Log) Current() SegmentID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Close flushes and releases the active segment writer.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened {
		return nil
	}
	l.opened = false
	return l.writer.Close()
}

// Read reads the record at pos and verifies that its key matches want. It
// returns ErrKeyMismatch if the stored key differs, which indicates either
// index corruption or a caller bug.
func (l *Log) Read(pos Position, want ObjectID) ([]byte, error) {
	r, size, err := l.store.Open(pos.Segment)
	if err != nil {
		return nil, err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	head := make([]byte, HeaderBytes)
	if pos.Offset+int64(HeaderBytes) > size {
		return nil, ErrTruncatedRecord
	}
	if _, err := r.ReadAt(head, pos.Offset); err != nil {
		return nil, err
	}
	total, ok := RecordLen(head)
	if !ok {
		return nil, ErrRecordTooSmall
	}
	if pos.Offset+int64(total) > size {
		return nil, ErrTruncatedRecord
	}

	full := make([]byte, total)
	if _, err := r.ReadAt(full, pos.Offset); err != nil {
		return nil, err
	}
	rec, err := DecodeRecord(full)
	if err != nil {
		return nil, err
	}
	if rec.ID != want {
		return nil, ErrKeyMismatch
	}
	return rec.Payload, nil
}

// IterSegment scans one segment file in on-disk order, invoking fn for each
// well-formed record. A truncated trailing record (one whose declared size
// would run past EOF, or whose CRC fails) stops iteration without an error;
// the returned offset is where the well-formed records end (the segment
// size when nothing is truncated), so callers (index rebuild, check --repair) can decide whether to
// truncate the segment.
func (l *Log) IterSegment(seg SegmentID, fn func(Record) error) (truncatedAt int64, err error) {
	r, size, err := l.store.Open(seg)
	if err != nil {
		if errors.Is(err, ErrSegmentNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	var off int64
	head := make([]byte, HeaderBytes)
	for off < size {
		remaining := size - off
		if remaining < int64(HeaderBytes) {
			return off, nil
		}
		if _, rerr := r.ReadAt(head, off); rerr != nil && !errors.Is(rerr, io.EOF) {
			return off, rerr
		}
		total, ok := RecordLen(head)
		if !ok || off+int64(total) > size {
			return off, nil
		}

		full := make([]byte, total)
		if _, rerr := r.ReadAt(full, off); rerr != nil && !errors.Is(rerr, io.EOF) {
			return off, rerr
		}
		rec, derr := DecodeRecord(full)
		if derr != nil {
			if errors.Is(derr, ErrCRCMismatch) {
				return off, nil
			}
			return off, derr
		}
		rec.Offset = off
		if ferr := fn(rec); ferr != nil {
			return off, ferr
		}
		off += int64(total)
	}
	return off, nil
}

// VerifyMagic reports whether buf begins with the segment magic. Segment
// files written by this package don't actually carry the magic inline —
// IterSegment/Read operate on bare record streams — but check --repair
// uses VerifyMagic against any externally-supplied segment blob (e.g. one
// recovered from a backup) before trusting it.
func VerifyMagic(buf []byte) bool {
	return bytes.HasPrefix(buf, []byte(Magic))
}
