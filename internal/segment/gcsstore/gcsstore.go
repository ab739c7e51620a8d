// Package gcsstore implements segment.SegmentStore on top of a Google
// Cloud Storage bucket, using a generation-precondition write for the
// lock object — GCS's equivalent of S3's IfNoneMatch conditional put.
package gcsstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"snapvault/internal/logging"
	"snapvault/internal/segment"
)

// Config configures a Store.
type Config struct {
	Bucket string
	Prefix string
	Logger *slog.Logger
}

// Store is a segment.SegmentStore backed by a GCS bucket.
type Store struct {
	cfg    Config
	client *storage.Client
	logger *slog.Logger
}

// New builds a Store over an already-constructed storage.Client (built
// with whatever credentials the caller's environment provides).
func New(cfg Config, client *storage.Client) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcsstore: Config.Bucket is required")
	}
	return &Store{
		cfg:    cfg,
		client: client,
		logger: logging.Default(cfg.Logger).With("component", "gcsstore"),
	}, nil
}

func (s *Store) objectName(name segment.SegmentID) string {
	return s.cfg.Prefix + strconv.FormatUint(uint64(name), 10)
}

func (s *Store) bucket() *storage.BucketHandle {
	return s.client.Bucket(s.cfg.Bucket)
}

func (s *Store) Create(name segment.SegmentID) (io.WriteCloser, error) {
	w := s.bucket().Object(s.objectName(name)).NewWriter(context.Background())
	return w, nil
}

func (s *Store) Open(name segment.SegmentID) (io.ReaderAt, int64, error) {
	objName := s.objectName(name)
	r, err := s.bucket().Object(objName).NewReader(context.Background())
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, segment.ErrSegmentNotFound
		}
		return nil, 0, fmt.Errorf("gcsstore: open %s: %w", objName, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("gcsstore: read %s: %w", objName, err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

func (s *Store) Remove(name segment.SegmentID) error {
	objName := s.objectName(name)
	err := s.bucket().Object(objName).Delete(context.Background())
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcsstore: delete %s: %w", objName, err)
	}
	return nil
}

func (s *Store) List() ([]segment.SegmentID, error) {
	var ids []segment.SegmentID
	it := s.bucket().Objects(context.Background(), &storage.Query{Prefix: s.cfg.Prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcsstore: list: %w", err)
		}
		name := strings.TrimPrefix(attrs.Name, s.cfg.Prefix)
		n, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, segment.SegmentID(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

const lockObjectName = "lock.exclusive"

// Lock acquires the exclusive lock by writing the lock object under a
// DoesNotExist generation precondition, so only one caller's write can
// land. Shared (reader) locks are not enforced server-side.
func (s *Store) Lock(ctx context.Context, mode segment.LockMode, waiter segment.LockWaiter) (segment.Unlocker, error) {
	if mode == segment.LockShared {
		return noopUnlocker{}, nil
	}

	obj := s.bucket().Object(s.cfg.Prefix + lockObjectName)
	deadline := time.Now().Add(time.Duration(waiter.MaxWait))
	for {
		w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		_, writeErr := w.Write([]byte(time.Now().Format(time.RFC3339)))
		closeErr := w.Close()
		if writeErr == nil && closeErr == nil {
			return &gcsUnlocker{obj: obj}, nil
		}
		if waiter.MaxWait == 0 || time.Now().After(deadline) {
			return nil, segment.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

type gcsUnlocker struct {
	obj *storage.ObjectHandle
}

func (u *gcsUnlocker) Unlock() error {
	return u.obj.Delete(context.Background())
}

type noopUnlocker struct{}

func (noopUnlocker) Unlock() error { return nil }
