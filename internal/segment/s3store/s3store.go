// Package s3store implements segment.SegmentStore on top of an S3
// (or S3-compatible) bucket, following the same Create/Open/Remove/List
// shape as segment.LocalStore but backed by aws-sdk-go-v2 calls instead
// of local files.
package s3store

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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"snapvault/internal/logging"
	"snapvault/internal/segment"
)

// Config configures a Store.
type Config struct {
	Bucket string
	Prefix string // object key prefix, e.g. "myrepo/"
	Region string
	Logger *slog.Logger
}

// Store is a segment.SegmentStore backed by an S3 bucket. Unlike
// LocalStore's advisory flock, Lock is implemented with a lock object
// written under a conditional "does not already exist" precondition
// (IfNoneMatch: "*"), the object-storage analogue of flock that every
// major S3-compatible provider now supports.
type Store struct {
	cfg    Config
	client *s3.Client
	logger *slog.Logger
}

// New builds a Store using the default AWS credential chain, scoped to
// cfg.Region if set.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3store: Config.Bucket is required")
	}
	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}
	return &Store{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg),
		logger: logging.Default(cfg.Logger).With("component", "s3store"),
	}, nil
}

func (s *Store) key(name segment.SegmentID) string {
	return s.cfg.Prefix + strconv.FormatUint(uint64(name), 10)
}

// Create returns a buffered writer that uploads its contents to the
// segment's object on Close. S3 has no append or random-write support,
// so the whole segment is buffered in memory between Create and Close —
// acceptable since segments are bounded by max_segment_size.
func (s *Store) Create(name segment.SegmentID) (io.WriteCloser, error) {
	return &s3Writer{store: s, key: s.key(name)}, nil
}

type s3Writer struct {
	store *Store
	key   string
	buf   bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *s3Writer) Close() error {
	_, err := w.store.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(w.store.cfg.Bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("s3store: put %s: %w", w.key, err)
	}
	return nil
}

// Open fetches the segment's full object into memory and returns a
// ReaderAt over it along with its size.
func (s *Store) Open(name segment.SegmentID) (io.ReaderAt, int64, error) {
	key := s.key(name)
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, segment.ErrSegmentNotFound
		}
		return nil, 0, fmt.Errorf("s3store: get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("s3store: read %s: %w", key, err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// Remove deletes the segment's object. Deleting a missing key is not an
// error, matching S3 DeleteObject semantics.
func (s *Store) Remove(name segment.SegmentID) error {
	key := s.key(name)
	_, err := s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3store: delete %s: %w", key, err)
	}
	return nil
}

// List enumerates every segment object under the configured prefix.
func (s *Store) List() ([]segment.SegmentID, error) {
	var ids []segment.SegmentID
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("s3store: list: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.cfg.Prefix)
			n, err := strconv.ParseUint(name, 10, 64)
			if err != nil {
				continue // not a segment object (e.g. the lock object)
			}
			ids = append(ids, segment.SegmentID(n))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

const lockObjectName = "lock.exclusive"

// Lock acquires the bucket-wide exclusive lock by conditionally
// creating the lock object; shared locks are not enforced server-side
// (object storage has no advisory-lock primitive for readers) and
// simply succeed, matching a multi-reader concurrency model.
func (s *Store) Lock(ctx context.Context, mode segment.LockMode, waiter segment.LockWaiter) (segment.Unlocker, error) {
	if mode == segment.LockShared {
		return noopUnlocker{}, nil
	}

	key := s.cfg.Prefix + lockObjectName
	deadline := time.Now().Add(time.Duration(waiter.MaxWait))
	for {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        strings.NewReader(time.Now().Format(time.RFC3339)),
			IfNoneMatch: aws.String("*"),
		})
		if err == nil {
			return &s3Unlocker{store: s, key: key}, nil
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

type s3Unlocker struct {
	store *Store
	key   string
}

func (u *s3Unlocker) Unlock() error {
	_, err := u.store.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(u.store.cfg.Bucket),
		Key:    aws.String(u.key),
	})
	return err
}

type noopUnlocker struct{}

func (noopUnlocker) Unlock() error { return nil }
