package segment

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func newTestLog(t *testing.T) (*Log, *LocalStore) {
	t.Helper()
	store, err := NewLocalStore(LocalConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	log, err := NewLog(LogConfig{Store: store})
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	return log, store
}

func TestAppendReadRoundTrip(t *testing.T) {
	log, _ := newTestLog(t)
	defer log.Close()

	var id ObjectID
	id[0] = 1
	payload := []byte("plaintext chunk bytes")

	pos, err := log.Append(TagPut, id, payload)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.WriteCommit(); err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}

	got, err := log.Read(pos, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %q want %q", got, payload)
	}
}

func TestReadKeyMismatch(t *testing.T) {
	log, _ := newTestLog(t)
	defer log.Close()

	var id, wrong ObjectID
	id[0], wrong[0] = 1, 2

	pos, err := log.Append(TagPut, id, []byte("x"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.Read(pos, wrong); err != ErrKeyMismatch {
		t.Fatalf("expected ErrKeyMismatch, got %v", err)
	}
}

func TestIterSegmentTruncatedTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(LocalConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	log, err := NewLog(LogConfig{Store: store})
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}

	var id ObjectID
	id[0] = 9
	if _, err := log.Append(TagPut, id, []byte("complete record")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, size, err := store.Open(SegmentID(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	existing := make([]byte, size)
	if _, err := reader.ReadAt(existing, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}

	// Simulate a crash mid-write: rewrite the segment with the prior
	// complete record plus a dangling partial one.
	partial := EncodeRecord(TagPut, id, []byte("another"))
	partial = partial[:len(partial)-3] // truncate mid-payload
	f, err := store.Create(SegmentID(0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write(append(existing, partial...)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	log2, err := NewLog(LogConfig{Store: store})
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}

	var records []Record
	truncAt, err := log2.IterSegment(SegmentID(0), func(r Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		t.Fatalf("IterSegment: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 well-formed record, got %d", len(records))
	}
	if int(truncAt) != len(existing) {
		t.Errorf("expected truncation point %d, got %d", len(existing), truncAt)
	}
}

func TestRotationOnMaxSegmentSize(t *testing.T) {
	store, err := NewLocalStore(LocalConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	log, err := NewLog(LogConfig{Store: store, MaxSegmentSize: HeaderBytes*2 + 3})
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	defer log.Close()

	var id ObjectID
	p1, err := log.Append(TagPut, id, []byte{1, 2})
	if err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	p2, err := log.Append(TagPut, id, []byte{3, 4})
	if err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	if p1.Segment == p2.Segment {
		t.Errorf("expected rotation to a new segment, both writes landed in segment %d", p1.Segment)
	}
}

func TestLocalStoreLockExclusiveBlocksSecond(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewLocalStore(LocalConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	s2, err := NewLocalStore(LocalConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	unlock, err := s1.Lock(context.Background(), LockExclusive, LockWaiter{})
	if err != nil {
		t.Fatalf("Lock 1: %v", err)
	}
	defer unlock.Unlock()

	if _, err := s2.Lock(context.Background(), LockExclusive, LockWaiter{}); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}
