package objindex

import (
	"testing"

	"snapvault/internal/segment"
)

func TestPersistLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ix := New()
	var id1, id2 segment.ObjectID
	id1[0], id2[0] = 1, 2
	ix.Set(id1, Location{Segment: 0, Offset: 4, Size: 10})
	ix.Set(id2, Location{Segment: 1, Offset: 0, Size: 20})

	if _, err := Persist(ix, dir, segment.SegmentID(5)); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded, err := Load(dir, segment.SegmentID(5))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", loaded.Len())
	}
	loc, err := loaded.Get(id1)
	if err != nil {
		t.Fatalf("Get id1: %v", err)
	}
	if loc.Offset != 4 || loc.Size != 10 {
		t.Errorf("unexpected location for id1: %+v", loc)
	}
}

func TestHintsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := NewHints()
	h.SegmentLiveBytes[0] = 1000
	h.SegmentLiveBytes[1] = 500
	h.PendingCompact = []segment.SegmentID{1}
	var id segment.ObjectID
	id[0] = 9
	h.RememberShadow(id, 0)
	h.RememberShadow(id, 2)
	h.StorageQuotaUsed = 123456

	if _, err := PersistHints(h, dir, segment.SegmentID(5)); err != nil {
		t.Fatalf("PersistHints: %v", err)
	}

	loaded, err := LoadHints(dir, segment.SegmentID(5))
	if err != nil {
		t.Fatalf("LoadHints: %v", err)
	}
	if loaded.SegmentLiveBytes[0] != 1000 || loaded.SegmentLiveBytes[1] != 500 {
		t.Errorf("segment live bytes mismatch: %+v", loaded.SegmentLiveBytes)
	}
	if len(loaded.PendingCompact) != 1 || loaded.PendingCompact[0] != 1 {
		t.Errorf("pending compact mismatch: %+v", loaded.PendingCompact)
	}
	if len(loaded.ShadowIndex[id]) != 2 {
		t.Errorf("shadow index mismatch: %+v", loaded.ShadowIndex[id])
	}
	if loaded.StorageQuotaUsed != 123456 {
		t.Errorf("quota mismatch: %d", loaded.StorageQuotaUsed)
	}
}

func TestIntegrityDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	ix := New()
	var id segment.ObjectID
	ix.Set(id, Location{Segment: 0, Offset: 0, Size: 1})
	if _, err := Persist(ix, dir, segment.SegmentID(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := PersistHints(NewHints(), dir, segment.SegmentID(1)); err != nil {
		t.Fatal(err)
	}

	key := []byte("integrity-key-0123456789abcdef!")
	if _, err := WriteIntegrity(dir, segment.SegmentID(1), key); err != nil {
		t.Fatalf("WriteIntegrity: %v", err)
	}
	if err := VerifyIntegrity(dir, segment.SegmentID(1), key); err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}

	// A different key must fail verification.
	if err := VerifyIntegrity(dir, segment.SegmentID(1), []byte("wrong-key")); err != ErrMismatchedTransaction {
		t.Fatalf("expected ErrMismatchedTransaction, got %v", err)
	}
}
