package objindex

import (
	"testing"

	"snapvault/internal/segment"
)

func TestSetGetDelete(t *testing.T) {
	ix := New()
	var id segment.ObjectID
	id[0] = 7

	if _, err := ix.Get(id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ix.Set(id, Location{Segment: 3, Offset: 100, Size: 42})
	loc, err := ix.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loc.Segment != 3 || loc.Offset != 100 || loc.Size != 42 {
		t.Errorf("unexpected location: %+v", loc)
	}

	prev, had := ix.Delete(id)
	if !had {
		t.Fatal("expected prior entry")
	}
	if prev.Segment != 3 {
		t.Errorf("unexpected prev: %+v", prev)
	}
	if _, err := ix.Get(id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIdempotentDelete(t *testing.T) {
	ix := New()
	var id segment.ObjectID
	ix.Set(id, Location{Segment: 1})

	ix.Delete(id)
	_, had := ix.Delete(id)
	if had {
		t.Fatal("second delete should report no prior entry")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ix := New()
	var id segment.ObjectID
	id[0] = 1
	ix.Set(id, Location{Segment: 1})

	clone := ix.Clone()
	clone.Delete(id)

	if _, err := ix.Get(id); err != nil {
		t.Fatalf("original should be unaffected by clone mutation: %v", err)
	}
	if _, err := clone.Get(id); err != ErrNotFound {
		t.Fatal("clone should no longer have id")
	}
}

func TestRebuildAppliesOnlyCommittedTransaction(t *testing.T) {
	store, err := segment.NewLocalStore(segment.LocalConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	log, err := segment.NewLog(segment.LogConfig{Store: store})
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	defer log.Close()

	var idA, idB, idC segment.ObjectID
	idA[0], idB[0], idC[0] = 1, 2, 3

	if _, err := log.Append(segment.TagPut, idA, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := log.WriteCommit(); err != nil {
		t.Fatal(err)
	}
	// Uncommitted tail: should not appear after rebuild.
	if _, err := log.Append(segment.TagPut, idB, []byte("b")); err != nil {
		t.Fatal(err)
	}
	if _, err := log.Append(segment.TagDelete, idA, nil); err != nil {
		t.Fatal(err)
	}
	_ = idC

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	ix, txID, err := Rebuild(log, ids)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if txID != 0 {
		t.Errorf("expected transaction id 0, got %d", txID)
	}
	if _, err := ix.Get(idA); err != nil {
		t.Errorf("idA should still be present (delete was uncommitted): %v", err)
	}
	if _, err := ix.Get(idB); err != ErrNotFound {
		t.Errorf("idB should be absent (uncommitted put), got err=%v", err)
	}
}
