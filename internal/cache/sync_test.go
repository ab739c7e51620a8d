package cache

import (
	"crypto/sha256"
	"testing"

	"snapvault/internal/archive"
	"snapvault/internal/segment"
)

type fakeRepo struct {
	manifest *archive.Manifest
	chunks   map[segment.ObjectID][]byte
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		manifest: archive.NewManifest([16]byte{}, false),
		chunks:   make(map[segment.ObjectID][]byte),
	}
}

func (r *fakeRepo) GetManifest() (*archive.Manifest, error) { return r.manifest, nil }

func (r *fakeRepo) GetChunk(id segment.ObjectID) ([]byte, error) {
	return r.chunks[id], nil
}

func (r *fakeRepo) putChunk(data []byte) segment.ObjectID {
	id := segment.ObjectID(sha256.Sum256(data))
	r.chunks[id] = data
	return id
}

func (r *fakeRepo) addArchive(t *testing.T, name string, items []*archive.Item) segment.ObjectID {
	t.Helper()
	store := &repoPutter{r}
	w := archive.NewItemWriter(store)
	for _, it := range items {
		if err := w.Add(it); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	ids, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	meta := &archive.Metadata{Name: name, Items: ids}
	data, err := meta.Marshal()
	if err != nil {
		t.Fatalf("Marshal metadata: %v", err)
	}
	archiveID := r.putChunk(data)
	r.manifest.Archives[name] = archive.ArchiveRef{ID: archiveID}
	return archiveID
}

type repoPutter struct{ r *fakeRepo }

func (p *repoPutter) PutChunk(data []byte) (segment.ObjectID, error) {
	return p.r.putChunk(data), nil
}

func TestSyncAddsArchiveAndIncrementsRefs(t *testing.T) {
	c := openTestCache(t)
	repo := newFakeRepo()

	chunkID := repo.putChunk([]byte("file contents"))
	repo.addArchive(t, "first", []*archive.Item{
		{Path: "/a", Chunks: []archive.ChunkEntry{{ID: chunkID, PlainSize: 13, CompressedSize: 13}}},
	})

	result, err := c.Sync(repo, map[string]segment.ObjectID{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.ArchivesAdded) != 1 || result.ArchivesAdded[0] != "first" {
		t.Fatalf("expected archive 'first' added, got %+v", result.ArchivesAdded)
	}

	entry, err := c.GetChunk(chunkID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if entry.Refcount != 1 {
		t.Fatalf("refcount = %d, want 1", entry.Refcount)
	}
}

func TestSyncNoOpWhenManifestUnchanged(t *testing.T) {
	c := openTestCache(t)
	repo := newFakeRepo()
	repo.addArchive(t, "first", nil)

	if _, err := c.Sync(repo, map[string]segment.ObjectID{}); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	known := map[string]segment.ObjectID{"first": repo.manifest.Archives["first"].ID}
	result, err := c.Sync(repo, known)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(result.ArchivesAdded) != 0 || len(result.ArchivesRemoved) != 0 {
		t.Fatalf("expected no-op sync, got %+v", result)
	}
}

func TestSyncRemovedArchiveDecrementsRefs(t *testing.T) {
	c := openTestCache(t)
	repo := newFakeRepo()
	chunkID := repo.putChunk([]byte("shared data"))
	repo.addArchive(t, "only", []*archive.Item{
		{Path: "/a", Chunks: []archive.ChunkEntry{{ID: chunkID, PlainSize: 11, CompressedSize: 11}}},
	})

	if _, err := c.Sync(repo, map[string]segment.ObjectID{}); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	known := map[string]segment.ObjectID{"only": repo.manifest.Archives["only"].ID}

	removedRef := repo.manifest.Archives["only"]
	delete(repo.manifest.Archives, "only")

	result, err := c.Sync(repo, known)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(result.ArchivesRemoved) != 1 {
		t.Fatalf("expected 1 archive removed, got %+v", result.ArchivesRemoved)
	}
	if len(result.ChunksQueuedForDelete) != 1 || result.ChunksQueuedForDelete[0] != chunkID {
		t.Fatalf("expected chunk %x queued for delete, got %+v", chunkID, result.ChunksQueuedForDelete)
	}
	if _, err := c.GetChunk(chunkID); err != ErrNotFound {
		t.Fatalf("expected chunk refcount to reach 0, got err=%v", err)
	}
	_ = removedRef
}
