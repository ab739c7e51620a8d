package repo

import (
	"bytes"
	"testing"

	"snapvault/internal/archive"
	"snapvault/internal/compress"
	"snapvault/internal/crypto"
	"snapvault/internal/segment"
)

func newTestManifest(r *Repository) *archive.Manifest {
	return archive.NewManifest(r.km.RepositoryID, false)
}

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	store, err := segment.NewLocalStore(segment.LocalConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	km, err := crypto.Generate(false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	r, err := Open(Config{
		Store:       store,
		HintsDir:    t.TempDir(),
		KeyMaterial: km,
		Scheme:      crypto.SchemeChaCha20Poly1305,
		Compression: CompressionConfig{Codec: compress.CodecZstd, Level: 3},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestPutGetRoundTrip(t *testing.T) {
	r := openTestRepo(t)
	var id segment.ObjectID
	id[0] = 0x42
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated. the quick brown fox jumps over the lazy dog.")

	if err := r.Put(id, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestGetMissingReturnsErrObjectNotFound(t *testing.T) {
	r := openTestRepo(t)
	var id segment.ObjectID
	id[0] = 0x99
	if _, err := r.Get(id); err != ErrObjectNotFound {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestPutChunkDeduplicatesIdenticalContent(t *testing.T) {
	r := openTestRepo(t)
	data := []byte("identical content stored twice")

	id1, err := r.PutChunk(data)
	if err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	id2, err := r.PutChunk(data)
	if err != nil {
		t.Fatalf("PutChunk (second): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical content to produce identical ids, got %x and %x", id1, id2)
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	r := openTestRepo(t)
	var id segment.ObjectID
	id[0] = 0x7

	if err := r.Put(id, []byte("ephemeral")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(id); err != ErrObjectNotFound {
		t.Fatalf("expected ErrObjectNotFound after delete, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	r := openTestRepo(t)
	var id segment.ObjectID
	id[0] = 0x8
	if err := r.Delete(id); err != nil {
		t.Fatalf("Delete on absent id should be a no-op, got %v", err)
	}
	if err := r.Put(id, []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Delete(id); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
}

func TestCommitPersistsIndexAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	hintsDir := t.TempDir()
	store, err := segment.NewLocalStore(segment.LocalConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	km, err := crypto.Generate(false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cfg := Config{Store: store, HintsDir: hintsDir, KeyMaterial: km, Scheme: crypto.SchemeCTRHMAC}

	r, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var id segment.ObjectID
	id[0] = 0x11
	if err := r.Put(id, []byte("persisted across reopen")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.Commit(false, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store2, err := segment.NewLocalStore(segment.LocalConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewLocalStore (reopen): %v", err)
	}
	cfg2 := cfg
	cfg2.Store = store2
	r2, err := Open(cfg2)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	defer r2.Close()

	got, err := r2.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "persisted across reopen" {
		t.Fatalf("unexpected content after reopen: %q", got)
	}
}

func TestManifestRoundTripThroughRepository(t *testing.T) {
	r := openTestRepo(t)
	m := newTestManifest(r)

	if err := r.PutManifest(m); err != nil {
		t.Fatalf("PutManifest: %v", err)
	}
	got, err := r.GetManifest()
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	if got.RepositoryID != m.RepositoryID {
		t.Fatalf("repository id mismatch: got %x want %x", got.RepositoryID, m.RepositoryID)
	}
}

func TestCompactionPreservesContentAndRemovesDeadSegments(t *testing.T) {
	dir := t.TempDir()
	store, err := segment.NewLocalStore(segment.LocalConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	km, err := crypto.Generate(false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	r, err := Open(Config{
		Store:       store,
		HintsDir:    t.TempDir(),
		KeyMaterial: km,
		Scheme:      crypto.SchemeChaCha20Poly1305,
		Compression: CompressionConfig{Codec: compress.CodecZstd, Level: 3},
		MaxSegment:  150, // force a new segment on every Append past the first
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var id1, id2 segment.ObjectID
	id1[0], id2[0] = 0x01, 0x02
	if err := r.Put(id1, []byte("dead weight to be compacted away")); err != nil {
		t.Fatalf("Put id1: %v", err)
	}
	if err := r.Put(id2, []byte("kept alive across compaction")); err != nil {
		t.Fatalf("Put id2: %v", err)
	}
	if err := r.Commit(false, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := r.Delete(id1); err != nil {
		t.Fatalf("Delete id1: %v", err)
	}

	segmentsBefore, err := store.List()
	if err != nil {
		t.Fatalf("List (before compact): %v", err)
	}

	// threshold 1.0 forces every segment carrying a shadowed (dead)
	// entry to be rewritten, since its live ratio is always < 1.
	if err := r.Commit(true, 1.0); err != nil {
		t.Fatalf("Commit (compact): %v", err)
	}

	got, err := r.Get(id2)
	if err != nil {
		t.Fatalf("Get id2 after compaction: %v", err)
	}
	if string(got) != "kept alive across compaction" {
		t.Fatalf("id2 content changed by compaction: %q", got)
	}
	if _, err := r.Get(id1); err != ErrObjectNotFound {
		t.Fatalf("expected id1 to stay deleted after compaction, got %v", err)
	}

	segmentsAfter, err := store.List()
	if err != nil {
		t.Fatalf("List (after compact): %v", err)
	}
	if len(segmentsAfter) >= len(segmentsBefore) {
		t.Fatalf("expected compaction to unlink at least one dead segment, had %d before and %d after", len(segmentsBefore), len(segmentsAfter))
	}
}

func TestGetManyPreservesOrder(t *testing.T) {
	r := openTestRepo(t)
	var ids []segment.ObjectID
	for i := 0; i < 20; i++ {
		data := bytes.Repeat([]byte{byte(i)}, 64)
		id, err := r.PutChunk(data)
		if err != nil {
			t.Fatalf("PutChunk: %v", err)
		}
		ids = append(ids, id)
	}

	results, err := r.GetMany(ids, 4)
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	for i, data := range results {
		want := bytes.Repeat([]byte{byte(i)}, 64)
		if !bytes.Equal(data, want) {
			t.Fatalf("result %d mismatch", i)
		}
	}
}
