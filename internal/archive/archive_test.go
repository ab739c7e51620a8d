package archive

import (
	"crypto/sha256"
	"testing"
	"time"

	"snapvault/internal/segment"
)

func TestManifestRoundTrip(t *testing.T) {
	var repoID [16]byte
	copy(repoID[:], []byte("0123456789abcdef"))
	m := NewManifest(repoID, true)
	m.Archives["daily-2026-07-31"] = ArchiveRef{
		ID:        segment.ObjectID(sha256.Sum256([]byte("archive-a"))),
		Timestamp: time.Unix(1, 0).UTC(),
	}

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Manifest
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.RepositoryID != m.RepositoryID {
		t.Error("repository id mismatch")
	}
	if got.FormatVersion != m.FormatVersion {
		t.Error("format version mismatch")
	}
	if !got.TAMRequired {
		t.Error("tam_required lost in round trip")
	}
	ref, ok := got.Archives["daily-2026-07-31"]
	if !ok {
		t.Fatal("archive entry missing after round trip")
	}
	if ref.ID != m.Archives["daily-2026-07-31"].ID {
		t.Error("archive id mismatch")
	}
	if !ref.Timestamp.Equal(m.Archives["daily-2026-07-31"].Timestamp) {
		t.Errorf("timestamp mismatch: got %v want %v", ref.Timestamp, m.Archives["daily-2026-07-31"].Timestamp)
	}
}

func TestManifestUnknownFieldsPreserved(t *testing.T) {
	var repoID [16]byte
	m := NewManifest(repoID, false)
	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Simulate a newer writer's extra field by hand-editing the decoded
	// form, then re-encoding and decoding through an "older" reader.
	var newer Manifest
	if err := newer.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	newer.Unknown["future_field"] = mustRaw(t, "future-value")

	reencoded, err := newer.Marshal()
	if err != nil {
		t.Fatalf("re-Marshal: %v", err)
	}

	var older Manifest
	if err := older.Unmarshal(reencoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := older.Unknown["future_field"]; !ok {
		t.Fatal("unknown field was dropped on round trip")
	}
}

func TestTAMRequiredRejectsMissing(t *testing.T) {
	var idKey [32]byte
	var repoID [16]byte
	m := NewManifest(repoID, true)
	if err := VerifyTAM(idKey, m, true); err != ErrTAMInvalid {
		t.Fatalf("expected ErrTAMInvalid, got %v", err)
	}
}

func TestTAMSignAndVerify(t *testing.T) {
	idKey := [32]byte{1, 2, 3}
	var repoID [16]byte
	m := NewManifest(repoID, true)
	if err := Sign(idKey, m); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := VerifyTAM(idKey, m, true); err != nil {
		t.Fatalf("VerifyTAM: %v", err)
	}

	// Tamper with the manifest after signing.
	m.Archives["x"] = ArchiveRef{ID: segment.ObjectID{}, Timestamp: time.Now()}
	if err := VerifyTAM(idKey, m, true); err != ErrTAMInvalid {
		t.Fatalf("expected ErrTAMInvalid after tamper, got %v", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	a := &Metadata{
		Name:          "daily",
		Comment:       "nightly backup",
		Start:         time.Unix(100, 0).UTC(),
		End:           time.Unix(200, 0).UTC(),
		ChunkerParams: "buzhash,19,23,20,1234",
		Cmdline:       []string{"snapvault", "create", "R::daily", "/data"},
		Items:         []segment.ObjectID{sha256.Sum256([]byte("chunk-1"))},
	}
	data, err := a.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Metadata
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != a.Name || got.Comment != a.Comment {
		t.Error("name/comment mismatch")
	}
	if !got.Start.Equal(a.Start) || !got.End.Equal(a.End) {
		t.Error("timestamp mismatch")
	}
	if len(got.Items) != 1 || got.Items[0] != a.Items[0] {
		t.Error("items mismatch")
	}
	if len(got.Cmdline) != len(a.Cmdline) {
		t.Error("cmdline mismatch")
	}
}

type memChunkStore struct {
	chunks map[segment.ObjectID][]byte
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{chunks: make(map[segment.ObjectID][]byte)}
}

func (m *memChunkStore) PutChunk(plaintext []byte) (segment.ObjectID, error) {
	id := segment.ObjectID(sha256.Sum256(plaintext))
	cp := make([]byte, len(plaintext))
	copy(cp, plaintext)
	m.chunks[id] = cp
	return id, nil
}

func (m *memChunkStore) GetChunk(id segment.ObjectID) ([]byte, error) {
	return m.chunks[id], nil
}

func TestItemStreamRoundTrip(t *testing.T) {
	store := newMemChunkStore()
	w := NewItemWriter(store)
	items := []*Item{
		{Path: "/etc/hosts", Mode: 0o644, UID: 0, GID: 0, User: "root", Group: "root", MTime: 1000},
		{Path: "/etc/passwd", Mode: 0o644, Chunks: []ChunkEntry{{ID: sha256.Sum256([]byte("x")), PlainSize: 10, CompressedSize: 8}}},
		{Path: "/etc/hosts-link", Source: "/etc/hosts"},
	}
	for _, it := range items {
		if err := w.Add(it); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	ids, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("expected at least one item-stream chunk")
	}

	r, err := NewItemReader(store, ids)
	if err != nil {
		t.Fatalf("NewItemReader: %v", err)
	}
	var got []*Item
	for {
		item, err := r.Next()
		if err != nil {
			break
		}
		got = append(got, item)
	}
	if len(got) != len(items) {
		t.Fatalf("expected %d items, got %d", len(items), len(got))
	}
	for i, it := range items {
		if got[i].Path != it.Path {
			t.Errorf("item %d: path = %q, want %q", i, got[i].Path, it.Path)
		}
		if it.Source != "" && got[i].Source != it.Source {
			t.Errorf("item %d: source = %q, want %q", i, got[i].Source, it.Source)
		}
		if len(it.Chunks) != len(got[i].Chunks) {
			t.Errorf("item %d: chunk count mismatch", i)
		}
	}
}

func TestItemStreamFlushesOnTargetSize(t *testing.T) {
	store := newMemChunkStore()
	w := NewItemWriter(store)
	w.target = 256 // force frequent flushes for the test

	for i := 0; i < 50; i++ {
		if err := w.Add(&Item{Path: "/file", Mode: 0o644}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	ids, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(ids) < 2 {
		t.Fatalf("expected multiple flushed chunks, got %d", len(ids))
	}
}

func mustRaw(t *testing.T, s string) []byte {
	t.Helper()
	// A msgpack fixstr-encoded string, used directly as a RawMessage value.
	b := append([]byte{0xa0 | byte(len(s))}, []byte(s)...)
	return b
}
