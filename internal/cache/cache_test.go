package cache

import (
	"crypto/sha256"
	"testing"

	"snapvault/internal/segment"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestChunkRefcounting(t *testing.T) {
	c := openTestCache(t)
	id := segment.ObjectID(sha256.Sum256([]byte("chunk-a")))

	if _, err := c.GetChunk(id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before insert, got %v", err)
	}

	if err := c.IncRefChunk(id, 100, 80); err != nil {
		t.Fatalf("IncRefChunk: %v", err)
	}
	entry, err := c.GetChunk(id)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if entry.Refcount != 1 || entry.PlainSize != 100 || entry.CompressedSize != 80 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if err := c.IncRefChunk(id, 100, 80); err != nil {
		t.Fatalf("IncRefChunk (second): %v", err)
	}
	entry, _ = c.GetChunk(id)
	if entry.Refcount != 2 {
		t.Fatalf("refcount = %d, want 2", entry.Refcount)
	}

	removed, err := c.DecRefChunk(id)
	if err != nil {
		t.Fatalf("DecRefChunk: %v", err)
	}
	if removed {
		t.Fatal("should not be removed at refcount 1")
	}
	removed, err = c.DecRefChunk(id)
	if err != nil {
		t.Fatalf("DecRefChunk (final): %v", err)
	}
	if !removed {
		t.Fatal("expected removal at refcount 0")
	}
	if _, err := c.GetChunk(id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after refcount reaches 0, got %v", err)
	}
}

func TestDecRefNotFound(t *testing.T) {
	c := openTestCache(t)
	var id segment.ObjectID
	if _, err := c.DecRefChunk(id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSecurityRoundTrip(t *testing.T) {
	c := openTestCache(t)
	sec := Security{
		KeyType:          2,
		PreviousLocation: "ssh://old-host/path",
	}
	sec.LastSeenManifestID[0] = 0xAB
	if err := c.PutSecurity(sec); err != nil {
		t.Fatalf("PutSecurity: %v", err)
	}
	got, err := c.GetSecurity()
	if err != nil {
		t.Fatalf("GetSecurity: %v", err)
	}
	if got.KeyType != sec.KeyType || got.PreviousLocation != sec.PreviousLocation {
		t.Fatalf("security mismatch: got %+v want %+v", got, sec)
	}
	if got.LastSeenManifestID != sec.LastSeenManifestID {
		t.Fatal("manifest id mismatch")
	}
}

func TestFilesCacheRoundTripAndMatch(t *testing.T) {
	c := openTestCache(t)
	path := "/home/user/file.txt"
	entry := FileEntry{
		Signature: FileSignature{Inode: 42, Size: 1024, Ctime: 1000, Mtime: 2000},
		ChunkIDs:  []segment.ObjectID{sha256.Sum256([]byte("c1")), sha256.Sum256([]byte("c2"))},
	}
	if err := c.PutFile(path, entry); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	got, err := c.GetFile(path)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.Signature != entry.Signature {
		t.Fatalf("signature mismatch: got %+v want %+v", got.Signature, entry.Signature)
	}
	if len(got.ChunkIDs) != 2 {
		t.Fatalf("expected 2 chunk ids, got %d", len(got.ChunkIDs))
	}

	mode := DefaultFilesMode()
	if !mode.Matches(entry.Signature, entry.Signature) {
		t.Error("identical signature should match")
	}
	changed := entry.Signature
	changed.Size = 2048
	if mode.Matches(entry.Signature, changed) {
		t.Error("changed size should not match under size-sensitive mode")
	}
}

func TestFilesModeDisabledNeverMatches(t *testing.T) {
	mode := FilesMode{Disabled: true}
	sig := FileSignature{Size: 10}
	if mode.Matches(sig, sig) {
		t.Error("disabled mode should never match")
	}
}

func TestAgeAndEvict(t *testing.T) {
	c := openTestCache(t)
	if err := c.PutFile("/a", FileEntry{Signature: FileSignature{Age: 0}}); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := c.AgeAndEvict(3); err != nil {
			t.Fatalf("AgeAndEvict: %v", err)
		}
	}
	if _, err := c.GetFile("/a"); err != ErrNotFound {
		t.Fatalf("expected entry to be evicted, got err=%v", err)
	}
}
