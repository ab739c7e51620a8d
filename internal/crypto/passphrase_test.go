package crypto

import "testing"

func TestWrapUnwrapPassphraseRoundTrip(t *testing.T) {
	km, err := Generate(true)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	wrapped, err := WrapPassphrase("correct horse battery staple", km)
	if err != nil {
		t.Fatalf("WrapPassphrase: %v", err)
	}

	got, err := UnwrapPassphrase("correct horse battery staple", wrapped)
	if err != nil {
		t.Fatalf("UnwrapPassphrase: %v", err)
	}
	if got.EncKey != km.EncKey || got.EncHMACKey != km.EncHMACKey || got.IDKey != km.IDKey {
		t.Fatal("key material mismatch after round trip")
	}
	if got.ChunkSeed != km.ChunkSeed {
		t.Errorf("chunk seed mismatch: got %d want %d", got.ChunkSeed, km.ChunkSeed)
	}
	if got.RepositoryID != km.RepositoryID {
		t.Error("repository id mismatch")
	}
	if got.TAMRequired != km.TAMRequired {
		t.Error("tam_required mismatch")
	}
}

func TestUnwrapPassphraseWrong(t *testing.T) {
	km, err := Generate(false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	wrapped, err := WrapPassphrase("right-passphrase", km)
	if err != nil {
		t.Fatalf("WrapPassphrase: %v", err)
	}
	if _, err := UnwrapPassphrase("wrong-passphrase", wrapped); err != ErrPassphraseWrong {
		t.Fatalf("expected ErrPassphraseWrong, got %v", err)
	}
}

func TestKeyfileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	km, err := Generate(false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := WriteKeyfile(dir, km, "hunter2"); err != nil {
		t.Fatalf("WriteKeyfile: %v", err)
	}

	path, ok := FindKeyfile(dir, km.RepositoryID)
	if !ok {
		t.Fatal("expected keyfile to be found")
	}
	if path == "" {
		t.Fatal("expected non-empty path")
	}

	got, err := ReadKeyfile(dir, km.RepositoryID, "hunter2")
	if err != nil {
		t.Fatalf("ReadKeyfile: %v", err)
	}
	if got.EncKey != km.EncKey {
		t.Fatal("enc key mismatch after keyfile round trip")
	}
}
