package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"snapvault/internal/segment"
)

// FilesMode selects which stat fields must match an entry's recorded
// signature for the cached chunk list to be reused instead of
// re-chunking; Rechunk and Disabled override the set entirely.
type FilesMode struct {
	Ctime    bool
	Mtime    bool
	Size     bool
	Inode    bool
	Rechunk  bool // always re-chunk, but still record new results
	Disabled bool // bypass the files-cache entirely
}

// DefaultFilesMode mirrors the common ctime+size+inode signature.
func DefaultFilesMode() FilesMode {
	return FilesMode{Ctime: true, Size: true, Inode: true}
}

// FileSignature is the recorded stat state a file's chunk list is valid for.
type FileSignature struct {
	Age   uint32 // cache generations since last seen, for eviction
	Inode uint64
	Size  int64
	Ctime int64 // nanoseconds
	Mtime int64 // nanoseconds
}

// FileEntry pairs a signature with the chunk ids it was last chunked into.
type FileEntry struct {
	Signature FileSignature
	ChunkIDs  []segment.ObjectID
}

// PathHash is the files-cache key: a digest of the absolute path, so
// long paths don't blow up bbolt key size and path comparisons are O(1).
func PathHash(path string) [32]byte {
	return sha256.Sum256([]byte(path))
}

// Matches reports whether sig still satisfies mode's signature
// requirements against a freshly-stat'd candidate, so the caller can
// skip re-chunking when true.
func (mode FilesMode) Matches(cached, candidate FileSignature) bool {
	if mode.Disabled || mode.Rechunk {
		return false
	}
	if mode.Size && cached.Size != candidate.Size {
		return false
	}
	if mode.Inode && cached.Inode != candidate.Inode {
		return false
	}
	if mode.Ctime && cached.Ctime != candidate.Ctime {
		return false
	}
	if mode.Mtime && cached.Mtime != candidate.Mtime {
		return false
	}
	return true
}

func encodeFileEntry(e FileEntry) []byte {
	buf := make([]byte, 4+8+8+8+8+4+32*len(e.ChunkIDs))
	off := 0
	binary.BigEndian.PutUint32(buf[off:], e.Signature.Age)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], e.Signature.Inode)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(e.Signature.Size))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(e.Signature.Ctime))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(e.Signature.Mtime))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(e.ChunkIDs)))
	off += 4
	for _, id := range e.ChunkIDs {
		copy(buf[off:off+32], id[:])
		off += 32
	}
	return buf
}

func decodeFileEntry(buf []byte) (FileEntry, error) {
	const head = 4 + 8 + 8 + 8 + 8 + 4
	if len(buf) < head {
		return FileEntry{}, fmt.Errorf("cache: malformed file entry")
	}
	var e FileEntry
	off := 0
	e.Signature.Age = binary.BigEndian.Uint32(buf[off:])
	off += 4
	e.Signature.Inode = binary.BigEndian.Uint64(buf[off:])
	off += 8
	e.Signature.Size = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	e.Signature.Ctime = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	e.Signature.Mtime = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	n := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if len(buf) != head+32*int(n) {
		return FileEntry{}, fmt.Errorf("cache: truncated file entry")
	}
	e.ChunkIDs = make([]segment.ObjectID, n)
	for i := range e.ChunkIDs {
		copy(e.ChunkIDs[i][:], buf[off:off+32])
		off += 32
	}
	return e, nil
}

// GetFile looks up the cached entry for path, by path hash.
func (c *Cache) GetFile(path string) (FileEntry, error) {
	hash := PathHash(path)
	var entry FileEntry
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get(hash[:])
		if v == nil {
			return ErrNotFound
		}
		var err error
		entry, err = decodeFileEntry(v)
		return err
	})
	return entry, err
}

// PutFile records path's current signature and chunk list.
func (c *Cache) PutFile(path string, entry FileEntry) error {
	hash := PathHash(path)
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).Put(hash[:], encodeFileEntry(entry))
	})
}

// AgeAndEvict increments every entry's age, deleting those exceeding
// maxAge; called once per backup run to bound files-cache growth when
// files stop appearing in the traversal.
func (c *Cache) AgeAndEvict(maxAge uint32) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		var toDelete [][]byte
		err := b.ForEach(func(k, v []byte) error {
			entry, err := decodeFileEntry(v)
			if err != nil {
				return err
			}
			entry.Signature.Age++
			if entry.Signature.Age > maxAge {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
				return nil
			}
			return b.Put(k, encodeFileEntry(entry))
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
