// Package cache implements the per-(host, repository, user) client-side
// cache: chunk refcounts, a files-cache keyed by path hash for
// short-circuiting re-chunking of unchanged files, and a small security
// bucket recording the last-seen manifest id and key fingerprint.
// Persisted in a single bbolt database, one bucket per concern,
// on-disk-metadata-store idiom (chunk/file/meta_store.go) swapped from a
// hand-rolled per-entry binary file to an embedded B+tree KV store, a
// better fit for random get/put-by-key access than a sequential log.
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"snapvault/internal/segment"
)

var (
	bucketChunks   = []byte("chunks")
	bucketFiles    = []byte("files")
	bucketSecurity = []byte("security")
)

// ErrNotFound is returned by lookups that miss.
var ErrNotFound = errors.New("cache: not found")

// Cache wraps a bbolt database holding the three client-cache buckets.
type Cache struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the cache database at
// <dir>/cache.db, creating all three buckets.
func Open(dir string) (*Cache, error) {
	db, err := bbolt.Open(filepath.Join(dir, "cache.db"), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketChunks, bucketFiles, bucketSecurity} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// ChunkEntry is the refcount/size bookkeeping the cache keeps per chunk
// id, independent of which archives reference it.
type ChunkEntry struct {
	Refcount       uint32
	PlainSize      uint32
	CompressedSize uint32
}

func encodeChunkEntry(e ChunkEntry) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], e.Refcount)
	binary.BigEndian.PutUint32(buf[4:8], e.PlainSize)
	binary.BigEndian.PutUint32(buf[8:12], e.CompressedSize)
	return buf
}

func decodeChunkEntry(buf []byte) (ChunkEntry, error) {
	if len(buf) != 12 {
		return ChunkEntry{}, fmt.Errorf("cache: malformed chunk entry (%d bytes)", len(buf))
	}
	return ChunkEntry{
		Refcount:       binary.BigEndian.Uint32(buf[0:4]),
		PlainSize:      binary.BigEndian.Uint32(buf[4:8]),
		CompressedSize: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// GetChunk returns the refcount entry for id.
func (c *Cache) GetChunk(id segment.ObjectID) (ChunkEntry, error) {
	var entry ChunkEntry
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketChunks).Get(id[:])
		if v == nil {
			return ErrNotFound
		}
		var err error
		entry, err = decodeChunkEntry(v)
		return err
	})
	return entry, err
}

// IncRefChunk increments id's refcount, inserting a fresh entry with
// refcount 1 if it doesn't already exist.
func (c *Cache) IncRefChunk(id segment.ObjectID, plainSize, compressedSize uint32) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		entry := ChunkEntry{PlainSize: plainSize, CompressedSize: compressedSize}
		if v := b.Get(id[:]); v != nil {
			existing, err := decodeChunkEntry(v)
			if err != nil {
				return err
			}
			entry = existing
		}
		entry.Refcount++
		entry.PlainSize = plainSize
		entry.CompressedSize = compressedSize
		return b.Put(id[:], encodeChunkEntry(entry))
	})
}

// DecRefChunk decrements id's refcount. If it reaches zero the entry is
// removed and removed reports true, signalling the chunk should be
// queued for repository DELETE at the next writer commit.
func (c *Cache) DecRefChunk(id segment.ObjectID) (removed bool, err error) {
	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		v := b.Get(id[:])
		if v == nil {
			return ErrNotFound
		}
		entry, err := decodeChunkEntry(v)
		if err != nil {
			return err
		}
		if entry.Refcount <= 1 {
			removed = true
			return b.Delete(id[:])
		}
		entry.Refcount--
		return b.Put(id[:], encodeChunkEntry(entry))
	})
	return removed, err
}

// Security holds the small fingerprint bucket: key type, previous
// repository location, and the last manifest id this cache has synced
// against.
type Security struct {
	KeyType            byte
	PreviousLocation   string
	LastSeenManifestID segment.ObjectID
}

const securityKey = "security"

func (c *Cache) GetSecurity() (Security, error) {
	var sec Security
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSecurity).Get([]byte(securityKey))
		if v == nil {
			return ErrNotFound
		}
		return decodeSecurity(v, &sec)
	})
	return sec, err
}

func (c *Cache) PutSecurity(sec Security) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSecurity).Put([]byte(securityKey), encodeSecurity(sec))
	})
}

func encodeSecurity(sec Security) []byte {
	loc := []byte(sec.PreviousLocation)
	buf := make([]byte, 1+32+4+len(loc))
	buf[0] = sec.KeyType
	copy(buf[1:33], sec.LastSeenManifestID[:])
	binary.BigEndian.PutUint32(buf[33:37], uint32(len(loc)))
	copy(buf[37:], loc)
	return buf
}

func decodeSecurity(buf []byte, sec *Security) error {
	if len(buf) < 37 {
		return fmt.Errorf("cache: malformed security record")
	}
	sec.KeyType = buf[0]
	copy(sec.LastSeenManifestID[:], buf[1:33])
	n := binary.BigEndian.Uint32(buf[33:37])
	if len(buf) < int(37+n) {
		return fmt.Errorf("cache: truncated security record")
	}
	sec.PreviousLocation = string(buf[37 : 37+n])
	return nil
}
