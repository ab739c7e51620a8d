// Package repo implements the transactional repository facade: the
// same operation set exposed locally and over the remote protocol
// (open/get/get_many/put/delete/commit/scan/list/check/destroy),
// wiring together the segment log, object index, crypto, and
// compression packages.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"snapvault/internal/archive"
	"snapvault/internal/compress"
	"snapvault/internal/crypto"
	"snapvault/internal/logging"
	"snapvault/internal/objindex"
	"snapvault/internal/repoconfig"
	"snapvault/internal/segment"
)

// ErrObjectNotFound is returned by Get for an id with no live entry.
var ErrObjectNotFound = errors.New("repo: object not found")

// CompressionConfig selects the codec/level/obfuscation a writer uses
// for newly stored chunks; Get/decompress always follows whatever the
// stored envelope says, so this only affects writes.
type CompressionConfig struct {
	Codec         compress.Codec
	Level         compress.Level
	ObfuscateSpec int // 0 disables obfuscation
}

// Config configures Open.
type Config struct {
	Store         segment.SegmentStore
	HintsDir      string // directory for index/hints/integrity side-car files
	KeyMaterial   *crypto.KeyMaterial
	Scheme        byte
	Compression   CompressionConfig
	AppendOnly    bool
	QuotaBytes    int64 // 0 disables quota enforcement
	MaxSegment    int64
	LockWaitSecs  int64
	Logger        *slog.Logger
}

// Repository is the open, locked handle to a backup repository.
type Repository struct {
	store       segment.SegmentStore
	log         *segment.Log
	index       *objindex.Index
	hints       *objindex.Hints
	hintsDir    string
	km          *crypto.KeyMaterial
	scheme      byte
	compression CompressionConfig
	appendOnly  bool
	quotaBytes  int64
	logger      *slog.Logger

	unlocker segment.Unlocker

	mu        sync.Mutex
	txID      segment.SegmentID
	dirty     bool
}

// Open acquires an exclusive lock, rebuilds or loads the object index,
// and returns a ready-to-use Repository.
func Open(cfg Config) (*Repository, error) {
	if cfg.Store == nil {
		return nil, errors.New("repo: Config.Store is required")
	}
	if cfg.KeyMaterial == nil {
		return nil, errors.New("repo: Config.KeyMaterial is required")
	}
	logger := logging.Default(cfg.Logger).With("component", "repo")

	unlocker, err := cfg.Store.Lock(context.Background(), segment.LockExclusive, segment.LockWaiter{MaxWait: cfg.LockWaitSecs * int64(1e9)})
	if err != nil {
		return nil, fmt.Errorf("repo: acquire lock: %w", err)
	}

	log, err := segment.NewLog(segment.LogConfig{Store: cfg.Store, MaxSegmentSize: cfg.MaxSegment, Logger: cfg.Logger})
	if err != nil {
		unlocker.Unlock()
		return nil, err
	}

	ids, err := cfg.Store.List()
	if err != nil {
		unlocker.Unlock()
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	index, hints, txID, err := loadOrRebuild(log, ids, cfg.HintsDir, cfg.KeyMaterial)
	if err != nil {
		unlocker.Unlock()
		return nil, err
	}

	r := &Repository{
		store:       cfg.Store,
		log:         log,
		index:       index,
		hints:       hints,
		hintsDir:    cfg.HintsDir,
		km:          cfg.KeyMaterial,
		scheme:      cfg.Scheme,
		compression: cfg.Compression,
		appendOnly:  cfg.AppendOnly,
		quotaBytes:  cfg.QuotaBytes,
		logger:      logger,
		unlocker:    unlocker,
		txID:        txID,
	}
	return r, nil
}

func loadOrRebuild(log *segment.Log, ids []segment.SegmentID, hintsDir string, km *crypto.KeyMaterial) (*objindex.Index, *objindex.Hints, segment.SegmentID, error) {
	if hintsDir != "" && len(ids) > 0 {
		lastSeg := ids[len(ids)-1]
		if idx, err := objindex.Load(hintsDir, lastSeg); err == nil {
			if err := objindex.VerifyIntegrity(hintsDir, lastSeg, km.IDKey[:]); err == nil {
				if h, err := objindex.LoadHints(hintsDir, lastSeg); err == nil {
					return idx, h, lastSeg, nil
				}
			}
		}
	}
	idx, txID, err := objindex.Rebuild(log, ids)
	if err != nil {
		return nil, nil, 0, err
	}
	return idx, objindex.NewHints(), txID, nil
}

// Close releases the repository's lock and underlying resources
// without persisting anything further; callers should Commit first.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.log.Close(); err != nil {
		r.unlocker.Unlock()
		return err
	}
	return r.unlocker.Unlock()
}

// Get fetches and decrypts/decompresses the plaintext stored under id.
func (r *Repository) Get(id segment.ObjectID) ([]byte, error) {
	r.mu.Lock()
	loc, err := r.index.Get(id)
	r.mu.Unlock()
	if err != nil {
		return nil, ErrObjectNotFound
	}

	envelope, err := r.log.Read(segment.Position{Segment: loc.Segment, Offset: loc.Offset}, id)
	if err != nil {
		return nil, err
	}
	inner, err := crypto.Open(r.km, envelope)
	if err != nil {
		return nil, err
	}
	if len(inner) < 2 {
		return nil, fmt.Errorf("repo: malformed inner payload for %x", id)
	}
	codec := compress.Codec(inner[0])
	level := compress.Level(inner[1])
	body := inner[2:]
	if codec == compress.CodecObfuscate {
		return compress.ObfuscateDecompress(body)
	}
	return compress.Decompress(codec, level, body)
}

// GetMany fetches ids with bounded-concurrency read-ahead, following
// a bounded worker-pool, preserving input order in the
// returned slice.
func (r *Repository) GetMany(ids []segment.ObjectID, prefetch int) ([][]byte, error) {
	if prefetch <= 0 {
		prefetch = 8
	}
	results := make([][]byte, len(ids))
	errs := make([]error, len(ids))

	sem := make(chan struct{}, prefetch)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id segment.ObjectID) {
			defer wg.Done()
			defer func() { <-sem }()
			data, err := r.Get(id)
			results[i] = data
			errs[i] = err
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Put compresses and encrypts plaintext and writes it under id,
// overwriting any prior value. The shadow index remembers the
// previous location so compaction never discards a still-referenced
// copy before the new one is durably committed.
func (r *Repository) Put(id segment.ObjectID, plaintext []byte) error {
	envelope, err := r.sealChunk(plaintext)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quotaBytes > 0 && r.currentUsageLocked()+int64(len(envelope)) > r.quotaBytes {
		return fmt.Errorf("repo: quota exceeded (%d byte limit)", r.quotaBytes)
	}

	pos, err := r.log.Append(segment.TagPut, id, envelope)
	if err != nil {
		return err
	}
	prev, hadPrev := r.index.Set(id, objindex.Location{Segment: pos.Segment, Offset: pos.Offset, Size: uint32(len(envelope))})
	if hadPrev {
		r.hints.RememberShadow(id, prev.Segment)
	}
	r.hints.SegmentLiveBytes[pos.Segment] += int64(len(envelope))
	r.hints.StorageQuotaUsed += int64(len(envelope))
	r.dirty = true
	return nil
}

func (r *Repository) sealChunk(plaintext []byte) ([]byte, error) {
	var codec compress.Codec
	var level compress.Level
	var body []byte
	var err error

	if r.compression.ObfuscateSpec != 0 {
		codec = compress.CodecObfuscate
		body, err = compress.ObfuscateCompress(r.compression.ObfuscateSpec, r.compression.Codec, r.compression.Level, plaintext)
	} else {
		codec = r.compression.Codec
		level = r.compression.Level
		body, err = compress.Compress(codec, level, plaintext)
	}
	if err != nil {
		return nil, err
	}

	inner := make([]byte, 2+len(body))
	inner[0] = byte(codec)
	inner[1] = byte(level)
	copy(inner[2:], body)

	return crypto.Seal(r.scheme, r.km, r.km.NextNonce(), inner)
}

// PutChunk computes id from plaintext via the repository's keyed MAC
// (satisfying archive.ChunkPutter) and stores it.
func (r *Repository) PutChunk(plaintext []byte) (segment.ObjectID, error) {
	id, err := crypto.ComputeID(r.scheme, r.km, plaintext)
	if err != nil {
		return segment.ObjectID{}, err
	}
	if err := r.Put(id, plaintext); err != nil {
		return segment.ObjectID{}, err
	}
	return id, nil
}

// GetChunk satisfies archive.ChunkGetter.
func (r *Repository) GetChunk(id segment.ObjectID) ([]byte, error) {
	return r.Get(id)
}

// GetManifest fetches and decodes the manifest stored at the fixed
// all-zero id, satisfying cache.Repository.
func (r *Repository) GetManifest() (*archive.Manifest, error) {
	data, err := r.Get(archive.ManifestID)
	if err != nil {
		return nil, err
	}
	m := &archive.Manifest{}
	if err := m.Unmarshal(data); err != nil {
		return nil, err
	}
	return m, nil
}

// PutManifest signs (if required) and stores m at the fixed all-zero id.
func (r *Repository) PutManifest(m *archive.Manifest) error {
	if r.km.TAMRequired || m.TAMRequired {
		if err := archive.Sign(r.km.IDKey, m); err != nil {
			return err
		}
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return r.Put(archive.ManifestID, data)
}

// Delete removes id. In append-only mode the deletion is recorded but
// the prior segments remain recoverable; physical reclamation happens
// only via compaction outside append-only mode. Repeated deletes of
// the same id are no-ops.
func (r *Repository) Delete(id segment.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.index.Get(id); err != nil {
		return nil // idempotent: absent id, nothing to do
	}
	if _, err := r.log.Append(segment.TagDelete, id, nil); err != nil {
		return err
	}
	if prev, had := r.index.Delete(id); had {
		r.hints.RememberShadow(id, prev.Segment)
	}
	r.dirty = true
	return nil
}

// Commit writes a COMMIT record and persists the index/hints/integrity
// side-car files for the resulting transaction id. If compact is true
// and a segment's live-to-total ratio is below threshold, Compact runs
// before the commit lands.
func (r *Repository) Commit(compact bool, threshold float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rewritten []segment.SegmentID
	if compact {
		var err error
		rewritten, err = r.compactLocked(threshold)
		if err != nil {
			return err
		}
	}

	pos, err := r.log.WriteCommit()
	if err != nil {
		return err
	}
	r.txID = pos.Segment

	if r.hintsDir != "" {
		if _, err := objindex.Persist(r.index, r.hintsDir, r.txID); err != nil {
			return err
		}
		if _, err := objindex.PersistHints(r.hints, r.hintsDir, r.txID); err != nil {
			return err
		}
		if _, err := objindex.WriteIntegrity(r.hintsDir, r.txID, r.km.IDKey[:]); err != nil {
			return err
		}
	}
	r.dirty = false

	// Every live record the rewritten segments held has now landed
	// durably in this commit, so the old segments can be unlinked. A
	// crash before this point just leaves them in place for the next
	// compaction pass to find again.
	for _, seg := range rewritten {
		if err := r.store.Remove(seg); err != nil {
			r.logger.Warn("remove compacted segment failed", "segment", seg, "error", err)
		}
	}
	return nil
}

func (r *Repository) currentUsageLocked() int64 {
	return r.hints.StorageQuotaUsed
}

// Scan iterates committed live ids in on-disk (segment, offset) order,
// starting after marker (the zero id starts from the beginning),
// yielding at most limit ids — used by check's archive-phase chunk
// existence verification.
func (r *Repository) Scan(marker segment.ObjectID, limit int) ([]segment.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type entry struct {
		id  segment.ObjectID
		loc objindex.Location
	}
	var all []entry
	r.index.Iter(func(id segment.ObjectID, loc objindex.Location) bool {
		all = append(all, entry{id, loc})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].loc.Segment != all[j].loc.Segment {
			return all[i].loc.Segment < all[j].loc.Segment
		}
		return all[i].loc.Offset < all[j].loc.Offset
	})

	started := marker == segment.ObjectID{}
	var out []segment.ObjectID
	for _, e := range all {
		if !started {
			if e.id == marker {
				started = true
			}
			continue
		}
		out = append(out, e.id)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// List iterates ids in ascending byte order, starting
// after marker, yielding at most limit ids.
func (r *Repository) List(marker segment.ObjectID, limit int) ([]segment.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []segment.ObjectID
	r.index.Iter(func(id segment.ObjectID, _ objindex.Location) bool {
		all = append(all, id)
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		return lessID(all[i], all[j])
	})

	started := marker == segment.ObjectID{}
	var out []segment.ObjectID
	for _, id := range all {
		if !started {
			if id == marker {
				started = true
			}
			continue
		}
		out = append(out, id)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func lessID(a, b segment.ObjectID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Destroy removes every segment plus every index/hints/integrity
// side-car file under hintsDir and the config/README files at root,
// used by the CLI's "delete" on a whole repository (as opposed to an
// archive). The lock is released and the log closed by the caller's
// subsequent Close, not here, so a failure partway through still
// leaves the repository in a normally-closeable state.
func (r *Repository) Destroy(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.store.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.store.Remove(id); err != nil {
			return err
		}
	}

	if r.hintsDir != "" {
		for _, pattern := range []string{"index.*", "hints.*", "integrity.*"} {
			matches, err := filepath.Glob(filepath.Join(r.hintsDir, pattern))
			if err != nil {
				return err
			}
			for _, m := range matches {
				if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
					return err
				}
			}
		}
	}

	if root != "" {
		if err := os.Remove(repoconfig.ConfigPath(root)); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Remove(repoconfig.ReadmePath(root)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Len reports the number of live objects in the index, for status output.
func (r *Repository) Len() int {
	return r.index.Len()
}

// Store exposes the underlying segment store for internal/check's
// repository-phase segment scan, which must read raw records
// independently of whatever the in-memory index currently believes.
func (r *Repository) Store() segment.SegmentStore {
	return r.store
}

// IterSegment exposes segment.Log.IterSegment for the same reason.
func (r *Repository) IterSegment(seg segment.SegmentID, fn func(segment.Record) error) (int64, error) {
	return r.log.IterSegment(seg, fn)
}

// RebuildIndex discards the current in-memory index and hints and
// recomputes them from scratch by replaying every segment, used by
// check's repair mode after truncating corruption.
func (r *Repository) RebuildIndex() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.store.List()
	if err != nil {
		return err
	}
	idx, txID, err := objindex.Rebuild(r.log, ids)
	if err != nil {
		return err
	}
	r.index = idx
	r.hints = objindex.NewHints()
	r.txID = txID
	r.dirty = true
	return nil
}

// VerifyManifestTAM checks m's TAM against the repository's id key,
// enforcing TAMRequired the way archive.VerifyTAM specifies — exposed
// so internal/check can validate a manifest without needing direct
// access to key material.
func (r *Repository) VerifyManifestTAM(m *archive.Manifest) error {
	return archive.VerifyTAM(r.km.IDKey, m, r.km.TAMRequired)
}

// ComputeID derives the content id for plaintext using the
// repository's scheme and key material, exposed for check's
// --verify-data pass (confirming MAC(id_key, plaintext) == id).
func (r *Repository) ComputeID(plaintext []byte) (segment.ObjectID, error) {
	return crypto.ComputeID(r.scheme, r.km, plaintext)
}
