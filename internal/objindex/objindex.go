// Package objindex implements the in-memory object index: the mapping from
// a 32-byte object id to the (segment, offset) it was last written at,
// rebuildable by replaying the segment log.
package objindex

import (
	"errors"
	"sync"

	"snapvault/internal/segment"
)

// ErrNotFound is returned by Get for an absent id.
var ErrNotFound = errors.New("objindex: id not found")

// Location records where an object currently lives.
type Location struct {
	Segment segment.SegmentID
	Offset  int64
	Size    uint32
}

// Index is the in-memory id -> Location map. The zero value is not usable;
// use New. Index is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries map[segment.ObjectID]Location
}

// New creates an empty Index.
func New() *Index {
	return &Index{entries: make(map[segment.ObjectID]Location)}
}

// Get returns the location of id, or ErrNotFound.
func (ix *Index) Get(id segment.ObjectID) (Location, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	loc, ok := ix.entries[id]
	if !ok {
		return Location{}, ErrNotFound
	}
	return loc, nil
}

// Set records or overwrites id's location, returning the previous location
// if one existed (used by the repository's shadow-index to remember the
// prior copy across a PUT that overwrites an existing id).
func (ix *Index) Set(id segment.ObjectID, loc Location) (prev Location, hadPrev bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	prev, hadPrev = ix.entries[id]
	ix.entries[id] = loc
	return prev, hadPrev
}

// Delete removes id from the index, returning its last location if present.
func (ix *Index) Delete(id segment.ObjectID) (prev Location, hadPrev bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	prev, hadPrev = ix.entries[id]
	delete(ix.entries, id)
	return prev, hadPrev
}

// Len returns the number of live entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Iter calls fn for every (id, location) pair. fn must not mutate the
// index; iteration order is unspecified, matching Go's map iteration.
func (ix *Index) Iter(fn func(segment.ObjectID, Location) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for id, loc := range ix.entries {
		if !fn(id, loc) {
			return
		}
	}
}

// Clone returns an independent copy of the index, used when starting a
// fresh in-memory rebuild without disturbing readers of the current one.
func (ix *Index) Clone() *Index {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := New()
	for id, loc := range ix.entries {
		out.entries[id] = loc
	}
	return out
}

// Rebuild replays every segment from 0 up to and including the highest
// segment containing a COMMIT record, applying PUT/DELETE in log order.
// Segments after the last COMMIT are ignored under the crash model:
// a segment ending without a COMMIT is invisible on reopen. Rebuild
// returns the new index and the transaction id (the segment holding the
// last COMMIT seen).
func Rebuild(log *segment.Log, segments []segment.SegmentID) (*Index, segment.SegmentID, error) {
	// First pass: locate the last COMMIT record in log order. Since segment
	// ids increase monotonically and segments are only ever appended to in
	// order, the last COMMIT encountered while scanning segments ascending
	// is the transaction id.
	var lastCommitSeg segment.SegmentID
	var lastCommitOff int64
	var sawCommit bool
	for _, seg := range segments {
		_, err := log.IterSegment(seg, func(rec segment.Record) error {
			if rec.Tag == segment.TagCommit {
				lastCommitSeg = seg
				lastCommitOff = rec.Offset
				sawCommit = true
			}
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
	}
	if !sawCommit {
		return New(), 0, nil
	}

	// Second pass: replay PUT/DELETE in log order, stopping at the
	// transaction boundary found above. Anything past it belongs to an
	// uncommitted transaction and must be invisible on reopen.
	ix := New()
	for _, seg := range segments {
		if seg > lastCommitSeg {
			break
		}
		_, err := log.IterSegment(seg, func(rec segment.Record) error {
			if seg == lastCommitSeg && rec.Offset > lastCommitOff {
				return nil
			}
			switch rec.Tag {
			case segment.TagPut:
				ix.Set(rec.ID, Location{Segment: seg, Offset: rec.Offset, Size: rec.Size})
			case segment.TagDelete:
				ix.Delete(rec.ID)
			}
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
	}
	return ix, lastCommitSeg, nil
}
