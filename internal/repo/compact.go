package repo

import (
	"snapvault/internal/objindex"
	"snapvault/internal/segment"
)

// defaultCompactionThreshold is the live-to-total byte ratio below which
// a segment is rewritten rather than left to accumulate dead space.
const defaultCompactionThreshold = 0.75

// compactLocked rewrites every segment whose live-byte ratio (as tracked
// by the shadow-index hints) falls below threshold, re-appending the
// entries the index still considers live and dropping the shadow
// bookkeeping for the rest. Callers must hold r.mu.
//
// Compaction never runs in append-only mode: append-only repositories
// keep every prior segment reachable for point-in-time recovery, so
// there is nothing to reclaim.
func (r *Repository) compactLocked(threshold float64) ([]segment.SegmentID, error) {
	if r.appendOnly {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = defaultCompactionThreshold
	}

	var rewritten []segment.SegmentID
	for _, seg := range r.segmentsBelowThresholdLocked(threshold) {
		if err := r.rewriteSegmentLocked(seg); err != nil {
			return nil, err
		}
		rewritten = append(rewritten, seg)
	}
	return rewritten, nil
}

// segmentsBelowThresholdLocked returns the segments whose live ratio falls
// below threshold, counting for each segment how many dead (shadowed)
// entries the hints remember as having once lived there.
// Byte sizes aren't tracked per shadow entry, so each shadowed id
// counts as one unit against that segment's live-byte count; this is a
// conservative estimate, adequate for deciding whether a segment is
// worth rewriting.
func (r *Repository) segmentsBelowThresholdLocked(threshold float64) []segment.SegmentID {
	shadowedCount := make(map[segment.SegmentID]int64)
	for _, segs := range r.hints.ShadowIndex {
		for _, seg := range segs {
			shadowedCount[seg]++
		}
	}

	var out []segment.SegmentID
	for seg, shadowed := range shadowedCount {
		live := r.hints.SegmentLiveBytes[seg]
		total := live + shadowed
		if total == 0 {
			continue
		}
		if float64(live)/float64(total) < threshold {
			out = append(out, seg)
		}
	}
	return out
}

// rewriteSegmentLocked copies every index entry currently pointing at
// seg into freshly appended records (landing in the log's current
// segment), updates the index in place, and clears seg's shadow
// accounting now that its dead space has been reclaimed. seg itself is
// still on disk when this returns; Commit unlinks it via the store only
// once the rewrite has been durably committed, so a crash between the
// two leaves the old segment in place rather than losing live data.
func (r *Repository) rewriteSegmentLocked(seg segment.SegmentID) error {
	type liveEntry struct {
		id  segment.ObjectID
		loc objindex.Location
	}
	var live []liveEntry
	r.index.Iter(func(id segment.ObjectID, loc objindex.Location) bool {
		if loc.Segment == seg {
			live = append(live, liveEntry{id: id, loc: loc})
		}
		return true
	})

	for _, e := range live {
		envelope, err := r.log.Read(segment.Position{Segment: e.loc.Segment, Offset: e.loc.Offset}, e.id)
		if err != nil {
			return err
		}
		pos, err := r.log.Append(segment.TagPut, e.id, envelope)
		if err != nil {
			return err
		}
		r.index.Set(e.id, objindex.Location{Segment: pos.Segment, Offset: pos.Offset, Size: uint32(len(envelope))})
		r.hints.SegmentLiveBytes[pos.Segment] += int64(len(envelope))
	}

	for id, segs := range r.hints.ShadowIndex {
		filtered := segs[:0]
		for _, s := range segs {
			if s != seg {
				filtered = append(filtered, s)
			}
		}
		if len(filtered) == 0 {
			delete(r.hints.ShadowIndex, id)
		} else {
			r.hints.ShadowIndex[id] = filtered
		}
	}
	delete(r.hints.SegmentLiveBytes, seg)
	return nil
}
