package check

import (
	"errors"
	"io"
	"sort"
	"time"

	"snapvault/internal/segment"
)

// runRepositoryPhase verifies every record's CRC in on-disk order,
// starting after opts.StartAfter, stopping early (with
// RepositoryComplete left false) once opts.MaxDuration elapses. A
// segment whose trailing record is truncated or CRC-corrupt is
// recorded in TruncatedSegments; in repair mode its good prefix is
// kept and the corrupt tail dropped.
func (c *Checker) runRepositoryPhase(opts Options, report *Report) error {
	store := c.backend.Store()
	ids, err := store.List()
	if err != nil {
		return err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	deadline := time.Time{}
	if opts.MaxDuration > 0 {
		deadline = time.Now().Add(opts.MaxDuration)
	}

	report.RepositoryComplete = true
	for _, seg := range ids {
		if seg <= opts.StartAfter {
			continue
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			report.RepositoryComplete = false
			break
		}

		count := 0
		truncatedAt, iterErr := c.backend.IterSegment(seg, func(rec segment.Record) error {
			count++
			return nil
		})
		if iterErr != nil {
			return iterErr
		}
		report.RecordsVerified += count
		report.SegmentsScanned++
		report.LastSegmentChecked = seg

		size, sizeErr := segmentSize(store, seg)
		if sizeErr == nil && truncatedAt < size {
			report.TruncatedSegments = append(report.TruncatedSegments, seg)
			if opts.Repair {
				if err := truncateSegment(store, seg, truncatedAt); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func segmentSize(store segment.SegmentStore, seg segment.SegmentID) (int64, error) {
	r, size, err := store.Open(seg)
	if err != nil {
		return 0, err
	}
	if c, ok := r.(interface{ Close() error }); ok {
		defer c.Close()
	}
	return size, nil
}

// truncateSegment rewrites seg keeping only its first goodLen bytes,
// the "truncate trailing corruption" repair action.
func truncateSegment(store segment.SegmentStore, seg segment.SegmentID, goodLen int64) error {
	r, size, err := store.Open(seg)
	if err != nil {
		return err
	}
	if closer, ok := r.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	if goodLen > size {
		goodLen = size
	}
	good := make([]byte, goodLen)
	if goodLen > 0 {
		if n, err := r.ReadAt(good, 0); err != nil && !(errors.Is(err, io.EOF) && int64(n) == goodLen) {
			return err
		}
	}

	w, err := store.Create(seg)
	if err != nil {
		return err
	}
	if _, err := w.Write(good); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return store.Sync()
}
