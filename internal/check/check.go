// Package check implements the repository's two-phase consistency
// check: a repository phase that verifies segment records directly
// against the log (independent of whatever the in-memory index
// currently believes), and an archive phase that walks the manifest,
// every archive's metadata and item stream, and confirms every
// referenced chunk exists (optionally fully decrypting it and
// confirming its content id).
package check

import (
	"fmt"
	"time"

	"snapvault/internal/archive"
	"snapvault/internal/segment"
)

// Backend is the subset of *repo.Repository the checker needs: direct
// segment access for the repository phase, plus Get/GetManifest/
// ComputeID for the archive phase.
type Backend interface {
	Store() segment.SegmentStore
	IterSegment(seg segment.SegmentID, fn func(segment.Record) error) (int64, error)
	RebuildIndex() error
	Get(id segment.ObjectID) ([]byte, error)
	Put(id segment.ObjectID, plaintext []byte) error
	GetManifest() (*archive.Manifest, error)
	VerifyManifestTAM(m *archive.Manifest) error
	ComputeID(plaintext []byte) (segment.ObjectID, error)
}

// Options configures a Checker run.
type Options struct {
	Repair      bool
	VerifyData bool
	MaxDuration time.Duration // 0 means unbounded
	// StartAfter resumes the repository phase's segment scan after this
	// segment (a previous Report's LastSegmentChecked; nothing persists
	// it between runs); the zero value starts from the beginning.
	StartAfter segment.SegmentID
}

// Report summarizes what a Run found and, in repair mode, fixed.
type Report struct {
	SegmentsScanned    int
	RecordsVerified    int
	TruncatedSegments  []segment.SegmentID
	LastSegmentChecked segment.SegmentID
	RepositoryComplete bool // false if MaxDuration cut the repository phase short

	ArchivesChecked []string
	MissingChunks   []segment.ObjectID
	IntegrityErrors []segment.ObjectID
	RepairedChunks  []segment.ObjectID
	ManifestError   error
}

// Checker runs the two phases against Backend.
type Checker struct {
	backend Backend
}

// New builds a Checker over backend.
func New(backend Backend) *Checker {
	return &Checker{backend: backend}
}

// Run executes the repository phase followed by the archive phase and
// returns a combined Report. The repository phase always runs first,
// since the archive phase's chunk-existence checks depend on the
// index being trustworthy.
func (c *Checker) Run(opts Options) (*Report, error) {
	report := &Report{}

	if err := c.runRepositoryPhase(opts, report); err != nil {
		return report, fmt.Errorf("check: repository phase: %w", err)
	}
	if !report.RepositoryComplete {
		// max_duration cut the repository phase short; the archive
		// phase waits for a subsequent run once the whole log has
		// been verified.
		return report, nil
	}

	if opts.Repair && (len(report.TruncatedSegments) > 0) {
		if err := c.backend.RebuildIndex(); err != nil {
			return report, fmt.Errorf("check: rebuild index: %w", err)
		}
	}

	if err := c.runArchivePhase(opts, report); err != nil {
		return report, fmt.Errorf("check: archive phase: %w", err)
	}
	return report, nil
}
