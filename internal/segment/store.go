package segment

import (
	"context"
	"io"
)

// LockMode selects exclusive (writer) or shared (reader) locking.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// LockWaiter controls how long Lock blocks waiting for contention to clear,
// mirroring the repository's lock_wait configuration knob.
type LockWaiter struct {
	// MaxWait is the total time to retry before failing with ErrLockTimeout.
	// Zero means try once and fail immediately if unavailable.
	MaxWait int64 // nanoseconds; kept as int64 to avoid importing time here
}

// Unlocker releases a lock acquired via SegmentStore.Lock.
type Unlocker interface {
	Unlock() error
}

// SegmentStore abstracts the byte storage a repository's segment log runs
// on top of: local disk by default, or an object-storage bucket via one of
// the backends in this package's s3store/blobstore/gcsstore subpackages.
type SegmentStore interface {
	// Create opens name for writing, truncating or creating it.
	Create(name SegmentID) (io.WriteCloser, error)
	// Open opens name for random-access reads, also returning its size.
	Open(name SegmentID) (io.ReaderAt, int64, error)
	// Remove deletes name. Removing a name that doesn't exist is not an error.
	Remove(name SegmentID) error
	// List returns every segment name currently present, in ascending order.
	List() ([]SegmentID, error)
	// Lock acquires an advisory lock in the given mode, retrying per waiter
	// until acquired or MaxWait elapses.
	Lock(ctx context.Context, mode LockMode, waiter LockWaiter) (Unlocker, error)
	// Sync fsyncs the store's directory/container after a batch of Create
	// or Remove calls, so a following crash cannot lose a rename/unlink.
	Sync() error
}
