package repo

// Usage reports the repository's current accounted storage footprint
// (sum of stored envelope sizes, tracked incrementally by Put) and the
// configured quota, for the CLI's "info" and "config" commands.
type Usage struct {
	Bytes      int64
	QuotaBytes int64 // 0 means unlimited
}

// Usage returns the repository's current storage accounting.
func (r *Repository) Usage() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Usage{Bytes: r.hints.StorageQuotaUsed, QuotaBytes: r.quotaBytes}
}

// SetQuota changes the enforced quota for subsequent Put calls; a zero
// value disables enforcement.
func (r *Repository) SetQuota(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotaBytes = bytes
}
