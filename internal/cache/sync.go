package cache

import (
	"crypto/sha256"

	"snapvault/internal/archive"
	"snapvault/internal/segment"
)

// Repository is the slice of repository functionality the sync
// protocol needs: fetch the current manifest, an archive's metadata,
// and its chunks (to walk item streams for refcounting).
type Repository interface {
	GetManifest() (*archive.Manifest, error)
	GetChunk(id segment.ObjectID) ([]byte, error)
}

// SyncResult reports what the sync did, for status/progress reporting.
type SyncResult struct {
	ArchivesAdded   []string
	ArchivesRemoved []string
	ChunksQueuedForDelete []segment.ObjectID
}

// Sync compares the cache's last-seen manifest against repo's current
// one. If unchanged, it's a no-op. Otherwise it walks archives added
// since the last sync (incrementing chunk refcounts for everything
// they reference) and archives removed since the last sync
// (decrementing refcounts), queuing any chunk whose refcount reaches
// zero for repository DELETE at the writer's next commit.
func (c *Cache) Sync(repo Repository, knownArchives map[string]segment.ObjectID) (*SyncResult, error) {
	manifest, err := repo.GetManifest()
	if err != nil {
		return nil, err
	}

	sec, err := c.GetSecurity()
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	result := &SyncResult{}
	currentID := manifestID(manifest)
	if sec.LastSeenManifestID == currentID {
		return result, nil
	}

	for name := range knownArchives {
		if _, stillPresent := manifest.Archives[name]; !stillPresent {
			result.ArchivesRemoved = append(result.ArchivesRemoved, name)
		}
	}

	for name, ref := range manifest.Archives {
		if _, known := knownArchives[name]; known {
			continue
		}
		result.ArchivesAdded = append(result.ArchivesAdded, name)
		if err := c.walkArchiveAndIncRef(repo, ref.ID); err != nil {
			return nil, err
		}
	}

	for _, name := range result.ArchivesRemoved {
		ref := knownArchives[name]
		queued, err := c.walkArchiveAndDecRef(repo, ref)
		if err != nil {
			return nil, err
		}
		result.ChunksQueuedForDelete = append(result.ChunksQueuedForDelete, queued...)
	}

	sec.LastSeenManifestID = currentID
	if err := c.PutSecurity(sec); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Cache) walkArchiveAndIncRef(repo Repository, archiveID segment.ObjectID) error {
	meta, err := fetchMetadata(repo, archiveID)
	if err != nil {
		return err
	}
	reader, err := archive.NewItemReader(repoChunkGetter{repo}, meta.Items)
	if err != nil {
		return err
	}
	for {
		item, err := reader.Next()
		if err != nil {
			break
		}
		for _, chunkEntry := range item.Chunks {
			if err := c.IncRefChunk(chunkEntry.ID, chunkEntry.PlainSize, chunkEntry.CompressedSize); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Cache) walkArchiveAndDecRef(repo Repository, archiveID segment.ObjectID) ([]segment.ObjectID, error) {
	meta, err := fetchMetadata(repo, archiveID)
	if err != nil {
		return nil, err
	}
	reader, err := archive.NewItemReader(repoChunkGetter{repo}, meta.Items)
	if err != nil {
		return nil, err
	}
	var queued []segment.ObjectID
	for {
		item, err := reader.Next()
		if err != nil {
			break
		}
		for _, chunkEntry := range item.Chunks {
			removed, err := c.DecRefChunk(chunkEntry.ID)
			if err != nil {
				return nil, err
			}
			if removed {
				queued = append(queued, chunkEntry.ID)
			}
		}
	}
	return queued, nil
}

func fetchMetadata(repo Repository, archiveID segment.ObjectID) (*archive.Metadata, error) {
	data, err := repo.GetChunk(archiveID)
	if err != nil {
		return nil, err
	}
	var meta archive.Metadata
	if err := meta.Unmarshal(data); err != nil {
		return nil, err
	}
	return &meta, nil
}

// manifestID derives a change-detection id from the manifest's own
// serialized bytes. The manifest object itself is always stored at the
// fixed all-zero id, so its storage id can't be used to notice content
// changes the way an ordinary chunk id can; a digest of its bytes
// serves the same "has this changed since I last saw it" purpose.
func manifestID(m *archive.Manifest) segment.ObjectID {
	body, err := m.Marshal()
	if err != nil {
		return segment.ObjectID{}
	}
	return segment.ObjectID(sha256.Sum256(body))
}

type repoChunkGetter struct {
	repo Repository
}

func (g repoChunkGetter) GetChunk(id segment.ObjectID) ([]byte, error) {
	return g.repo.GetChunk(id)
}
