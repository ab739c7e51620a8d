// Package storeopen builds a segment.SegmentStore from a repository's
// parsed config, dispatching on the configured storage backend the same
// way a factory function picks a storage backend implementation by
// type name.
package storeopen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"cloud.google.com/go/storage"

	"snapvault/internal/repoconfig"
	"snapvault/internal/segment"
	"snapvault/internal/segment/blobstore"
	"snapvault/internal/segment/gcsstore"
	"snapvault/internal/segment/s3store"
)

// Open returns the SegmentStore named by cfg.Storage, rooted at root
// for the "file" backend or at cfg.StorageParams for the cloud backends.
func Open(ctx context.Context, root string, cfg *repoconfig.Config, logger *slog.Logger) (segment.SegmentStore, error) {
	switch cfg.Storage {
	case "", "file":
		return segment.NewLocalStore(segment.LocalConfig{
			Dir:            root,
			SegmentsPerDir: cfg.SegmentsPerDir,
			Logger:         logger,
		})
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Bucket: cfg.StorageParams["bucket"],
			Prefix: cfg.StorageParams["prefix"],
			Region: cfg.StorageParams["region"],
			Logger: logger,
		})
	case "azblob":
		client, err := azblob.NewClientFromConnectionString(cfg.StorageParams["connection_string"], nil)
		if err != nil {
			return nil, fmt.Errorf("storeopen: azblob client: %w", err)
		}
		return blobstore.New(blobstore.Config{
			Container: cfg.StorageParams["container"],
			Prefix:    cfg.StorageParams["prefix"],
			Logger:    logger,
		}, client)
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storeopen: gcs client: %w", err)
		}
		return gcsstore.New(gcsstore.Config{
			Bucket: cfg.StorageParams["bucket"],
			Prefix: cfg.StorageParams["prefix"],
			Logger: logger,
		}, client)
	default:
		return nil, fmt.Errorf("storeopen: unknown storage backend %q", cfg.Storage)
	}
}
