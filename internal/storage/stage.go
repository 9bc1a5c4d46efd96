package storage

import (
	"context"
	"errors"

	"github.com/pgmove/pgmove/internal/config"
	"github.com/pgmove/pgmove/internal/logging"
)

// ErrMissingCredentials marks a storage stage that cannot run because an
// endpoint or key is not configured. Callers skip the stage instead of
// failing the run.
var ErrMissingCredentials = errors.New("storage credentials not configured")

// Stats counts one storage mirror pass.
type Stats struct {
	BucketsMigrated int `json:"buckets_migrated"`
	BucketsFailed   int `json:"buckets_failed"`
	FilesMigrated   int `json:"files_migrated"`
	FilesFailed     int `json:"files_failed"`
}

// Mirror copies every bucket and file from the source service to the
// target service. Per-file failures are counted and the pass continues;
// only a bucket listing failure on the source aborts.
func Mirror(ctx context.Context, cfg *config.StorageConfig) (Stats, error) {
	var stats Stats
	if cfg.SourceURL == "" || cfg.SourceKey == "" || cfg.TargetURL == "" || cfg.TargetKey == "" {
		return stats, ErrMissingCredentials
	}

	src := NewClient(cfg.SourceURL, cfg.SourceKey)
	dst := NewClient(cfg.TargetURL, cfg.TargetKey)

	buckets, err := src.ListBuckets(ctx)
	if err != nil {
		return stats, err
	}

	for _, bucket := range buckets {
		if err := dst.CreateBucket(ctx, bucket.Name, bucket.Public); err != nil {
			stats.BucketsFailed++
			logging.Error("creating target bucket %s: %v", bucket.Name, err)
			continue
		}
		stats.BucketsMigrated++

		objects, err := src.ListObjects(ctx, bucket.Name, "")
		if err != nil {
			logging.Error("listing %s: %v", bucket.Name, err)
			continue
		}

		for _, obj := range objects {
			if err := copyObject(ctx, src, dst, bucket.Name, obj.Name); err != nil {
				stats.FilesFailed++
				logging.Error("copying %s/%s: %v", bucket.Name, obj.Name, err)
				continue
			}
			stats.FilesMigrated++
		}
	}
	return stats, nil
}

func copyObject(ctx context.Context, src, dst *Client, bucket, name string) error {
	data, contentType, err := src.Download(ctx, bucket, name)
	if err != nil {
		return err
	}
	return dst.Upload(ctx, bucket, name, data, contentType)
}
