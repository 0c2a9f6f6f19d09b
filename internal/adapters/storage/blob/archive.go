// Package blob copies finished artifacts to object storage.
package blob

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"path"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver

	"visualizer.worker/internal/core/domain"
)

// Archive writes artifacts under <prefix>/<job_id>/.
// Works with any bucket URL gocloud.dev understands: s3://, gs://, file://, mem://.
type Archive struct {
	bucket *blob.Bucket
	prefix string
}

// Open opens the bucket at bucketURL.
func Open(ctx context.Context, bucketURL, prefix string) (*Archive, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return New(bucket, prefix), nil
}

func New(bucket *blob.Bucket, prefix string) *Archive {
	return &Archive{bucket: bucket, prefix: prefix}
}

// Archive stores every artifact and returns the written keys in order. It stops
// at the first failure.
func (a *Archive) Archive(ctx context.Context, jobID string, artifacts []domain.EncodedArtifact) ([]string, error) {
	keys := make([]string, 0, len(artifacts))
	for i, art := range artifacts {
		data, err := base64.StdEncoding.DecodeString(art.Data)
		if err != nil {
			return keys, fmt.Errorf("decode artifact %s: %w", art.Filename, err)
		}

		key := path.Join(a.prefix, jobID, fmt.Sprintf("%02d_%s", i, path.Base(art.Filename)))
		opts := &blob.WriterOptions{ContentType: contentType(art.Filename)}
		if err := a.bucket.WriteAll(ctx, key, data, opts); err != nil {
			return keys, fmt.Errorf("write %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Close releases the bucket connection.
func (a *Archive) Close() error {
	if a.bucket != nil {
		return a.bucket.Close()
	}
	return nil
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
