// Package archive stores raw source payloads (bank email bodies) in GCS
// before parsing, so classifier output can always be audited against what
// was actually received.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
)

// GCS archives payloads as objects in one bucket. Application Default
// Credentials are assumed, same as the other Google clients.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates an archiver over the given bucket.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// Store writes the payload under the given key and returns the resulting
// gs:// URI.
func (g *GCS) Store(ctx context.Context, key string, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := g.client.Bucket(g.bucket).Object(key)
	w := obj.NewWriter(ctx)
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: finalize object %q: %w", key, err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}
