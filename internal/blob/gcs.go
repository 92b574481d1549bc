// Package blob stores raw document bytes in an object store, keyed by document id.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

const defaultContentType = "application/octet-stream"

func contentTypeOrDefault(ct string) string {
	if ct == "" {
		return defaultContentType
	}
	return ct
}

// GCS is a blob store on a Cloud Storage bucket.
type GCS struct {
	client    *storage.Client
	bucket    string
	projectID string
	logger    *slog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewGCS returns a blob store on bucket. projectID is used when the bucket
// has to be created.
func NewGCS(client *storage.Client, bucket, projectID string, logger *slog.Logger) *GCS {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCS{
		client:    client,
		bucket:    bucket,
		projectID: projectID,
		logger:    logger.With("component", "blob", "bucket", bucket),
	}
}

// ensureBucket creates the bucket on first use if it does not exist.
func (g *GCS) ensureBucket(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ensured {
		return nil
	}

	bkt := g.client.Bucket(g.bucket)
	_, err := bkt.Attrs(ctx)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrBucketNotExist):
		if err := bkt.Create(ctx, g.projectID, nil); err != nil && !gcp.HasStatus(err, http.StatusConflict) {
			return fmt.Errorf("failed to create bucket %s: %w", g.bucket, err)
		}
		g.logger.Info("Bucket created.")
	default:
		return fmt.Errorf("failed to check bucket %s: %w", g.bucket, err)
	}
	g.ensured = true
	return nil
}

// Store streams r into the object key.
func (g *GCS) Store(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := g.ensureBucket(ctx); err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorage, err)
	}

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeOrDefault(contentType)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("%w: failed to write gs://%s/%s: %w", models.ErrStorage, g.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: failed to finalize gs://%s/%s: %w", models.ErrStorage, g.bucket, key, err)
	}
	g.logger.Info("Object stored.", "key", key, "size", size)
	return nil
}

// Open returns a streaming reader for key.
func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", g.bucket, key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", g.bucket, key, err)
	}
	return rc, nil
}

// Load returns the full content of key, or false on any failure.
func (g *GCS) Load(ctx context.Context, key string) ([]byte, bool) {
	rc, err := g.Open(ctx, key)
	if err != nil {
		g.logger.Warn("Could not open object", "key", key, "error", err)
		return nil, false
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		g.logger.Warn("Could not read object", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

// Delete removes key. A missing bucket or object is not an error.
func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	switch {
	case err == nil:
		g.logger.Info("Object deleted.", "key", key)
		return nil
	case errors.Is(err, storage.ErrBucketNotExist):
		g.logger.Warn("Bucket does not exist; nothing to delete", "key", key)
		return nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return nil
	default:
		return fmt.Errorf("%w: failed to delete gs://%s/%s: %w", models.ErrStorage, g.bucket, key, err)
	}
}
