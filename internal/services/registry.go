package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// Registry coordinates uploads, renames, deletes and queries across the blob
// store, the record store and the search index. Writes across these systems
// are sequenced but not atomic.
type Registry struct {
	blobs    BlobStore
	records  RecordStore
	index    SearchIndex
	requests Publisher
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger. Default is slog.Default().
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIDGenerator overrides the document id generator. Default is a random UUID.
func WithIDGenerator(newID func() string) RegistryOption {
	return func(r *Registry) { r.newID = newID }
}

// WithClock overrides the clock used for upload dates.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry. requests receives one ProcessingRequest per upload.
func NewRegistry(blobs BlobStore, records RecordStore, index SearchIndex, requests Publisher, opts ...RegistryOption) *Registry {
	r := &Registry{
		blobs:    blobs,
		records:  records,
		index:    index,
		requests: requests,
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Upload stores the stream, persists a new record and requests OCR processing.
// The record keeps the original filename; normalization only happens on Rename.
func (r *Registry) Upload(ctx context.Context, src io.Reader, filename string, size int64, mimeType string) (*models.DocumentRecord, error) {
	logCtx := r.logger.With("filename", filename, "size", size, "mimeType", mimeType)
	logCtx.Info("Upload requested.")

	if src == nil || size == 0 {
		logCtx.Warn("Rejected empty upload.")
		return nil, fmt.Errorf("file must not be empty: %w", models.ErrInvalidInput)
	}
	br := bufio.NewReader(src)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			logCtx.Warn("Rejected empty upload.")
			return nil, fmt.Errorf("file must not be empty: %w", models.ErrInvalidInput)
		}
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	id := r.newID()
	logCtx = logCtx.With("documentId", id)

	if err := r.blobs.Store(ctx, id, br, size, mimeType); err != nil {
		logCtx.Error("Failed to store blob", "error", err)
		return nil, fmt.Errorf("failed to store document %s: %w", id, err)
	}

	doc := &models.DocumentRecord{
		ID:         id,
		Filename:   filename,
		Filesize:   size,
		MimeType:   mimeType,
		ObjectKey:  id,
		UploadDate: r.now().UTC(),
	}
	if err := r.records.Save(ctx, doc); err != nil {
		logCtx.Error("Failed to persist record after storing blob", "error", err)
		return nil, fmt.Errorf("failed to save document %s: %w", id, err)
	}

	payload, err := json.Marshal(models.ProcessingRequest{DocumentID: id, Filename: filename})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal processing request: %w", err)
	}
	if err := r.requests.Publish(ctx, payload); err != nil {
		logCtx.Error("Failed to publish processing request; document stays unprocessed", "error", err)
		return nil, fmt.Errorf("failed to request processing for %s: %w", id, err)
	}

	logCtx.Info("Upload complete; processing requested.")
	return doc, nil
}

// Rename normalizes newName to a .pdf name, updates the index best-effort and
// then the stored record.
func (r *Registry) Rename(ctx context.Context, id, newName string) (*models.DocumentRecord, error) {
	logCtx := r.logger.With("documentId", id, "newName", newName)
	logCtx.Info("Rename requested.")

	if strings.TrimSpace(newName) == "" {
		return nil, fmt.Errorf("new name must not be blank: %w", models.ErrInvalidInput)
	}
	normalized := NormalizePDFName(newName)

	r.index.UpdateFilename(ctx, id, normalized)

	doc, err := r.records.FindByID(ctx, id)
	if err != nil {
		logCtx.Warn("Rename target not found", "error", err)
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	doc.Filename = normalized
	if err := r.records.Save(ctx, doc); err != nil {
		logCtx.Error("Failed to save renamed record", "error", err)
		return nil, fmt.Errorf("failed to save document %s: %w", id, err)
	}

	logCtx.Info("Rename complete.", "filename", normalized)
	return doc, nil
}

// Bytes returns the stored content of a document.
func (r *Registry) Bytes(ctx context.Context, id string) ([]byte, error) {
	data, ok := r.blobs.Load(ctx, id)
	if !ok {
		r.logger.Warn("Blob not found", "documentId", id)
		return nil, fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	r.logger.Info("Blob loaded.", "documentId", id, "bytes", len(data))
	return data, nil
}

// Delete removes the blob, the record and the index entry. Each step runs
// regardless of the others; a missing entry in any store is not an error.
func (r *Registry) Delete(ctx context.Context, id string) error {
	logCtx := r.logger.With("documentId", id)
	logCtx.Info("Delete requested.")

	var errs []error
	if err := r.blobs.Delete(ctx, id); err != nil {
		logCtx.Error("Failed to delete blob", "error", err)
		errs = append(errs, fmt.Errorf("failed to delete blob %s: %w", id, err))
	}
	if err := r.records.Delete(ctx, id); err != nil {
		logCtx.Error("Failed to delete record", "error", err)
		errs = append(errs, fmt.Errorf("failed to delete record %s: %w", id, err))
	}
	r.index.Delete(ctx, id)

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logCtx.Info("Delete complete.")
	return nil
}

// Get returns the record for id.
func (r *Registry) Get(ctx context.Context, id string) (*models.DocumentRecord, error) {
	doc, err := r.records.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	return doc, nil
}

// Search returns the records matching query. Index hits whose record no
// longer exists are dropped.
func (r *Registry) Search(ctx context.Context, query string) ([]models.DocumentRecord, error) {
	if strings.TrimSpace(query) == "" {
		r.logger.Info("Empty search query; returning no results.")
		return []models.DocumentRecord{}, nil
	}

	ids := r.index.Search(ctx, query)
	results := make([]models.DocumentRecord, 0, len(ids))
	for _, id := range ids {
		doc, err := r.records.FindByID(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			r.logger.Debug("Dropping index hit without a record", "documentId", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve search hit %s: %w", id, err)
		}
		results = append(results, *doc)
	}

	r.logger.Info("Search complete.", "query", query, "hits", len(ids), "results", len(results))
	return results, nil
}

// List returns every stored record.
func (r *Registry) List(ctx context.Context) ([]models.DocumentRecord, error) {
	docs, err := r.records.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}
