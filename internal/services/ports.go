package services

import (
	"context"
	"io"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// BlobStore holds the raw bytes of uploaded documents, keyed by document id.
type BlobStore interface {
	Store(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Load(ctx context.Context, key string) ([]byte, bool)
	Delete(ctx context.Context, key string) error
}

// RecordStore persists document records. FindByID returns models.ErrNotFound
// for an unknown id and Delete treats an unknown id as success.
type RecordStore interface {
	Save(ctx context.Context, doc *models.DocumentRecord) error
	FindByID(ctx context.Context, id string) (*models.DocumentRecord, error)
	FindAll(ctx context.Context) ([]models.DocumentRecord, error)
	Delete(ctx context.Context, id string) error
}

// SearchIndex is the free-text index over filename and extracted text.
// Only Index reports failures; the other operations log and carry on.
type SearchIndex interface {
	Index(ctx context.Context, id, filename, text string) error
	UpdateFilename(ctx context.Context, id, filename string)
	Delete(ctx context.Context, id string)
	Search(ctx context.Context, query string) []string
}

// TextExtractor turns a local image or PDF into text.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Publisher sends a message on one channel.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}
