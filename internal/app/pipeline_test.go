package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/Lllllllleong/ocrdocumentflow/internal/records"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) Store(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, models.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobs) Load(ctx context.Context, key string) ([]byte, bool) {
	rc, err := m.Open(ctx, key)
	if err != nil {
		return nil, false
	}
	data, _ := io.ReadAll(rc)
	return data, true
}

func (m *memBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type memIndex struct {
	mu   sync.Mutex
	docs map[string]string // id -> filename + " " + text
}

func (m *memIndex) Index(_ context.Context, id, filename, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = filename + " " + text
	return nil
}

func (m *memIndex) UpdateFilename(context.Context, string, string) {}

func (m *memIndex) Delete(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
}

func (m *memIndex) Search(_ context.Context, query string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, body := range m.docs {
		if strings.Contains(body, query) {
			ids = append(ids, id)
		}
	}
	return ids
}

// contentExtractor returns the file content as its text.
type contentExtractor struct{}

func (contentExtractor) ExtractText(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "text of " + string(data), nil
}

func TestLocalPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Queue.Driver = config.QueueLocal
	cfg.Records.Driver = config.RecordsSQLite
	cfg.Worker.TempDir = filepath.Join(dir, "tmp")
	require.NoError(t, os.MkdirAll(cfg.Worker.TempDir, 0o700))

	store, err := records.NewSQLite(filepath.Join(dir, "documents.db"))
	require.NoError(t, err)
	defer store.Close()

	index := &memIndex{docs: map[string]string{}}
	a, err := Assemble(ctx, &cfg, Adapters{
		Blobs:     &memBlobs{objects: map[string][]byte{}},
		Records:   store,
		Index:     index,
		Extractor: contentExtractor{},
	}, NewLogger(io.Discard, "error"))
	require.NoError(t, err)

	doc, err := a.Registry.Upload(ctx, strings.NewReader("invoice 42"), "scan.doc", 10, "application/pdf")
	require.NoError(t, err)

	// processing request, then completion event
	a.local.Drain()

	got, err := a.Registry.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.OCRDone)
	assert.Equal(t, "text of invoice 42", got.OCRText)
	assert.Equal(t, "scan.doc", got.Filename)

	results, err := a.Registry.Search(ctx, "invoice")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, doc.ID, results[0].ID)

	renamed, err := a.Registry.Rename(ctx, doc.ID, "final")
	require.NoError(t, err)
	assert.Equal(t, "final.pdf", renamed.Filename)

	require.NoError(t, a.Registry.Delete(ctx, doc.ID))
	_, err = a.Registry.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	entries, err := os.ReadDir(cfg.Worker.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "worker temp files are removed")

	require.NoError(t, a.Close())
}

func TestNewLogger(t *testing.T) {
	assert.True(t, NewLogger(io.Discard, "debug").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewLogger(io.Discard, "warn").Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, NewLogger(io.Discard, "nonsense").Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, NewLogger(io.Discard, "nonsense").Enabled(context.Background(), slog.LevelDebug))
}
