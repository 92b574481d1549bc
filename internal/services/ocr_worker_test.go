package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

type workerFixture struct {
	blobs       *fakeBlobs
	extractor   *fakeExtractor
	index       *fakeIndex
	completions *fakePublisher
	tempDir     string
	worker      *OCRWorker
}

var processedAt = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	f := &workerFixture{
		blobs:       newFakeBlobs(),
		extractor:   &fakeExtractor{text: "recognized text"},
		index:       newFakeIndex(),
		completions: &fakePublisher{},
		tempDir:     t.TempDir(),
	}
	f.worker = NewOCRWorker(f.blobs, f.extractor, f.index, f.completions,
		WithTempDir(f.tempDir),
		WithWorkerClock(func() time.Time { return processedAt }),
	)
	return f
}

func (f *workerFixture) request(t *testing.T, id, filename string) []byte {
	t.Helper()
	payload, err := json.Marshal(models.ProcessingRequest{DocumentID: id, Filename: filename})
	require.NoError(t, err)
	return payload
}

func (f *workerFixture) tempFiles(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	return entries
}

func TestOCRWorkerProcess(t *testing.T) {
	f := newWorkerFixture(t)
	f.blobs.objects["doc-1"] = []byte("%PDF-1.4 pages")

	f.worker.Process(context.Background(), f.request(t, "doc-1", "scan.pdf"))

	require.Len(t, f.extractor.seen, 1)
	assert.Equal(t, []byte("%PDF-1.4 pages"), f.extractor.seen[0], "extractor sees the downloaded blob")
	assert.Contains(t, f.extractor.paths[0], "ocr-")

	assert.Equal(t, indexEntry{filename: "scan.pdf", text: "recognized text"}, f.index.entries["doc-1"])

	sent := f.completions.sent()
	require.Len(t, sent, 1)
	var event models.CompletionEvent
	require.NoError(t, json.Unmarshal(sent[0], &event))
	assert.Equal(t, "doc-1", event.DocumentID)
	assert.Equal(t, "recognized text", event.OCRText)
	assert.True(t, processedAt.Equal(event.ProcessedAt))

	assert.Empty(t, f.tempFiles(t), "temp file is removed after processing")
	assert.NoError(t, f.worker.Close())
}

func TestOCRWorkerProcessReplay(t *testing.T) {
	f := newWorkerFixture(t)
	f.blobs.objects["doc-1"] = []byte("pdf")

	payload := f.request(t, "doc-1", "scan.pdf")
	f.worker.Process(context.Background(), payload)
	f.worker.Process(context.Background(), payload)

	assert.Len(t, f.index.entries, 1)
	assert.Len(t, f.completions.sent(), 2)
}

func TestOCRWorkerDropsMalformedMessages(t *testing.T) {
	payloads := map[string][]byte{
		"not json":         []byte("{not json"),
		"missing id":       []byte(`{"filename":"a.pdf"}`),
		"missing filename": []byte(`{"documentId":"doc-1"}`),
		"blank id":         []byte(`{"documentId":"  ","filename":"a.pdf"}`),
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			f := newWorkerFixture(t)
			f.worker.Process(context.Background(), payload)

			assert.Zero(t, f.blobs.callCount())
			assert.Empty(t, f.extractor.paths)
			assert.Zero(t, f.index.callCount())
			assert.Empty(t, f.completions.sent())
			assert.Empty(t, f.tempFiles(t))
		})
	}
}

func TestOCRWorkerFailures(t *testing.T) {
	t.Run("missing blob", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.worker.Process(context.Background(), f.request(t, "doc-1", "scan.pdf"))

		assert.Empty(t, f.extractor.paths)
		assert.Empty(t, f.completions.sent())
		assert.Empty(t, f.tempFiles(t))
	})

	t.Run("empty document", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.blobs.objects["doc-1"] = []byte("pdf")
		f.extractor.err = models.ErrEmptyDocument

		f.worker.Process(context.Background(), f.request(t, "doc-1", "scan.pdf"))

		assert.Zero(t, f.index.callCount())
		assert.Empty(t, f.completions.sent())
		assert.Empty(t, f.tempFiles(t), "temp file is removed on extraction failure")
	})

	t.Run("index failure stops before completion", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.blobs.objects["doc-1"] = []byte("pdf")
		f.index.indexErr = errors.New("index unavailable")

		f.worker.Process(context.Background(), f.request(t, "doc-1", "scan.pdf"))

		assert.Empty(t, f.completions.sent())
		assert.Empty(t, f.tempFiles(t))
	})

	t.Run("publish failure", func(t *testing.T) {
		f := newWorkerFixture(t)
		f.blobs.objects["doc-1"] = []byte("pdf")
		f.completions.err = errors.New("broker down")

		f.worker.Process(context.Background(), f.request(t, "doc-1", "scan.pdf"))

		assert.Contains(t, f.index.entries, "doc-1")
		assert.Empty(t, f.tempFiles(t))
	})
}

func TestOCRWorkerClosePending(t *testing.T) {
	f := newWorkerFixture(t)
	path := f.tempDir + "/ocr-leftover.pdf"
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	f.worker.pending = append(f.worker.pending, path, f.tempDir+"/already-gone.pdf")
	require.NoError(t, f.worker.Close())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, f.worker.pending)
}
