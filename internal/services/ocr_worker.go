package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

const defaultProcessTimeout = 10 * time.Minute

// OCRWorker turns ProcessingRequests into indexed text and CompletionEvents.
// Every failure ends processing of the current message only.
type OCRWorker struct {
	blobs       BlobStore
	extractor   TextExtractor
	index       SearchIndex
	completions Publisher
	tempDir     string
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	pending []string // temp files that could not be removed yet
}

// WorkerOption configures an OCRWorker.
type WorkerOption func(*OCRWorker)

// WithTempDir sets the directory for downloaded documents. Default is os.TempDir().
func WithTempDir(dir string) WorkerOption {
	return func(w *OCRWorker) { w.tempDir = dir }
}

// WithProcessTimeout bounds the handling of a single message. Zero disables the bound.
func WithProcessTimeout(d time.Duration) WorkerOption {
	return func(w *OCRWorker) { w.timeout = d }
}

// WithWorkerLogger sets the logger. Default is slog.Default().
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *OCRWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWorkerClock overrides the clock used for processedAt.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *OCRWorker) { w.now = now }
}

// NewOCRWorker creates an OCRWorker.
func NewOCRWorker(blobs BlobStore, extractor TextExtractor, index SearchIndex, completions Publisher, opts ...WorkerOption) *OCRWorker {
	w := &OCRWorker{
		blobs:       blobs,
		extractor:   extractor,
		index:       index,
		completions: completions,
		tempDir:     os.TempDir(),
		timeout:     defaultProcessTimeout,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "ocr-worker")
	return w
}

// Process handles one ProcessingRequest payload. It never fails outward:
// malformed or failing messages are logged and dropped.
func (w *OCRWorker) Process(ctx context.Context, payload []byte) {
	var req models.ProcessingRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		w.logger.Error("Dropping malformed processing request", "error", err, "payload", string(payload))
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" || strings.TrimSpace(req.Filename) == "" {
		w.logger.Error("Dropping processing request without documentId or filename", "payload", string(payload))
		return
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	logCtx := w.logger.With("documentId", req.DocumentID, "filename", req.Filename)
	logCtx.Info("Processing document.")

	if err := w.run(ctx, logCtx, req); err != nil {
		logCtx.Error("Processing failed; message dropped", "error", err)
		return
	}
	logCtx.Info("Processing complete.")
}

func (w *OCRWorker) run(ctx context.Context, logCtx *slog.Logger, req models.ProcessingRequest) error {
	localPath, err := w.download(ctx, req.DocumentID)
	if localPath != "" {
		defer w.removeTemp(logCtx, localPath)
	}
	if err != nil {
		return err
	}
	logCtx.Info("Downloaded document.", "path", localPath)

	text, err := w.extractor.ExtractText(ctx, localPath)
	if err != nil {
		return fmt.Errorf("failed to extract text: %w", err)
	}
	logCtx.Info("Extracted text.", "textLength", len(text))

	if err := w.index.Index(ctx, req.DocumentID, req.Filename, text); err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	logCtx.Info("Indexed document.")

	payload, err := json.Marshal(models.CompletionEvent{
		DocumentID:  req.DocumentID,
		OCRText:     text,
		ProcessedAt: w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal completion event: %w", err)
	}
	if err := w.completions.Publish(ctx, payload); err != nil {
		return fmt.Errorf("failed to publish completion event: %w", err)
	}
	logCtx.Info("Published completion event.")
	return nil
}

// download streams the blob into a temp file named uniquely per message.
// The returned path is set whenever a file was created, even on error.
func (w *OCRWorker) download(ctx context.Context, documentID string) (string, error) {
	localFile, err := os.CreateTemp(w.tempDir, "ocr-"+uuid.New().String()+"-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer localFile.Close()

	src, err := w.blobs.Open(ctx, documentID)
	if err != nil {
		return localFile.Name(), fmt.Errorf("failed to open blob %s: %w", documentID, err)
	}
	defer src.Close()

	if _, err := io.Copy(localFile, src); err != nil {
		return localFile.Name(), fmt.Errorf("failed to copy blob to local file: %w", err)
	}
	if err := localFile.Close(); err != nil {
		return localFile.Name(), fmt.Errorf("failed to finalize local file: %w", err)
	}
	return localFile.Name(), nil
}

func (w *OCRWorker) removeTemp(logCtx *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logCtx.Warn("Could not delete temporary file; scheduling deletion on exit", "path", path, "error", err)
		w.mu.Lock()
		w.pending = append(w.pending, path)
		w.mu.Unlock()
		return
	}
	logCtx.Debug("Deleted temporary file.", "path", path)
}

// Close retries removal of temp files that could not be deleted after
// processing. Call it when the process shuts down.
func (w *OCRWorker) Close() error {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	var remaining int
	for _, path := range pending {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("Temporary file still could not be deleted", "path", path, "error", err)
			remaining++
		}
	}
	if remaining > 0 {
		return fmt.Errorf("%d temporary files could not be deleted", remaining)
	}
	return nil
}
