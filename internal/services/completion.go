package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// CompletionConsumer applies CompletionEvents to document records.
type CompletionConsumer struct {
	records RecordStore
	logger  *slog.Logger
}

// CompletionOption configures a CompletionConsumer.
type CompletionOption func(*CompletionConsumer)

// WithCompletionLogger sets the logger. Default is slog.Default().
func WithCompletionLogger(logger *slog.Logger) CompletionOption {
	return func(c *CompletionConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCompletionConsumer creates a CompletionConsumer.
func NewCompletionConsumer(records RecordStore, opts ...CompletionOption) *CompletionConsumer {
	c := &CompletionConsumer{records: records, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "completion-consumer")
	return c
}

// Handle marks the referenced record as processed and stores its text.
// Failures are logged; the message is never retried.
func (c *CompletionConsumer) Handle(ctx context.Context, payload []byte) {
	var event models.CompletionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Error("Dropping malformed completion event", "error", err, "payload", string(payload))
		return
	}
	if strings.TrimSpace(event.DocumentID) == "" {
		c.logger.Error("Dropping completion event without documentId", "payload", string(payload))
		return
	}

	logCtx := c.logger.With("documentId", event.DocumentID)

	doc, err := c.records.FindByID(ctx, event.DocumentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logCtx.Warn("No record for completion event; dropping")
			return
		}
		logCtx.Error("Failed to look up record", "error", err)
		return
	}

	doc.OCRDone = true
	doc.OCRText = event.OCRText
	if err := c.records.Save(ctx, doc); err != nil {
		logCtx.Error("Failed to save OCR result", "error", err)
		return
	}
	logCtx.Info("Record updated with OCR result.", "textLength", len(event.OCRText), "processedAt", event.ProcessedAt)
}
