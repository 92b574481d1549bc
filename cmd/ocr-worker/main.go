package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/ocrdocumentflow/internal/app"
	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocr/tesseract"
	"github.com/Lllllllleong/ocrdocumentflow/internal/queue"
)

var (
	pipeline *app.App
	once     sync.Once
	initErr  error
)

func init() {
	logger := app.NewLogger(os.Stdout, os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	functions.CloudEvent("ProcessDocument", processDocument)
}

// main is required by the Go Functions Framework.
func main() {}

// processDocument handles one Pub/Sub push of a processing request.
func processDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var cfg *config.Config
		cfg, initErr = config.Load(os.Getenv("CONFIG_PATH"))
		if initErr != nil {
			return
		}
		logger := slog.Default()
		pipeline, initErr = app.New(context.Background(), cfg, tesseract.NewExtractor(cfg.OCR, logger), logger)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	payload, err := queue.DecodePushEvent(e)
	if err != nil {
		// redelivery cannot fix a malformed envelope
		slog.Error("Failed to decode push event", "error", err, "eventId", e.ID())
		return nil
	}

	pipeline.Worker.Process(ctx, payload)
	return nil
}
