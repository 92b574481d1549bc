// Package app wires configuration, adapters, services and queue transport
// together for the command-line tool and the function entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/Lllllllleong/ocrdocumentflow/internal/blob"
	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
	"github.com/Lllllllleong/ocrdocumentflow/internal/queue"
	"github.com/Lllllllleong/ocrdocumentflow/internal/records"
	"github.com/Lllllllleong/ocrdocumentflow/internal/search"
	"github.com/Lllllllleong/ocrdocumentflow/internal/services"
)

const subscriptionAckDeadline = 10 * time.Minute

// Adapters are the driven ports the services run on.
type Adapters struct {
	Blobs     services.BlobStore
	Records   services.RecordStore
	Index     services.SearchIndex
	Extractor services.TextExtractor
}

// App holds the wired pipeline.
type App struct {
	Config      *config.Config
	Registry    *services.Registry
	Worker      *services.OCRWorker
	Completions *services.CompletionConsumer

	logger  *slog.Logger
	local   *queue.Local
	pubsub  *pubsub.Client
	closers []func() error
}

// NewLogger returns a JSON logger writing to w at the named level. Unknown
// levels fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// New builds every adapter named by cfg and wires the services on them.
// The text extractor is supplied by the caller.
func New(ctx context.Context, cfg *config.Config, extractor services.TextExtractor, logger *slog.Logger) (*App, error) {
	var closers []func() error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	var ad Adapters

	switch cfg.Blob.Driver {
	case config.BlobS3:
		client, err := blob.NewS3Client(ctx, blob.S3Options{
			Region:       cfg.Blob.Region,
			Endpoint:     cfg.Blob.Endpoint,
			AccessKey:    cfg.Blob.AccessKey,
			SecretKey:    cfg.Blob.SecretKey,
			UsePathStyle: cfg.Blob.UsePathStyle,
		})
		if err != nil {
			return fail(err)
		}
		ad.Blobs = blob.NewS3(client, cfg.Blob.Bucket, cfg.Blob.Region, logger)
	default:
		client, err := gcp.NewStorageClient(ctx, cfg.Blob.Endpoint)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client.Close)
		ad.Blobs = blob.NewGCS(client, cfg.Blob.Bucket, cfg.ProjectID, logger)
	}

	switch cfg.Records.Driver {
	case config.RecordsSQLite:
		store, err := records.NewSQLite(cfg.Records.SQLitePath)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, store.Close)
		ad.Records = store
	default:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client.Close)
		ad.Records = records.NewFirestore(client, cfg.Records.Collection)
	}

	esClient, err := search.NewClient(cfg.Search.Addresses, cfg.Search.Username, cfg.Search.Password)
	if err != nil {
		return fail(err)
	}
	index := search.NewElasticsearch(esClient, cfg.Search.Index,
		search.WithRequestTimeout(cfg.Search.RequestTimeout.Duration),
		search.WithLogger(logger),
	)
	if err := index.EnsureIndex(ctx); err != nil {
		logger.Warn("Could not ensure search index; continuing", "error", err)
	}
	ad.Index = index

	ad.Extractor = extractor

	a, err := Assemble(ctx, cfg, ad, logger)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closers...)
	return a, nil
}

// Assemble wires the services on ad and connects them through the queue
// transport selected by cfg.Queue.Driver.
func Assemble(ctx context.Context, cfg *config.Config, ad Adapters, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	var requests, completions services.Publisher
	switch cfg.Queue.Driver {
	case config.QueueLocal:
		local, err := queue.NewLocal(cfg.Queue.LocalPoolSize, logger)
		if err != nil {
			return nil, err
		}
		a.local = local
		requests = local.Publisher(cfg.Queue.ProcessingTopic)
		completions = local.Publisher(cfg.Queue.CompletionTopic)
	default:
		client, err := gcp.NewPubSubClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		a.pubsub = client
		a.closers = append(a.closers, client.Close)
		if err := ensureChannels(ctx, client, cfg.Queue); err != nil {
			logger.Warn("Could not ensure Pub/Sub topics and subscriptions; continuing", "error", err)
		}
		reqPub := queue.NewPubSubPublisher(client, cfg.Queue.ProcessingTopic, cfg.Queue.Exchange, cfg.Queue.ProcessingRoutingKey, logger)
		donePub := queue.NewPubSubPublisher(client, cfg.Queue.CompletionTopic, cfg.Queue.Exchange, cfg.Queue.CompletionRoutingKey, logger)
		a.closers = append(a.closers, stopper(reqPub), stopper(donePub))
		requests, completions = reqPub, donePub
	}

	a.Registry = services.NewRegistry(ad.Blobs, ad.Records, ad.Index, requests, services.WithRegistryLogger(logger))
	a.Worker = services.NewOCRWorker(ad.Blobs, ad.Extractor, ad.Index, completions,
		services.WithTempDir(cfg.Worker.TempDir),
		services.WithProcessTimeout(cfg.Worker.ProcessTimeout.Duration),
		services.WithWorkerLogger(logger),
	)
	a.Completions = services.NewCompletionConsumer(ad.Records, services.WithCompletionLogger(logger))

	if a.local != nil {
		a.local.Subscribe(cfg.Queue.ProcessingTopic, a.Worker.Process)
		a.local.Subscribe(cfg.Queue.CompletionTopic, a.Completions.Handle)
	}
	return a, nil
}

func stopper(p *queue.PubSubPublisher) func() error {
	return func() error {
		p.Close()
		return nil
	}
}

func ensureChannels(ctx context.Context, client *pubsub.Client, q config.QueueConfig) error {
	processing, err := queue.EnsureTopic(ctx, client, q.ProcessingTopic)
	if err != nil {
		return err
	}
	completion, err := queue.EnsureTopic(ctx, client, q.CompletionTopic)
	if err != nil {
		return err
	}
	if err := queue.EnsureSubscription(ctx, client, q.ProcessingSubscription, processing, subscriptionAckDeadline); err != nil {
		return err
	}
	return queue.EnsureSubscription(ctx, client, q.CompletionSubscription, completion, subscriptionAckDeadline)
}

// RunWorker consumes processing requests until ctx is cancelled.
func (a *App) RunWorker(ctx context.Context) error {
	return a.run(ctx, a.Config.Queue.ProcessingSubscription, a.Worker.Process)
}

// RunCompletionConsumer consumes completion events until ctx is cancelled.
func (a *App) RunCompletionConsumer(ctx context.Context) error {
	return a.run(ctx, a.Config.Queue.CompletionSubscription, a.Completions.Handle)
}

func (a *App) run(ctx context.Context, subscription string, h queue.Handler) error {
	if a.pubsub == nil {
		// local handlers are already subscribed
		a.logger.Info("Local queue: handling messages in process until interrupted.")
		<-ctx.Done()
		return nil
	}
	consumer := queue.NewPubSubConsumer(a.pubsub, subscription,
		a.Config.Queue.ReceiveGoroutines, a.Config.Queue.MaxOutstanding, a.logger)
	return consumer.Run(ctx, h)
}

// Close drains in-process messages, removes leftover temp files and closes
// every client, in that order.
func (a *App) Close() error {
	var errs []error
	if a.local != nil {
		a.local.Close()
	}
	if a.Worker != nil {
		if err := a.Worker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close app: %w", err)
	}
	return nil
}
