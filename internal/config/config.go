// Package config loads the pipeline configuration from defaults, an optional
// TOML file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
)

// Supported backend drivers.
const (
	BlobGCS = "gcs"
	BlobS3  = "s3"

	RecordsFirestore = "firestore"
	RecordsSQLite    = "sqlite"

	QueuePubSub = "pubsub"
	QueueLocal  = "local"
)

// Config is the complete configuration of every pipeline process.
type Config struct {
	ProjectID string        `toml:"project_id"`
	LogLevel  string        `toml:"log_level"`
	Blob      BlobConfig    `toml:"blob"`
	Records   RecordsConfig `toml:"records"`
	Search    SearchConfig  `toml:"search"`
	Queue     QueueConfig   `toml:"queue"`
	OCR       OCRConfig     `toml:"ocr"`
	Worker    WorkerConfig  `toml:"worker"`
}

// BlobConfig selects and configures the object store.
type BlobConfig struct {
	Driver string `toml:"driver"`
	Bucket string `toml:"bucket"`
	// Endpoint overrides the service endpoint (GCS emulator, MinIO).
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// RecordsConfig selects and configures the document record store.
type RecordsConfig struct {
	Driver     string `toml:"driver"`
	Collection string `toml:"collection"`
	SQLitePath string `toml:"sqlite_path"`
}

// SearchConfig configures the Elasticsearch index.
type SearchConfig struct {
	Addresses      []string `toml:"addresses"`
	Index          string   `toml:"index"`
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// QueueConfig configures the processing and completion channels.
type QueueConfig struct {
	Driver                 string `toml:"driver"`
	Exchange               string `toml:"exchange"`
	ProcessingTopic        string `toml:"processing_topic"`
	ProcessingSubscription string `toml:"processing_subscription"`
	ProcessingRoutingKey   string `toml:"processing_routing_key"`
	CompletionTopic        string `toml:"completion_topic"`
	CompletionSubscription string `toml:"completion_subscription"`
	CompletionRoutingKey   string `toml:"completion_routing_key"`
	ReceiveGoroutines      int    `toml:"receive_goroutines"`
	MaxOutstanding         int    `toml:"max_outstanding"`
	LocalPoolSize          int    `toml:"local_pool_size"`
}

// OCRConfig configures text extraction.
type OCRConfig struct {
	Languages       []string `toml:"languages"`
	TessdataPrefix  string   `toml:"tessdata_prefix"`
	DPI             int      `toml:"dpi"`
	PdftoppmPath    string   `toml:"pdftoppm_path"`
	PageConcurrency int      `toml:"page_concurrency"`
	Timeout         Duration `toml:"timeout"`
}

// WorkerConfig configures the OCR worker.
type WorkerConfig struct {
	TempDir        string   `toml:"temp_dir"`
	ProcessTimeout Duration `toml:"process_timeout"`
}

// Default returns the configuration used when nothing else is specified.
// Channel names match the existing RabbitMQ deployment.
func Default() Config {
	return Config{
		LogLevel: "info",
		Blob: BlobConfig{
			Driver: BlobGCS,
			Bucket: "documents",
			Region: "us-east-1",
		},
		Records: RecordsConfig{
			Driver:     RecordsFirestore,
			Collection: "documents",
			SQLitePath: "documents.db",
		},
		Search: SearchConfig{
			Addresses:      []string{"http://localhost:9200"},
			Index:          "documents",
			RequestTimeout: Duration{10 * time.Second},
		},
		Queue: QueueConfig{
			Driver:                 QueuePubSub,
			Exchange:               "document_exchange",
			ProcessingTopic:        "document_processing_queue",
			ProcessingSubscription: "document_processing_queue-sub",
			ProcessingRoutingKey:   "document_routing_key",
			CompletionTopic:        "document_result_queue",
			CompletionSubscription: "document_result_queue-sub",
			CompletionRoutingKey:   "document_result_key",
			ReceiveGoroutines:      1,
			MaxOutstanding:         4,
			LocalPoolSize:          4,
		},
		OCR: OCRConfig{
			Languages:       []string{"eng"},
			DPI:             300,
			PdftoppmPath:    "pdftoppm",
			PageConcurrency: 1,
			Timeout:         Duration{5 * time.Minute},
		},
		Worker: WorkerConfig{
			TempDir:        os.TempDir(),
			ProcessTimeout: Duration{10 * time.Minute},
		},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when path
// is empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.LogLevel = gcp.GetEnv("LOG_LEVEL", c.LogLevel)

	c.Blob.Driver = gcp.GetEnv("BLOB_DRIVER", c.Blob.Driver)
	c.Blob.Bucket = gcp.GetEnv("BLOB_BUCKET", c.Blob.Bucket)
	c.Blob.Endpoint = gcp.GetEnv("BLOB_ENDPOINT", c.Blob.Endpoint)
	c.Blob.Region = gcp.GetEnv("BLOB_REGION", c.Blob.Region)
	c.Blob.AccessKey = gcp.GetEnv("BLOB_ACCESS_KEY", c.Blob.AccessKey)
	c.Blob.SecretKey = gcp.GetEnv("BLOB_SECRET_KEY", c.Blob.SecretKey)

	c.Records.Driver = gcp.GetEnv("RECORDS_DRIVER", c.Records.Driver)
	c.Records.Collection = gcp.GetEnv("FIRESTORE_COLLECTION", c.Records.Collection)
	c.Records.SQLitePath = gcp.GetEnv("SQLITE_PATH", c.Records.SQLitePath)

	if urls := gcp.GetEnv("ELASTICSEARCH_URLS", ""); urls != "" {
		c.Search.Addresses = splitList(urls)
	}
	c.Search.Index = gcp.GetEnv("ELASTICSEARCH_INDEX", c.Search.Index)
	c.Search.Username = gcp.GetEnv("ELASTICSEARCH_USERNAME", c.Search.Username)
	c.Search.Password = gcp.GetEnv("ELASTICSEARCH_PASSWORD", c.Search.Password)

	c.Queue.Driver = gcp.GetEnv("QUEUE_DRIVER", c.Queue.Driver)
	c.Queue.ProcessingTopic = gcp.GetEnv("PROCESSING_TOPIC", c.Queue.ProcessingTopic)
	c.Queue.ProcessingSubscription = gcp.GetEnv("PROCESSING_SUBSCRIPTION", c.Queue.ProcessingSubscription)
	c.Queue.CompletionTopic = gcp.GetEnv("COMPLETION_TOPIC", c.Queue.CompletionTopic)
	c.Queue.CompletionSubscription = gcp.GetEnv("COMPLETION_SUBSCRIPTION", c.Queue.CompletionSubscription)

	if langs := gcp.GetEnv("TESSERACT_LANGUAGE", ""); langs != "" {
		c.OCR.Languages = splitList(langs)
	}
	c.OCR.TessdataPrefix = gcp.GetEnv("TESSERACT_DATA_PATH", c.OCR.TessdataPrefix)
	c.OCR.PdftoppmPath = gcp.GetEnv("PDFTOPPM_PATH", c.OCR.PdftoppmPath)
	if dpi := gcp.GetEnv("TESSERACT_DPI", ""); dpi != "" {
		n, err := strconv.Atoi(dpi)
		if err != nil {
			return fmt.Errorf("TESSERACT_DPI must be an integer: %w", err)
		}
		c.OCR.DPI = n
	}

	c.Worker.TempDir = gcp.GetEnv("WORKER_TEMP_DIR", c.Worker.TempDir)
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Blob.Driver {
	case BlobGCS, BlobS3:
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Blob.Bucket == "" {
		errs = append(errs, errors.New("blob bucket must be set"))
	}

	switch c.Records.Driver {
	case RecordsFirestore:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("project_id must be set for the firestore record store"))
		}
	case RecordsSQLite:
		if c.Records.SQLitePath == "" {
			errs = append(errs, errors.New("records sqlite_path must be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown records driver %q", c.Records.Driver))
	}

	if len(c.Search.Addresses) == 0 {
		errs = append(errs, errors.New("at least one elasticsearch address must be set"))
	}
	if c.Search.Index == "" {
		errs = append(errs, errors.New("search index must be set"))
	}

	switch c.Queue.Driver {
	case QueuePubSub:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("project_id must be set for the pubsub queue"))
		}
	case QueueLocal:
	default:
		errs = append(errs, fmt.Errorf("unknown queue driver %q", c.Queue.Driver))
	}
	if c.Queue.ProcessingTopic == "" || c.Queue.CompletionTopic == "" {
		errs = append(errs, errors.New("processing and completion topics must be set"))
	}

	if c.OCR.DPI <= 0 {
		errs = append(errs, fmt.Errorf("ocr dpi must be positive, got %d", c.OCR.DPI))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Duration is a time.Duration written as a Go duration string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
