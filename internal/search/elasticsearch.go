// Package search implements the free-text document index on Elasticsearch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxResults            = 50
)

// indexMapping is applied when EnsureIndex creates the index.
const indexMapping = `{
  "mappings": {
    "properties": {
      "documentId":    {"type": "keyword"},
      "filename":      {"type": "text"},
      "ocrText":       {"type": "text"},
      "@timestamp":    {"type": "date"},
      "last_modified": {"type": "date"}
    }
  }
}`

type document struct {
	DocumentID string    `json:"documentId"`
	Filename   string    `json:"filename"`
	OCRText    string    `json:"ocrText"`
	Timestamp  time.Time `json:"@timestamp"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

// Elasticsearch stores one index document per document id.
type Elasticsearch struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Elasticsearch index.
type Option func(*Elasticsearch)

// WithRequestTimeout bounds each request to Elasticsearch.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Elasticsearch) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Elasticsearch) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewClient creates an Elasticsearch client for the given addresses.
// Empty credentials disable basic auth.
func NewClient(addresses []string, username, password string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return client, nil
}

// NewElasticsearch returns an index adapter writing to the named index.
func NewElasticsearch(client *elasticsearch.Client, index string, opts ...Option) *Elasticsearch {
	e := &Elasticsearch{
		client:  client,
		index:   index,
		timeout: defaultRequestTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "search", "index", index)
	return e
}

// EnsureIndex creates the index with its mapping if it does not exist.
func (e *Elasticsearch) EnsureIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", e.index, err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to check index %s: status %d", e.index, res.StatusCode)
	}

	res, err = e.client.Indices.Create(e.index,
		e.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", e.index, err)
	}
	defer drain(res)
	if res.IsError() {
		msg := res.String()
		if res.StatusCode == http.StatusBadRequest && strings.Contains(msg, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("failed to create index %s: %s", e.index, msg)
	}
	e.logger.Info("Index created.")
	return nil
}

// Index writes or replaces the index document for id.
func (e *Elasticsearch) Index(ctx context.Context, id, filename, text string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(document{DocumentID: id, Filename: filename, OCRText: text, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal index document: %w", err)
	}
	res, err := e.client.Index(e.index, bytes.NewReader(body),
		e.client.Index.WithDocumentID(id),
		e.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index document %s: %w", id, err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("failed to index document %s: %s", id, res.String())
	}
	e.logger.Info("Document indexed.", "documentId", id, "textLength", len(text))
	return nil
}

// UpdateFilename changes the filename of an indexed document. Failures,
// including a missing document, are logged only.
func (e *Elasticsearch) UpdateFilename(ctx context.Context, id, filename string) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	logCtx := e.logger.With("documentId", id, "filename", filename)

	body, err := json.Marshal(map[string]any{
		"doc": map[string]any{
			"filename":      filename,
			"last_modified": time.Now().UTC(),
		},
	})
	if err != nil {
		logCtx.Error("Failed to marshal filename update", "error", err)
		return
	}
	res, err := e.client.Update(e.index, id, bytes.NewReader(body), e.client.Update.WithContext(ctx))
	if err != nil {
		logCtx.Error("Failed to update filename in index", "error", err)
		return
	}
	defer drain(res)
	if res.IsError() {
		logCtx.Warn("Index rejected filename update", "status", res.StatusCode)
		return
	}
	logCtx.Info("Index filename updated.")
}

// Delete removes the index document for id. A missing document is not an
// error; other failures are logged only.
func (e *Elasticsearch) Delete(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	logCtx := e.logger.With("documentId", id)

	res, err := e.client.Delete(e.index, id, e.client.Delete.WithContext(ctx))
	if err != nil {
		logCtx.Error("Failed to delete from index", "error", err)
		return
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		logCtx.Debug("Document was not indexed.")
		return
	}
	if res.IsError() {
		logCtx.Warn("Index rejected delete", "status", res.StatusCode)
		return
	}
	logCtx.Info("Document removed from index.")
}

// Search returns the ids of up to 50 documents whose filename or text
// fuzzily match query. Failures yield no results.
func (e *Elasticsearch) Search(ctx context.Context, query string) []string {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	logCtx := e.logger.With("query", query)

	body, err := json.Marshal(map[string]any{
		"size": maxResults,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     query,
				"fields":    []string{"filename", "ocrText"},
				"fuzziness": "AUTO",
			},
		},
	})
	if err != nil {
		logCtx.Error("Failed to marshal search query", "error", err)
		return nil
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
		e.client.Search.WithIgnoreUnavailable(true),
		e.client.Search.WithAllowNoIndices(true),
	)
	if err != nil {
		logCtx.Error("Search request failed", "error", err)
		return nil
	}
	defer drain(res)
	if res.IsError() {
		logCtx.Warn("Search returned an error", "status", res.StatusCode)
		return nil
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		logCtx.Error("Failed to decode search response", "error", err)
		return nil
	}
	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		ids = append(ids, hit.ID)
	}
	logCtx.Info("Search complete.", "hits", len(ids))
	return ids
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
