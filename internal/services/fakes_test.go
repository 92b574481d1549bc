package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

type fakeBlobs struct {
	mu       sync.Mutex
	objects  map[string][]byte
	storeErr error
	openErr  error
	calls    int
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: map[string][]byte{}} }

func (f *fakeBlobs) Store(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.storeErr != nil {
		return f.storeErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, models.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Load(_ context.Context, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data, ok := f.objects[key]
	return data, ok
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecords struct {
	mu      sync.Mutex
	docs    map[string]models.DocumentRecord
	saveErr error
	findErr error
	finds   int
	saves   int
	deletes int
}

func newFakeRecords() *fakeRecords { return &fakeRecords{docs: map[string]models.DocumentRecord{}} }

func (f *fakeRecords) Save(_ context.Context, doc *models.DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.docs[doc.ID] = *doc
	return nil
}

func (f *fakeRecords) FindByID(_ context.Context, id string) (*models.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if f.findErr != nil {
		return nil, f.findErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, models.ErrNotFound)
	}
	return &doc, nil
}

func (f *fakeRecords) FindAll(_ context.Context) ([]models.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DocumentRecord, 0, len(f.docs))
	for _, doc := range f.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadDate.Before(out[j].UploadDate) })
	return out, nil
}

func (f *fakeRecords) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.docs, id)
	return nil
}

func (f *fakeRecords) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds + f.saves + f.deletes
}

type indexEntry struct {
	filename string
	text     string
}

// fakeIndex matches a query against filename and text by substring.
type fakeIndex struct {
	mu       sync.Mutex
	entries  map[string]indexEntry
	indexErr error
	calls    int
	// extra ids returned by every search, for dangling-hit tests
	dangling []string
}

func newFakeIndex() *fakeIndex { return &fakeIndex{entries: map[string]indexEntry{}} }

func (f *fakeIndex) Index(_ context.Context, id, filename, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.indexErr != nil {
		return f.indexErr
	}
	f.entries[id] = indexEntry{filename: filename, text: text}
	return nil
}

func (f *fakeIndex) UpdateFilename(_ context.Context, id, filename string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if e, ok := f.entries[id]; ok {
		e.filename = filename
		f.entries[id] = e
	}
}

func (f *fakeIndex) Delete(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	delete(f.entries, id)
}

func (f *fakeIndex) Search(_ context.Context, query string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	q := strings.ToLower(query)
	var ids []string
	for id, e := range f.entries {
		if strings.Contains(strings.ToLower(e.filename), q) || strings.Contains(strings.ToLower(e.text), q) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return append(ids, f.dangling...)
}

func (f *fakeIndex) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, append([]byte(nil), payload...))
	return nil
}

func (f *fakePublisher) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.messages...)
}

type fakeExtractor struct {
	text  string
	err   error
	paths []string
	// seen holds the file content at extraction time
	seen [][]byte
}

func (f *fakeExtractor) ExtractText(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	data, _ := os.ReadFile(path)
	f.seen = append(f.seen, data)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}
