package blob

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// fakeS3 is a path-style, in-memory S3 endpoint.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	types   map[string]string
	creates int
	failPut bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: map[string]map[string][]byte{}, types: map[string]string{}}
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	objects, exists := f.buckets[bucket]

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			f.creates++
			f.buckets[bucket] = map[string][]byte{}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if !exists {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	switch r.Method {
	case http.MethodPut:
		if f.failPut {
			writeS3Error(w, http.StatusForbidden, "AccessDenied")
			return
		}
		body, err := readS3Body(r)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case http.MethodDelete:
		delete(objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// readS3Body returns the object bytes, decoding aws-chunked uploads.
func readS3Body(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		return raw, nil
	}
	var out bytes.Buffer
	br := bufio.NewReader(bytes.NewReader(raw))
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, n); err != nil {
			return nil, err
		}
		if _, err := br.ReadString('\n'); err != nil {
			return nil, err
		}
	}
}

func newTestS3(t *testing.T) (*S3, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
	client, err := NewS3Client(context.Background(), S3Options{
		Region:       "us-east-1",
		Endpoint:     srv.URL,
		AccessKey:    "test",
		SecretKey:    "test",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	return NewS3(client, "documents", "us-east-1", nil), fake
}

func TestS3StoreCreatesBucketOnce(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestS3(t)

	require.NoError(t, store.Store(ctx, "doc-1", strings.NewReader("first"), 5, "application/pdf"))
	// non-seekable reader
	require.NoError(t, store.Store(ctx, "doc-2", io.MultiReader(strings.NewReader("sec"), strings.NewReader("ond")), 6, ""))

	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, []byte("first"), fake.buckets["documents"]["doc-1"])
	assert.Equal(t, []byte("second"), fake.buckets["documents"]["doc-2"])
	assert.Equal(t, "application/pdf", fake.types["doc-1"])
	assert.Equal(t, defaultContentType, fake.types["doc-2"])
}

func TestS3StoreFailureIsStorageError(t *testing.T) {
	store, fake := newTestS3(t)
	fake.failPut = true

	err := store.Store(context.Background(), "doc-1", strings.NewReader("x"), 1, "")
	assert.ErrorIs(t, err, models.ErrStorage)
}

func TestS3OpenAndLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestS3(t)
	require.NoError(t, store.Store(ctx, "doc-1", strings.NewReader("content"), 7, "application/pdf"))

	rc, err := store.Open(ctx, "doc-1")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, []byte("content"), data)

	data, ok := store.Load(ctx, "doc-1")
	assert.True(t, ok)
	assert.Equal(t, []byte("content"), data)

	_, err = store.Open(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, ok = store.Load(ctx, "missing")
	assert.False(t, ok)
}

func TestS3Delete(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestS3(t)

	// bucket does not exist yet
	assert.NoError(t, store.Delete(ctx, "doc-1"))

	require.NoError(t, store.Store(ctx, "doc-1", strings.NewReader("x"), 1, ""))
	require.NoError(t, store.Delete(ctx, "doc-1"))
	assert.NotContains(t, fake.buckets["documents"], "doc-1")

	// missing object
	assert.NoError(t, store.Delete(ctx, "doc-1"))
}

func TestContentTypeOrDefault(t *testing.T) {
	assert.Equal(t, defaultContentType, contentTypeOrDefault(""))
	assert.Equal(t, "image/png", contentTypeOrDefault("image/png"))
}
