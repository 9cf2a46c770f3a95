package drivers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	body          []byte
	contentType   string
	contentLength int64
	disposition   string
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	t.Helper()
	fake := &fakeS3{objects: map[string]fakeObject{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		length := r.ContentLength
		if decoded := r.Header.Get("X-Amz-Decoded-Content-Length"); decoded != "" {
			length, _ = strconv.ParseInt(decoded, 10, 64)
		}
		f.objects[r.URL.Path] = fakeObject{
			body:          body,
			contentType:   r.Header.Get("Content-Type"),
			contentLength: length,
			disposition:   r.Header.Get("Content-Disposition"),
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		obj, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		_, _ = w.Write(obj.body)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) object(path string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[path]
	return obj, ok
}

func newTestS3Client(endpoint string) *s3.Client {
	return s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("test", "test", ""),
	})
}

func TestS3Driver_SaveAndDelete(t *testing.T) {
	fake, srv := newFakeS3(t)
	driver := NewS3Driver(newTestS3Client(srv.URL), "results", "")
	ctx := context.Background()

	require.NoError(t, driver.Save(ctx, "runs/abc.jsonl", bytes.NewReader([]byte("line\n")), "application/x-ndjson"))
	obj, ok := fake.object("/results/runs/abc.jsonl")
	require.True(t, ok)
	assert.Contains(t, string(obj.body), "line")
	assert.Equal(t, "application/x-ndjson", obj.contentType)
	assert.Equal(t, int64(5), obj.contentLength)
	assert.Equal(t, `attachment; filename="abc.jsonl"`, obj.disposition)

	require.NoError(t, driver.Delete(ctx, "runs/abc.jsonl"))
	_, ok = fake.object("/results/runs/abc.jsonl")
	assert.False(t, ok)
}

func TestS3Driver_SaveSizesFilesAndStreams(t *testing.T) {
	fake, srv := newFakeS3(t)
	driver := NewS3Driver(newTestS3Client(srv.URL), "results", "")
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "results.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"seq\":1}\n{\"seq\":2}\n"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, driver.Save(ctx, "runs/file.jsonl", f, "application/x-ndjson"))
	obj, ok := fake.object("/results/runs/file.jsonl")
	require.True(t, ok)
	assert.Equal(t, int64(20), obj.contentLength)

	// an unseekable stream of unknown size is buffered before upload
	stream := io.MultiReader(strings.NewReader("{\"seq\":1}\n"), strings.NewReader("{\"seq\":2}\n"))
	require.NoError(t, driver.Save(ctx, "runs/stream.jsonl", stream, "application/x-ndjson"))
	obj, ok = fake.object("/results/runs/stream.jsonl")
	require.True(t, ok)
	assert.Equal(t, int64(20), obj.contentLength)
	assert.Contains(t, string(obj.body), `{"seq":2}`)
}

func TestS3Driver_Get(t *testing.T) {
	_, srv := newFakeS3(t)
	driver := NewS3Driver(newTestS3Client(srv.URL), "results", "")
	ctx := context.Background()

	_, _, err := driver.Get(ctx, "runs/missing.jsonl")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, driver.Save(ctx, "runs/abc.jsonl", strings.NewReader("line\n"), "application/x-ndjson"))
	rc, contentType, err := driver.Get(ctx, "runs/abc.jsonl")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "line")
	assert.Equal(t, "application/x-ndjson", contentType)
}

func TestS3Driver_GenerateURL(t *testing.T) {
	driver := NewS3Driver(newTestS3Client("http://127.0.0.1:9000"), "results", "")

	url, err := driver.GenerateURL(context.Background(), "runs/abc.jsonl", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://127.0.0.1:9000/results/runs/abc.jsonl?"))
	assert.Contains(t, url, "X-Amz-Expires=600")

	public := NewS3Driver(newTestS3Client("http://127.0.0.1:9000"), "results", "https://cdn.example.com/")
	url, err = public.GenerateURL(context.Background(), "runs/abc.jsonl", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/runs/abc.jsonl", url)
}
