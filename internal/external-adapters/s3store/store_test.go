package s3store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPut struct {
	path        string
	contentType string
	body        string
}

func newTestStore(t *testing.T, handler http.HandlerFunc, options Options) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("key", "secret", ""),
		BaseEndpoint: aws.String(server.URL),
		UsePathStyle: true,
	})
	return NewWithClient(client, options)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStoreUpload(t *testing.T) {
	var (
		mu   sync.Mutex
		puts []recordedPut
	)
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, recordedPut{path: r.URL.Path, contentType: r.Header.Get("Content-Type"), body: string(body)})
		mu.Unlock()
		assert.Equal(t, http.MethodPut, r.Method)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}, Options{Bucket: "releases", Prefix: "widget/1.4.0"})

	location, err := store.Upload(context.Background(), "Widget-1.4.0.zip", writeFile(t, "Widget-1.4.0.zip", "zip payload"))
	require.NoError(t, err)

	assert.Equal(t, "https://releases.s3.amazonaws.com/widget/1.4.0/Widget-1.4.0.zip", location)
	require.Len(t, puts, 1)
	assert.Equal(t, "/releases/widget/1.4.0/Widget-1.4.0.zip", puts[0].path)
	assert.Equal(t, "application/zip", puts[0].contentType)
	assert.Contains(t, puts[0].body, "zip payload")
}

func TestStoreUploadPublicBaseURL(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, Options{Bucket: "releases", PublicBaseURL: "https://downloads.example.com/"})

	location, err := store.Upload(context.Background(), "Widget-1.4.0.dmg", writeFile(t, "Widget-1.4.0.dmg", "dmg"))
	require.NoError(t, err)
	assert.Equal(t, "https://downloads.example.com/Widget-1.4.0.dmg", location)
}

func TestStoreUploadErrors(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
	}, Options{Bucket: "releases"})

	_, err := store.Upload(context.Background(), "Widget.zip", writeFile(t, "Widget.zip", "x"))
	assert.ErrorContains(t, err, "AccessDenied")

	_, err = store.Upload(context.Background(), "missing.zip", filepath.Join(t.TempDir(), "missing.zip"))
	assert.ErrorContains(t, err, "failed to open")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/x-apple-diskimage", contentType("Widget.DMG"))
	assert.Equal(t, "text/plain; charset=utf-8", contentType("SHA256SUMS.asc"))
	assert.Equal(t, defaultContentType, contentType("SHA256SUMS"))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}
