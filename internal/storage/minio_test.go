package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name    string
		fileURL string
		want    string
		wantErr bool
	}{
		{"bare key", "knowledge/2026-01-01/a.pdf", "knowledge/2026-01-01/a.pdf", false},
		{"leading slash", "/knowledge/a.pdf", "knowledge/a.pdf", false},
		{"oss scheme", "oss://pig-frequency/knowledge/a.pdf", "knowledge/a.pdf", false},
		{"oss other bucket", "oss://other/knowledge/a.pdf", "", true},
		{"virtual host", "https://pig-frequency.oss-cn-beijing.aliyuncs.com/knowledge/a.pdf", "knowledge/a.pdf", false},
		{"path style", "http://localhost:9000/pig-frequency/knowledge/a.pdf", "knowledge/a.pdf", false},
		{"escaped", "https://pig-frequency.oss.example.com/knowledge/%E6%96%87%E6%A1%A3.txt", "knowledge/文档.txt", false},
		{"empty", "  ", "", true},
		{"no key", "https://pig-frequency.oss.example.com/", "", true},
		{"ftp", "ftp://host/a.txt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ObjectKey(tt.fileURL, "pig-frequency")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = readLimited(strings.NewReader("hello!"), 5)
	assert.ErrorContains(t, err, "too large")

	_, err = readLimited(strings.NewReader(""), 5)
	assert.ErrorContains(t, err, "empty")
}

func newObjectServer(t *testing.T, objects map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestMinIOFetcher_Fetch(t *testing.T) {
	server := newObjectServer(t, map[string]string{
		"/pig-frequency/knowledge/a.txt": "天空是蓝色的",
	})

	fetcher, err := NewMinIOFetcher(MinIOConfig{
		Endpoint:  server.URL,
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "pig-frequency",
		Region:    "cn-beijing",
	}, nil)
	require.NoError(t, err)

	data, err := fetcher.Fetch(context.Background(), "oss://pig-frequency/knowledge/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "天空是蓝色的", string(data))

	_, err = fetcher.Fetch(context.Background(), "knowledge/missing.txt")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeObjectStorage))
}

func TestNewMinIOFetcher_RequiresEndpointAndBucket(t *testing.T) {
	_, err := NewMinIOFetcher(MinIOConfig{Bucket: "b"}, nil)
	assert.Error(t, err)

	_, err = NewMinIOFetcher(MinIOConfig{Endpoint: "localhost:9000"}, nil)
	assert.Error(t, err)
}
