package storage

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readAll(t *testing.T, src Source, key string) string {
	t.Helper()
	rc, err := src.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

// =============================================================================
// LocalSource
// =============================================================================

func TestLocalSource_Open(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "catalogs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalogs", "tiers.yaml"), []byte("tiers: []\n"), 0o644))

	src, err := NewLocalSource(LocalConfig{BasePath: dir}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "tiers: []\n", readAll(t, src, "catalogs/tiers.yaml"))
}

func TestLocalSource_Errors(t *testing.T) {
	src, err := NewLocalSource(LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)

	tests := []struct {
		name     string
		key      string
		sentinel error
	}{
		{"missing", "nope.yaml", ErrNotFound},
		{"empty key", "", ErrInvalidKey},
		{"traversal", "../etc/passwd", ErrInvalidKey},
		{"absolute", "/etc/passwd", ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := src.Open(context.Background(), tt.key)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var se *StorageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "Open", se.Op)
		})
	}
}

func TestLocalSource_CanceledContext(t *testing.T) {
	src, err := NewLocalSource(LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Open(ctx, "tiers.yaml")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewLocalSource_RequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewLocalSource(LocalConfig{BasePath: file}, testLogger())
	assert.Error(t, err)

	_, err = NewLocalSource(LocalConfig{BasePath: filepath.Join(t.TempDir(), "missing")}, testLogger())
	assert.Error(t, err)
}

// =============================================================================
// R2Source
// =============================================================================

// fakeBucket serves path-style GetObject requests for a single bucket.
func fakeBucket(t *testing.T, objects map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		key, ok := strings.CutPrefix(r.URL.Path, "/config/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if key == "locked.yaml" {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
			return
		}
		body, ok := objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("ETag", `"abc123"`)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestR2Source(t *testing.T, endpoint string) *R2Source {
	t.Helper()
	src, err := NewR2Source(R2Config{
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		BucketName:      "config",
		Endpoint:        endpoint,
	}, testLogger())
	require.NoError(t, err)
	return src
}

func TestR2Source_Open(t *testing.T) {
	srv := fakeBucket(t, map[string]string{"catalog/tiers.yaml": "tiers: []\n"})
	src := newTestR2Source(t, srv.URL)

	assert.Equal(t, "tiers: []\n", readAll(t, src, "catalog/tiers.yaml"))
}

func TestR2Source_Errors(t *testing.T) {
	srv := fakeBucket(t, nil)
	src := newTestR2Source(t, srv.URL)

	_, err := src.Open(context.Background(), "missing.yaml")
	assert.True(t, IsNotFound(err), "got %v", err)

	_, err = src.Open(context.Background(), "locked.yaml")
	assert.True(t, IsAccessDenied(err), "got %v", err)

	_, err = src.Open(context.Background(), "../escape")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewR2Source_Validation(t *testing.T) {
	_, err := NewR2Source(R2Config{AccountID: "acct"}, testLogger())
	assert.Error(t, err, "bucket is required")

	_, err = NewR2Source(R2Config{BucketName: "config"}, testLogger())
	assert.Error(t, err, "account or endpoint is required")

	_, err = NewR2Source(R2Config{AccountID: "acct", BucketName: "config"}, testLogger())
	assert.NoError(t, err)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New("ftp", LocalConfig{}, R2Config{}, testLogger())
	assert.Error(t, err)
}
