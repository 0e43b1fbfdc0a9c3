package downloader

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paradl/internal/udmconfig"
)

func echoServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
			return
		}
		w.Write(body)
	}))
}

func TestDownloadAndWaitWritesFile(t *testing.T) {
	body := []byte("hello from the downloader package")
	srv := echoServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	d := New(Config{MaxConcurrentDownloads: 2}, nil)

	cfg := udmconfig.Default()
	cfg.OutputDirectory = dir
	cfg.AutoSaveInterval = 0

	info, err := d.DownloadAndWait(t.Context(), []string{srv.URL}, "hello.txt", cfg)
	require.NoError(t, err)
	assert.Equal(t, "completed", string(info.Status))

	data, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestGetAndAllReflectRegisteredTasks(t *testing.T) {
	body := []byte("x")
	srv := echoServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	d := New(Config{MaxConcurrentDownloads: 2}, nil)

	cfg := udmconfig.Default()
	cfg.OutputDirectory = dir
	cfg.AutoSaveInterval = 0

	id, err := d.Download(t.Context(), []string{srv.URL}, "a.bin", cfg)
	require.NoError(t, err)

	_, ok := d.Get("nonexistent")
	assert.False(t, ok)

	// The task is owned by the Downloader only until it finishes: once the
	// scheduled job completes, its registry entry is removed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(d.All()) == 0 {
			_, ok := d.Get(id)
			assert.False(t, ok, "task should be evicted from the registry after completion")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("download did not complete in time")
}

func TestDownloadAndWaitReleasesTaskFromRegistry(t *testing.T) {
	body := []byte("y")
	srv := echoServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	d := New(Config{MaxConcurrentDownloads: 2}, nil)

	cfg := udmconfig.Default()
	cfg.OutputDirectory = dir
	cfg.AutoSaveInterval = 0

	info, err := d.DownloadAndWait(t.Context(), []string{srv.URL}, "b.bin", cfg)
	require.NoError(t, err)

	_, ok := d.Get(info.ID)
	assert.False(t, ok, "task should be evicted from the registry after DownloadAndWait returns")
	assert.Empty(t, d.All())
}

func TestUnknownTaskOperationsReturnError(t *testing.T) {
	d := New(Config{}, nil)
	assert.Error(t, d.Pause("nope"))
	assert.Error(t, d.Resume("nope"))
	assert.Error(t, d.Cancel("nope"))
}
