package control

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	target := filepath.Join(t.TempDir(), "movie.mp4")
	store := New(target)
	assert.Equal(t, target+".paradl", store.Path())

	rec := &Record{
		Version:    CurrentVersion,
		URLs:       []string{"https://example.com/movie.mp4"},
		Filename:   "movie.mp4",
		OutputPath: target,
		TotalSize:  1024,
		Segments: []Segment{
			{Index: 0, StartByte: 0, EndByte: 511, DownloadedBytes: 511, Status: StatusCompleted},
			{Index: 1, StartByte: 512, EndByte: 1023, DownloadedBytes: 100, Status: StatusDownloading},
		},
		CreatedAt:    time.Now().Truncate(time.Second),
		LastModified: time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.Save(rec))
	assert.True(t, store.Exists())

	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, rec.URLs, loaded.URLs)
	assert.Equal(t, rec.Segments, loaded.Segments)

	require.NoError(t, store.Delete())
	assert.False(t, store.Exists())
}

func TestLoadMissingFileIsAbsent(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "nope.bin"))
	_, ok := store.Load()
	assert.False(t, ok)
}

func TestLoadRejectsUnrecognizedVersion(t *testing.T) {
	target := filepath.Join(t.TempDir(), "movie.mp4")
	store := New(target)
	require.NoError(t, store.Save(&Record{Version: "9.9", OutputPath: target}))

	_, ok := store.Load()
	assert.False(t, ok)
}

func TestSegmentFullSize(t *testing.T) {
	s := Segment{StartByte: 100, EndByte: 199}
	assert.EqualValues(t, 100, s.FullSize())
}

func TestDeleteMissingIsNotError(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "nope.bin"))
	assert.NoError(t, store.Delete())
}
