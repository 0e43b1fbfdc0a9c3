package udmconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileConfigMissingIsZeroValue(t *testing.T) {
	fc, err := LoadFileConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &FileConfig{}, fc)
}

func TestLoadFileConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	content := `
threadCount: 4
maxRetries: 5
outputDir: /downloads
categories:
  - name: videos
    extensions: [mp4, mkv]
    outputDir: /downloads/videos
headers:
  User-Agent: paradl-test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fc, err := LoadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, fc.ThreadCount)
	assert.Equal(t, "/downloads/videos", fc.OutputDirForFilename("movie.mp4"))
	assert.Equal(t, "/downloads", fc.OutputDirForFilename("archive.zip"))
	assert.Equal(t, "paradl-test", fc.Headers["User-Agent"])
}

func TestApplyDefaultsUserValueWins(t *testing.T) {
	fc := &FileConfig{ThreadCount: 16, MaxRetries: 9}
	cfg := Config{Split: 4}

	fc.ApplyDefaults(&cfg)

	assert.Equal(t, 4, cfg.Split, "explicit user value must not be overridden")
	assert.Equal(t, 9, cfg.Retries, "zero-valued field should be filled from file config")
}
