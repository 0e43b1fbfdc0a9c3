package udmconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"20MB", 20 * 1024 * 1024, false},
		{"20mb", 20 * 1024 * 1024, false},
		{"512KB", 512 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"100", 100, false},
		{"100B", 100, false},
		{"not-a-size", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8, cfg.Split)
	assert.Equal(t, int64(4*1024*1024), cfg.SegmentSize)
	assert.True(t, cfg.ResumeDownloads)
	assert.Equal(t, AllocationNone, cfg.FileAllocation)
}
