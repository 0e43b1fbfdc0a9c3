package humanize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	assert.Equal(t, "512 B", Bytes(512))
	assert.Equal(t, "1.00 KB", Bytes(1024))
	assert.Equal(t, "1.00 MB", Bytes(1024*1024))
	assert.Equal(t, "1.00 GB", Bytes(1024*1024*1024))
}

func TestSpeed(t *testing.T) {
	assert.Equal(t, "1.00 KB/s", Speed(1024))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "--", Duration(0))
	assert.Equal(t, "--", Duration(-time.Second))
	assert.Equal(t, "45s", Duration(45*time.Second))
	assert.Equal(t, "2m5s", Duration(2*time.Minute+5*time.Second))
	assert.Equal(t, "1h2m3s", Duration(time.Hour+2*time.Minute+3*time.Second))
}
