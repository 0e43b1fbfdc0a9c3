// Package humanize renders byte counts and durations for humans. It is the
// generalized form of the teacher engine's readable.go helpers.
package humanize

import (
	"fmt"
	"time"
)

// Bytes renders n bytes as a short human string (B/KB/MB/GB/TB).
func Bytes(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
	case n < 1024*1024*1024*1024:
		return fmt.Sprintf("%.2f GB", float64(n)/(1024*1024*1024))
	default:
		return fmt.Sprintf("%.2f TB", float64(n)/(1024*1024*1024*1024))
	}
}

// Speed renders bytes/sec as "<Bytes>/s".
func Speed(bytesPerSec float64) string {
	return Bytes(int64(bytesPerSec)) + "/s"
}

// Duration renders a duration as an operator-friendly "1h2m3s"/"45s" string.
// Zero or negative durations render as "--".
func Duration(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
