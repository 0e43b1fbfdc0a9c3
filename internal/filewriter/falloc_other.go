//go:build !linux

package filewriter

import "os"

// fallocate falls back to a plain truncate on platforms without a fallocate
// syscall exposed through the standard library.
func fallocate(f *os.File, size int64) error {
	return f.Truncate(size)
}
