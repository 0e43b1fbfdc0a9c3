//go:build linux

package filewriter

import (
	"os"
	"syscall"
)

// fallocate requests an allocated region of size bytes via the fallocate(2)
// syscall, resolving the engine's falloc open question for real rather than
// aliasing trunc. It falls back to Truncate when the underlying filesystem
// doesn't support fallocate.
func fallocate(f *os.File, size int64) error {
	if err := syscall.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		if err == syscall.ENOSYS || err == syscall.EOPNOTSUPP {
			return f.Truncate(size)
		}
		return err
	}
	return nil
}
