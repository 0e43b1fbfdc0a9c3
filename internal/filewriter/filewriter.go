// Package filewriter owns a single random-access output file handle and
// performs the positional writes the Chunk Manager mediates. It replaces the
// teacher engine's per-chunk-file-then-merge strategy
// (ufs.GenerateChunkFiles + ufs.MergeChunkFiles) with direct WriteAt calls
// into one file, as the engine's crash-safe single-output-file design
// requires.
package filewriter

import (
	"os"
	"path/filepath"

	"paradl/internal/udmconfig"
)

const preallocBufSize = 1 << 20 // 1 MiB

// Writer owns one file handle opened for positional read-write.
type Writer struct {
	file *os.File
	path string
}

// Open ensures path's directory exists, opens (creating if absent) path for
// read-write, and applies the requested pre-sizing strategy.
func Open(path string, size int64, alloc udmconfig.Allocation) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	w := &Writer{file: f, path: path}
	if err := w.allocate(size, alloc); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) allocate(size int64, alloc udmconfig.Allocation) error {
	switch alloc {
	case udmconfig.AllocationNone, "":
		return nil
	case udmconfig.AllocationTrunc:
		return w.file.Truncate(size)
	case udmconfig.AllocationPrealloc:
		return w.preallocate(size)
	case udmconfig.AllocationFalloc:
		return fallocate(w.file, size)
	default:
		return w.file.Truncate(size)
	}
}

// preallocate forces block allocation by writing zeros across [0, size) in
// 1 MiB buffers, per the spec's prealloc strategy.
func (w *Writer) preallocate(size int64) error {
	if err := w.file.Truncate(size); err != nil {
		return err
	}
	buf := make([]byte, preallocBufSize)
	var off int64
	for off < size {
		n := int64(len(buf))
		if remaining := size - off; remaining < n {
			n = remaining
		}
		if _, err := w.file.WriteAt(buf[:n], off); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// WriteAt performs a positional write at an absolute byte offset; it never
// advances a shared file cursor, so concurrent writers to disjoint regions
// never interfere.
func (w *Writer) WriteAt(position int64, data []byte) (int, error) {
	return w.file.WriteAt(data, position)
}

// Close flushes and releases the file handle. It is idempotent.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Exists reports whether path exists and, if so, its size.
func Exists(path string) (bool, int64) {
	info, err := os.Stat(path)
	if err != nil {
		return false, 0
	}
	return true, info.Size()
}
