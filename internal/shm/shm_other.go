//go:build !(linux || darwin || freebsd)

package shm

import (
	"os"
	"path/filepath"
)

// Open is not available without mmap support
func Open(path string, size int, flusher Flusher) (*Region, error) {
	return nil, ErrUnsupported
}

// Close drops the region bytes
func (r *Region) Close() error {
	r.mem = nil
	return nil
}

// DefaultPath returns the location of a named region file in the temporary directory
func DefaultPath(name string) string {
	return filepath.Join(os.TempDir(), name)
}
