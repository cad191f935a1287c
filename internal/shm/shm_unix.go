//go:build linux || darwin || freebsd

package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Open maps the region file at path, creating and sizing it when it does not
// exist yet. Both domains open the same path to share one carveout.
func Open(path string, size int, flusher Flusher) (*Region, error) {
	if flusher == nil {
		flusher = &CountingFlusher{}
	}
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid region size %d", size)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}

	// Only grow the file; a peer may already be using it
	if info.Size() < int64(size) {
		if err := unix.Ftruncate(int(file.Fd()), int64(size)); err != nil {
			file.Close()
			return nil, fmt.Errorf("shm: resize %s: %w", path, err)
		}
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	return &Region{
		name:    filepath.Base(path),
		mem:     mem,
		flusher: flusher,
		file:    file,
	}, nil
}

// Close unmaps a mapped region. Heap regions only drop their bytes.
func (r *Region) Close() error {
	if r.file == nil {
		r.mem = nil
		return nil
	}

	err := unix.Munmap(r.mem)
	r.mem = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.file = nil
	if err != nil {
		return fmt.Errorf("shm: close %s: %w", r.name, err)
	}
	return nil
}

// DefaultPath returns the preferred location of a named region file,
// /dev/shm when available and the temporary directory otherwise
func DefaultPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", name)
	}
	return filepath.Join(os.TempDir(), name)
}
