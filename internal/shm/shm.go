package shm

import (
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// pagesize stores the system page size for memory alignment
var pagesize = syscall.Getpagesize()

// Error definitions for region operations
var (
	ErrOutOfRange  = errors.New("shm: access outside of region")
	ErrMisaligned  = errors.New("shm: misaligned word access")
	ErrUnsupported = errors.New("shm: mapped regions not supported on this platform")
)

// Flusher is the cache-maintenance primitive of the local core.
// Flush must make every prior store to the region visible to the peer domain.
type Flusher interface {
	Flush()
}

// CountingFlusher is a Flusher for coherent hosts. It only counts flushes,
// which lets callers verify that every shared write was followed by one.
type CountingFlusher struct {
	n atomic.Uint64
}

// Flush records one flush
func (f *CountingFlusher) Flush() {
	f.n.Add(1)
}

// Count returns the number of flushes performed so far
func (f *CountingFlusher) Count() uint64 {
	return f.n.Load()
}

// Region represents a shared, externally-mutable memory region.
//
// Both execution domains see the same bytes but share neither a scheduler nor
// a cache. Every accessor that writes flushes afterwards, and every accessor
// that reads goes back to memory, so callers never rely on the compiler or the
// cache to order their accesses.
type Region struct {
	name    string   // Name/identifier of the region
	mem     []byte   // Backing bytes (heap or mmap)
	flusher Flusher  // Cache maintenance primitive
	file    *os.File // Backing file for mapped regions, nil for heap regions
}

// New creates a heap-backed region of the given size, page aligned.
// Heap regions are used when both domains run in the same process.
func New(name string, size int, flusher Flusher) *Region {
	if flusher == nil {
		flusher = &CountingFlusher{}
	}

	// Over-allocate so the usable window starts on a page boundary
	raw := make([]byte, size+pagesize)
	base := uintptr(unsafe.Pointer(&raw[0]))
	skip := 0
	if rem := int(base % uintptr(pagesize)); rem != 0 {
		skip = pagesize - rem
	}

	return &Region{
		name:    name,
		mem:     raw[skip : skip+size : skip+size],
		flusher: flusher,
	}
}

// Name returns the name/identifier of the region
func (r *Region) Name() string {
	return r.name
}

// Size returns the size of the region in bytes
func (r *Region) Size() int {
	return len(r.mem)
}

// Flush runs the cache-maintenance primitive
func (r *Region) Flush() {
	r.flusher.Flush()
}

// word returns the aligned 32-bit word at off
func (r *Region) word(off int) *uint32 {
	if off < 0 || off+4 > len(r.mem) {
		panic(ErrOutOfRange)
	}
	if off%4 != 0 {
		panic(ErrMisaligned)
	}
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

// Word exposes the address of a shared 32-bit word. It exists for wait
// primitives (futex) that need the address itself.
func (r *Region) Word(off int) *uint32 {
	return r.word(off)
}

// Load32 reads a 32-bit word fresh from memory
func (r *Region) Load32(off int) uint32 {
	return atomic.LoadUint32(r.word(off))
}

// Store32 writes a 32-bit word and flushes it towards the peer
func (r *Region) Store32(off int, v uint32) {
	atomic.StoreUint32(r.word(off), v)
	r.flusher.Flush()
}

// Add32 atomically adds delta to a 32-bit word, flushes, and returns the new value
func (r *Region) Add32(off int, delta uint32) uint32 {
	v := atomic.AddUint32(r.word(off), delta)
	r.flusher.Flush()
	return v
}

// Load16 reads a 16-bit little-endian field. The field lives in the low
// (off%4 == 0) or high (off%4 == 2) half of an aligned word.
func (r *Region) Load16(off int) uint16 {
	w := r.Load32(off &^ 3)
	if off&2 != 0 {
		return uint16(w >> 16)
	}
	return uint16(w)
}

// Store16 writes a 16-bit field. The other half of the containing word must
// have the same single writer as this half.
func (r *Region) Store16(off int, v uint16) {
	p := r.word(off &^ 3)
	w := atomic.LoadUint32(p)
	if off&2 != 0 {
		w = w&0x0000ffff | uint32(v)<<16
	} else {
		w = w&0xffff0000 | uint32(v)
	}
	atomic.StoreUint32(p, w)
	r.flusher.Flush()
}

// ReadAt copies len(p) bytes at off into p
func (r *Region) ReadAt(p []byte, off int) (int, error) {
	if off < 0 || off+len(p) > len(r.mem) {
		return 0, ErrOutOfRange
	}
	return copy(p, r.mem[off:off+len(p)]), nil
}

// WriteAt copies p into the region at off and flushes
func (r *Region) WriteAt(p []byte, off int) (int, error) {
	if off < 0 || off+len(p) > len(r.mem) {
		return 0, ErrOutOfRange
	}
	n := copy(r.mem[off:off+len(p)], p)
	r.flusher.Flush()
	return n, nil
}

// Zero clears n bytes at off and flushes
func (r *Region) Zero(off, n int) error {
	if off < 0 || off+n > len(r.mem) {
		return ErrOutOfRange
	}
	clear(r.mem[off : off+n])
	r.flusher.Flush()
	return nil
}

// PageSize returns the system page size used for region alignment
func PageSize() int {
	return pagesize
}

// AlignPage rounds n up to the next page boundary
func AlignPage(n int) int {
	return (n + pagesize - 1) / pagesize * pagesize
}
