package shm

import (
	"bytes"
	"path/filepath"
	"runtime"
	"testing"
	"unsafe"
)

// TestRegionAlignment verifies that heap regions start on a page boundary
func TestRegionAlignment(t *testing.T) {
	r := New("test", 3*PageSize(), nil)
	if r.Size() != 3*PageSize() {
		t.Fatalf("Size() = %d, want %d", r.Size(), 3*PageSize())
	}

	base := uintptr(unsafe.Pointer(&r.mem[0]))
	if base%uintptr(PageSize()) != 0 {
		t.Fatalf("region base %#x is not page aligned", base)
	}
}

// TestRegionFlushOnWrite verifies that every write path flushes
func TestRegionFlushOnWrite(t *testing.T) {
	f := &CountingFlusher{}
	r := New("test", PageSize(), f)

	r.Store32(0, 1)
	r.Add32(4, 2)
	r.Store16(10, 3)
	if _, err := r.WriteAt([]byte("abc"), 16); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	if err := r.Zero(32, 8); err != nil {
		t.Fatalf("Zero() error = %v", err)
	}

	if f.Count() != 5 {
		t.Fatalf("flush count = %d, want 5", f.Count())
	}

	// Reads never flush
	_ = r.Load32(0)
	_ = r.Load16(10)
	if f.Count() != 5 {
		t.Fatalf("flush count after reads = %d, want 5", f.Count())
	}
}

// TestRegionHalfWords verifies 16-bit fields share a word without clobbering each other
func TestRegionHalfWords(t *testing.T) {
	r := New("test", PageSize(), nil)

	r.Store16(0, 0xbeef)
	r.Store16(2, 0xcafe)
	if got := r.Load32(0); got != 0xcafebeef {
		t.Fatalf("Load32() = %#x, want 0xcafebeef", got)
	}
	if got := r.Load16(0); got != 0xbeef {
		t.Fatalf("Load16(0) = %#x, want 0xbeef", got)
	}
	if got := r.Load16(2); got != 0xcafe {
		t.Fatalf("Load16(2) = %#x, want 0xcafe", got)
	}
}

// TestRegionBounds verifies out-of-range copies are rejected
func TestRegionBounds(t *testing.T) {
	r := New("test", PageSize(), nil)

	if _, err := r.WriteAt(make([]byte, 8), PageSize()-4); err != ErrOutOfRange {
		t.Fatalf("WriteAt() error = %v, want %v", err, ErrOutOfRange)
	}
	if _, err := r.ReadAt(make([]byte, 8), -1); err != ErrOutOfRange {
		t.Fatalf("ReadAt() error = %v, want %v", err, ErrOutOfRange)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("Load32() on a misaligned offset did not panic")
		}
	}()
	_ = r.Load32(2)
}

// TestOpenSharedMapping verifies two mappings of one file see the same bytes
func TestOpenSharedMapping(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mapped regions need mmap")
	}

	path := filepath.Join(t.TempDir(), "region")
	a, err := Open(path, PageSize(), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()

	b, err := Open(path, PageSize(), nil)
	if err != nil {
		t.Fatalf("Open() second mapping error = %v", err)
	}
	defer b.Close()

	a.Store32(64, 0x12345678)
	if got := b.Load32(64); got != 0x12345678 {
		t.Fatalf("peer Load32() = %#x, want 0x12345678", got)
	}

	msg := []byte("kick")
	if _, err := b.WriteAt(msg, 128); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	got := make([]byte, len(msg))
	if _, err := a.ReadAt(got, 128); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("ReadAt() = %q, want %q", got, msg)
	}
}
