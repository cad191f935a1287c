// Package trace implements the circular text log the real-time domain keeps
// in the carveout, readable from the general-purpose domain.
package trace

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"gosuda.org/amplink/internal/shm"
)

// DefaultSize is the size of the trace carveout
const DefaultSize = 0x8000

// headerSize is the cursor word preceding the text
const headerSize = 4

// ErrTooSmall is returned for trace areas without room for text
var ErrTooSmall = errors.New("trace: area too small")

// Logger is implemented by anything that accepts whole lines of text
type Logger interface {
	WriteLineString(s string)
}

// Buffer is a circular text log over a slice of a shared region.
//
// The first word counts the bytes ever written (normalized so it never
// overflows); the text follows. Once the log wraps, the oldest bytes are
// overwritten.
type Buffer struct {
	mu     sync.Mutex
	region *shm.Region
	off    int
	cap    int
}

// New attaches a trace buffer to size bytes of region at off
func New(region *shm.Region, off, size int) (*Buffer, error) {
	if size <= headerSize || off%4 != 0 {
		return nil, ErrTooSmall
	}
	if off < 0 || off+size > region.Size() {
		return nil, shm.ErrOutOfRange
	}
	return &Buffer{region: region, off: off, cap: size - headerSize}, nil
}

// Reset clears the log
func (b *Buffer) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.region.Zero(b.off, b.cap+headerSize)
}

// Write appends p to the log
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	total := int(b.region.Load32(b.off))
	if len(p) > b.cap {
		// Only the tail survives anyway
		total += len(p) - b.cap
		p = p[len(p)-b.cap:]
	}

	text := b.off + headerSize
	for len(p) > 0 {
		pos := total % b.cap
		chunk := min(len(p), b.cap-pos)
		if _, err := b.region.WriteAt(p[:chunk], text+pos); err != nil {
			return n - len(p), err
		}
		p = p[chunk:]
		total += chunk
	}

	if total >= 2*b.cap {
		total = b.cap + total%b.cap
	}
	b.region.Store32(b.off, uint32(total))
	return n, nil
}

// WriteLineString appends s as one line
func (b *Buffer) WriteLineString(s string) {
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	b.Write([]byte(s))
}

// Logf formats a line and appends it
func (b *Buffer) Logf(format string, args ...any) {
	b.WriteLineString(fmt.Sprintf(format, args...))
}

// ReadAll returns the retained text, oldest byte first
func (b *Buffer) ReadAll() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := int(b.region.Load32(b.off))
	text := b.off + headerSize
	if total <= b.cap {
		out := make([]byte, total)
		_, err := b.region.ReadAt(out, text)
		return out, err
	}

	pos := total % b.cap
	out := make([]byte, b.cap)
	if _, err := b.region.ReadAt(out[:b.cap-pos], text+pos); err != nil {
		return nil, err
	}
	if _, err := b.region.ReadAt(out[b.cap-pos:], text); err != nil {
		return nil, err
	}
	return out, nil
}

// Lines returns the retained complete lines. A line cut by wrap-around is
// dropped.
func (b *Buffer) Lines() ([]string, error) {
	text, err := b.ReadAll()
	if err != nil {
		return nil, err
	}
	wrapped := int(b.region.Load32(b.off)) > b.cap

	lines := strings.Split(strings.TrimSuffix(string(text), "\n"), "\n")
	if wrapped && len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}

// Logf formats a line and writes it to l
func Logf(l Logger, format string, args ...any) {
	l.WriteLineString(fmt.Sprintf(format, args...))
}

// Discard is a Logger that drops everything
var Discard Logger = discard{}

type discard struct{}

func (discard) WriteLineString(string) {}
