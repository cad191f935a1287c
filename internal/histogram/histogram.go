// Package histogram holds the latency histogram shared by the sampler and
// the request handler, and its fixed little-endian wire image.
package histogram

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
)

// Size is the number of buckets. A sample value v lands in bucket v when
// v < Size and is counted in OutCount otherwise.
const Size = 1000

// ImageSize is the length of the wire image: three u64 counters, min and
// max as u32, then Size u32 buckets
const ImageSize = 3*8 + 2*4 + Size*4

// MinUnset is the minimum of a histogram that holds no samples yet
const MinUnset = 0xffffffff

// ClockHz is the sampling timer input clock
const ClockHz = 111111115

// ErrShortImage is returned when decoding fewer than ImageSize bytes
var ErrShortImage = errors.New("histogram: short image")

// Nanoseconds converts timer ticks to nanoseconds
func Nanoseconds(ticks uint64) uint64 {
	return ticks * 1_000_000_000 / ClockHz
}

// Live is the histogram mutated by the sampler. Record has a single writer
// (the timer interrupt); every field is atomic so readers and Clear can run
// alongside it without tearing individual counters.
type Live struct {
	sampleCount atomic.Uint64
	outCount    atomic.Uint64
	totalSum    atomic.Uint64
	min         atomic.Uint32
	max         atomic.Uint32
	data        [Size]atomic.Uint32
}

// NewLive returns a cleared histogram
func NewLive() *Live {
	h := &Live{}
	h.Clear()
	return h
}

// Record adds one sample
func (h *Live) Record(v uint32) {
	if v > h.max.Load() {
		h.max.Store(v)
	}
	if v < h.min.Load() {
		h.min.Store(v)
	}
	h.totalSum.Add(uint64(v))
	h.sampleCount.Add(1)

	if v >= Size {
		h.outCount.Add(1)
		return
	}
	h.data[v].Add(1)
}

// Clear zeroes every counter and resets the minimum to MinUnset
func (h *Live) Clear() {
	h.sampleCount.Store(0)
	h.outCount.Store(0)
	h.totalSum.Store(0)
	h.max.Store(0)
	for i := range h.data {
		h.data[i].Store(0)
	}
	h.min.Store(MinUnset)
}

// SampleCount returns the number of samples recorded since the last Clear
func (h *Live) SampleCount() uint64 {
	return h.sampleCount.Load()
}

// CopyTo copies the histogram into s
func (h *Live) CopyTo(s *Snapshot) {
	s.SampleCount = h.sampleCount.Load()
	s.OutCount = h.outCount.Load()
	s.TotalSum = h.totalSum.Load()
	s.Min = h.min.Load()
	s.Max = h.max.Load()
	for i := range h.data {
		s.Data[i] = h.data[i].Load()
	}
}

// Snapshot is a point-in-time copy of a histogram
type Snapshot struct {
	SampleCount uint64
	OutCount    uint64
	TotalSum    uint64
	Min         uint32
	Max         uint32
	Data        [Size]uint32
}

// Cleared returns the snapshot of an empty histogram
func Cleared() Snapshot {
	return Snapshot{Min: MinUnset}
}

// MarshalBinary encodes the wire image
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, ImageSize))
}

// AppendBinary appends the wire image to b
func (s *Snapshot) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint64(b, s.SampleCount)
	b = binary.LittleEndian.AppendUint64(b, s.OutCount)
	b = binary.LittleEndian.AppendUint64(b, s.TotalSum)
	b = binary.LittleEndian.AppendUint32(b, s.Min)
	b = binary.LittleEndian.AppendUint32(b, s.Max)
	for _, v := range s.Data {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b, nil
}

// UnmarshalBinary decodes a wire image
func (s *Snapshot) UnmarshalBinary(b []byte) error {
	if len(b) < ImageSize {
		return ErrShortImage
	}
	s.SampleCount = binary.LittleEndian.Uint64(b[0:])
	s.OutCount = binary.LittleEndian.Uint64(b[8:])
	s.TotalSum = binary.LittleEndian.Uint64(b[16:])
	s.Min = binary.LittleEndian.Uint32(b[24:])
	s.Max = binary.LittleEndian.Uint32(b[28:])
	for i := range s.Data {
		s.Data[i] = binary.LittleEndian.Uint32(b[32+i*4:])
	}
	return nil
}

// BucketSum returns the number of samples held in buckets
func (s *Snapshot) BucketSum() uint64 {
	var n uint64
	for _, v := range s.Data {
		n += uint64(v)
	}
	return n
}

// Average returns the mean sample value in ticks, or 0 without samples
func (s *Snapshot) Average() uint64 {
	if s.SampleCount == 0 {
		return 0
	}
	return s.TotalSum / s.SampleCount
}

// Bucket is one non-empty histogram bucket
type Bucket struct {
	Ticks uint32 `json:"ticks"`
	Nanos uint64 `json:"ns"`
	Count uint32 `json:"count"`
}

// Buckets returns the non-empty buckets in ascending order
func (s *Snapshot) Buckets() []Bucket {
	var out []Bucket
	for i, v := range s.Data {
		if v == 0 {
			continue
		}
		out = append(out, Bucket{Ticks: uint32(i), Nanos: Nanoseconds(uint64(i)), Count: v})
	}
	return out
}

// Summary is the report form of a snapshot
type Summary struct {
	Samples  uint64   `json:"samples"`
	OutCount uint64   `json:"out_of_range"`
	MinTicks uint32   `json:"min_ticks"`
	AvgTicks uint64   `json:"avg_ticks"`
	MaxTicks uint32   `json:"max_ticks"`
	MinNanos uint64   `json:"min_ns"`
	AvgNanos uint64   `json:"avg_ns"`
	MaxNanos uint64   `json:"max_ns"`
	Buckets  []Bucket `json:"buckets,omitempty"`
}

// Summary reports min, average and max in ticks and nanoseconds. The
// minimum of an empty histogram is reported as 0.
func (s *Snapshot) Summary() Summary {
	lo := s.Min
	if s.SampleCount == 0 {
		lo = 0
	}
	avg := s.Average()
	return Summary{
		Samples:  s.SampleCount,
		OutCount: s.OutCount,
		MinTicks: lo,
		AvgTicks: avg,
		MaxTicks: s.Max,
		MinNanos: Nanoseconds(uint64(lo)),
		AvgNanos: Nanoseconds(avg),
		MaxNanos: Nanoseconds(uint64(s.Max)),
		Buckets:  s.Buckets(),
	}
}
