package histogram

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestClear verifies the cleared state, including the minimum sentinel
func TestClear(t *testing.T) {
	h := NewLive()
	h.Record(5)
	h.Record(5000)
	h.Clear()

	var s Snapshot
	h.CopyTo(&s)
	if s != Cleared() {
		t.Fatalf("CopyTo() after Clear = %+v, want cleared", s.Summary())
	}
	if s.Min != MinUnset {
		t.Fatalf("Min = %#x, want %#x", s.Min, uint32(MinUnset))
	}
}

// TestBucketBoundary verifies v == Size goes to OutCount and v == Size-1 to the last bucket
func TestBucketBoundary(t *testing.T) {
	h := NewLive()
	h.Record(Size)
	h.Record(Size - 1)

	var s Snapshot
	h.CopyTo(&s)
	if s.OutCount != 1 {
		t.Fatalf("OutCount = %d, want 1", s.OutCount)
	}
	if s.Data[Size-1] != 1 {
		t.Fatalf("Data[Size-1] = %d, want 1", s.Data[Size-1])
	}
	if s.BucketSum()+s.OutCount != s.SampleCount {
		t.Fatalf("bucket sum %d + out %d != samples %d", s.BucketSum(), s.OutCount, s.SampleCount)
	}
}

// TestRecordStatistics verifies min, max and sum tracking
func TestRecordStatistics(t *testing.T) {
	h := NewLive()
	for _, v := range []uint32{30, 10, 20} {
		h.Record(v)
	}

	var s Snapshot
	h.CopyTo(&s)
	if s.Min != 10 || s.Max != 30 || s.TotalSum != 60 || s.SampleCount != 3 {
		t.Fatalf("got min=%d max=%d sum=%d count=%d", s.Min, s.Max, s.TotalSum, s.SampleCount)
	}
	if s.Average() != 20 {
		t.Fatalf("Average() = %d, want 20", s.Average())
	}
}

// TestImageLayout verifies offsets of the little-endian wire image
func TestImageLayout(t *testing.T) {
	s := Snapshot{SampleCount: 7, OutCount: 1, TotalSum: 99, Min: 3, Max: 1200}
	s.Data[0] = 2
	s.Data[Size-1] = 4

	b, err := s.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if len(b) != ImageSize || ImageSize != 4032 {
		t.Fatalf("len = %d, ImageSize = %d, want 4032", len(b), ImageSize)
	}
	if binary.LittleEndian.Uint64(b[16:]) != 99 || binary.LittleEndian.Uint32(b[28:]) != 1200 {
		t.Fatal("counters at wrong offsets")
	}
	if binary.LittleEndian.Uint32(b[ImageSize-4:]) != 4 {
		t.Fatal("last bucket at wrong offset")
	}

	var out Snapshot
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if out != s {
		t.Fatal("UnmarshalBinary() did not restore the snapshot")
	}

	again, _ := out.MarshalBinary()
	if !bytes.Equal(again, b) {
		t.Fatal("re-encoded image differs")
	}

	if err := out.UnmarshalBinary(b[:ImageSize-1]); err != ErrShortImage {
		t.Fatalf("UnmarshalBinary(short) error = %v, want %v", err, ErrShortImage)
	}
}

// TestNanoseconds verifies tick conversion at the timer clock
func TestNanoseconds(t *testing.T) {
	if got := Nanoseconds(ClockHz); got != 1_000_000_000 {
		t.Fatalf("Nanoseconds(ClockHz) = %d", got)
	}
	if got := Nanoseconds(111); got != 998 {
		t.Fatalf("Nanoseconds(111) = %d, want 998", got)
	}
}

// TestSummaryEmpty verifies an empty histogram reports a zero minimum
func TestSummaryEmpty(t *testing.T) {
	s := Cleared()
	sum := s.Summary()
	if sum.MinTicks != 0 || sum.Samples != 0 || len(sum.Buckets) != 0 {
		t.Fatalf("Summary() = %+v", sum)
	}
}
