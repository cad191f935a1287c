package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gosuda.org/amplink/internal/histogram"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestRecordAndReload verifies a stored run rebuilds the identical histogram
func TestRecordAndReload(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	want := histogram.Cleared()
	for _, v := range []uint32{12, 12, 40, 999, 5000} {
		if v >= histogram.Size {
			want.OutCount++
		} else {
			want.Data[v]++
		}
		want.SampleCount++
		want.TotalSum += uint64(v)
		want.Min = min(want.Min, v)
		want.Max = max(want.Max, v)
	}

	id, err := s.Record(ctx, time.Unix(1700000000, 0), 10*time.Second, &want)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	got, err := s.Snapshot(ctx, id)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got != want {
		t.Fatalf("Snapshot() = %+v, want %+v", got.Summary(), want.Summary())
	}
}

// TestClearedRunKeepsMinimum verifies the unset minimum survives storage
func TestClearedRunKeepsMinimum(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	want := histogram.Cleared()
	id, err := s.Record(ctx, time.Now(), time.Second, &want)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	got, err := s.Snapshot(ctx, id)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got.Min != histogram.MinUnset {
		t.Fatalf("Min = %#x, want %#x", got.Min, uint32(histogram.MinUnset))
	}
}

// TestRunsNewestFirst verifies listing order and limit
func TestRunsNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	snap := histogram.Cleared()
	var ids []int64
	for i := 0; i < 3; i++ {
		snap.SampleCount = uint64(i + 1)
		id, err := s.Record(ctx, time.Now(), time.Duration(i+1)*time.Second, &snap)
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		ids = append(ids, id)
	}

	runs, err := s.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Runs() returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Fatalf("Runs() ids = %d, %d; want %d, %d", runs[0].ID, runs[1].ID, ids[2], ids[1])
	}
	if runs[0].Interval != 3*time.Second || runs[0].Summary.Samples != 3 {
		t.Fatalf("newest run = %+v", runs[0])
	}
}

// TestUnknownRun verifies a missing id reports ErrNoRun
func TestUnknownRun(t *testing.T) {
	s := openStore(t)
	if _, err := s.Snapshot(context.Background(), 42); !errors.Is(err, ErrNoRun) {
		t.Fatalf("Snapshot() error = %v, want ErrNoRun", err)
	}
}
