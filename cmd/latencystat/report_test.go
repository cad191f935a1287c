package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"gosuda.org/amplink/internal/histogram"
)

func sample() histogram.Snapshot {
	s := histogram.Cleared()
	s.Data[10] = 4
	s.Data[20] = 2
	s.OutCount = 1
	s.SampleCount = 7
	s.TotalSum = 10*4 + 20*2 + 1500
	s.Min = 10
	s.Max = 1500
	return s
}

// TestDumpWords verifies eight words per line in hex
func TestDumpWords(t *testing.T) {
	b := make([]byte, 4*9)
	b[0] = 0x01
	b[32] = 0xff

	var buf bytes.Buffer
	dumpWords(&buf, b)

	want := "\t00000001 00000000 00000000 00000000 00000000 00000000 00000000 00000000 \n\t000000ff \n"
	if buf.String() != want {
		t.Fatalf("dumpWords() = %q, want %q", buf.String(), want)
	}
}

// TestSummary verifies min, average and max lines and the counters
func TestSummary(t *testing.T) {
	s := sample()
	var buf bytes.Buffer
	printSummary(&buf, &s)
	out := buf.String()

	for _, want := range []string{
		"\tmin: 89 ns (10 ticks)\n",
		"\tavg: 2024 ns (225 ticks)\n",
		"\tmax: 13499 ns (1500 ticks)\n",
		"\tout of range: 1\n",
		"\ttotal samples: 7\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary misses %q:\n%s", want, out)
		}
	}
}

// TestBuckets verifies only non-empty buckets are listed
func TestBuckets(t *testing.T) {
	s := sample()
	var buf bytes.Buffer
	printBuckets(&buf, &s)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("printBuckets() wrote %d lines, want 2", len(lines))
	}
	if want := "Bucket 89 ns (10 ticks) had 4 frequency"; strings.TrimSpace(lines[0]) != want {
		t.Fatalf("first bucket = %q, want %q", lines[0], want)
	}
}

// TestJSONReport verifies the JSON report decodes with the summary fields
func TestJSONReport(t *testing.T) {
	s := sample()
	var buf bytes.Buffer
	if err := printJSON(&buf, 10*time.Second, &s); err != nil {
		t.Fatalf("printJSON() error = %v", err)
	}

	var got struct {
		Interval string `json:"interval"`
		Samples  uint64 `json:"samples"`
		OutCount uint64 `json:"out_of_range"`
		MaxTicks uint32 `json:"max_ticks"`
		Buckets  []struct {
			Ticks uint32 `json:"ticks"`
			Count uint32 `json:"count"`
		} `json:"buckets"`
	}
	if err := sonnet.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Interval != "10s" || got.Samples != 7 || got.OutCount != 1 || got.MaxTicks != 1500 {
		t.Fatalf("report = %+v", got)
	}
	if len(got.Buckets) != 2 || got.Buckets[1].Ticks != 20 || got.Buckets[1].Count != 2 {
		t.Fatalf("buckets = %+v", got.Buckets)
	}
}

// TestDisplayNoSections verifies the summary is always printed
func TestDisplayNoSections(t *testing.T) {
	s := sample()
	var buf bytes.Buffer
	if err := display(&buf, &options{}, &s); err != nil {
		t.Fatalf("display() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Histogram Data:") {
		t.Fatalf("display() output:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Histogram Graph:") {
		t.Fatal("graph printed without -g")
	}
}
