package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"gosuda.org/amplink/internal/graph"
	"gosuda.org/amplink/internal/histogram"
)

const rule = "-----------------------------------------------------------"

// display writes the requested sections followed by the summary
func display(w io.Writer, o *options, snap *histogram.Snapshot) error {
	bw := bufio.NewWriter(w)

	if o.graph {
		fmt.Fprintln(bw, rule)
		fmt.Fprintln(bw, "Histogram Graph:")
		if err := graph.Text(bw, snap); err != nil {
			return err
		}
	}
	if o.dump {
		fmt.Fprintln(bw, rule)
		fmt.Fprintln(bw, "Histogram Binary Data:")
		img, err := snap.MarshalBinary()
		if err != nil {
			return err
		}
		dumpWords(bw, img)
	}
	if o.buckets {
		fmt.Fprintln(bw, rule)
		fmt.Fprintln(bw, "Histogram Bucket Values:")
		printBuckets(bw, snap)
	}
	if o.json {
		fmt.Fprintln(bw, rule)
		if err := printJSON(bw, o.interval, snap); err != nil {
			return err
		}
	}
	printSummary(bw, snap)
	return bw.Flush()
}

// dumpWords prints b as little-endian words in hex, eight per line
func dumpWords(w io.Writer, b []byte) {
	fmt.Fprint(w, "\t")
	for i := 0; i+4 <= len(b); i += 4 {
		if i > 0 && (i/4)%8 == 0 {
			fmt.Fprint(w, "\n\t")
		}
		fmt.Fprintf(w, "%08x ", binary.LittleEndian.Uint32(b[i:]))
	}
	fmt.Fprintln(w)
}

func printBuckets(w io.Writer, snap *histogram.Snapshot) {
	for _, b := range snap.Buckets() {
		fmt.Fprintf(w, "\tBucket %d ns (%d ticks) had %d frequency\n", b.Nanos, b.Ticks, b.Count)
	}
}

type jsonReport struct {
	Interval string `json:"interval"`
	histogram.Summary
}

func printJSON(w io.Writer, interval time.Duration, snap *histogram.Snapshot) error {
	b, err := sonnet.Marshal(jsonReport{Interval: interval.String(), Summary: snap.Summary()})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func printSummary(w io.Writer, snap *histogram.Snapshot) {
	s := snap.Summary()
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Histogram Data:")
	fmt.Fprintf(w, "\tmin: %d ns (%d ticks)\n", s.MinNanos, s.MinTicks)
	fmt.Fprintf(w, "\tavg: %d ns (%d ticks)\n", s.AvgNanos, s.AvgTicks)
	fmt.Fprintf(w, "\tmax: %d ns (%d ticks)\n", s.MaxNanos, s.MaxTicks)
	fmt.Fprintf(w, "\tout of range: %d\n", s.OutCount)
	fmt.Fprintf(w, "\ttotal samples: %d\n", s.Samples)
	fmt.Fprintln(w, rule)
}

func printTrace(w io.Writer, lines []string) {
	fmt.Fprintln(w, "Real-time trace:")
	for _, line := range lines {
		fmt.Fprintf(w, "\t%s\n", line)
	}
}
