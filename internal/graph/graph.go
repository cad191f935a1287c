// Package graph draws latency histograms, as block-character graphs for a
// UTF-8 terminal and as PNG charts.
package graph

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"gosuda.org/amplink/internal/histogram"
)

// Params controls how a histogram is bucketed and drawn. Buckets run down
// the vertical axis, counts along the horizontal one.
type Params struct {
	BucketMin       uint32 // Value of the first bucket
	BucketMax       uint32 // Value of the last labelled bucket
	BucketValue     uint32 // Width of one bucket
	BucketIncrement uint32 // Label every bucket whose value is a multiple of this
	BucketUnit      string // Appended to bucket labels

	ValueMin       uint32 // Smallest count on the axis
	ValueMax       uint32 // Largest count on the axis
	ValueIncrement uint32 // Axis label spacing; ten columns per increment
	ValueLabel     bool   // Print the count after each bar
	ValueUnit      string // Appended to count labels

	Buckets int // Number of buckets
}

// DefaultParams returns the nanosecond layout: 51 buckets of 20 ns, counts
// up to 100
func DefaultParams() Params {
	return Params{
		BucketMin:       0,
		BucketMax:       1000,
		BucketValue:     20,
		BucketIncrement: 100,
		BucketUnit:      " ns",
		ValueMin:        0,
		ValueMax:        100,
		ValueIncrement:  20,
		ValueLabel:      true,
		Buckets:         51,
	}
}

// Rebucket converts the tick buckets of s to nanoseconds and folds them
// into p.Buckets buckets of p.BucketValue ns. Latencies past the last
// bucket are left out.
func Rebucket(s *histogram.Snapshot, p Params) []uint32 {
	out := make([]uint32, p.Buckets)
	if p.BucketValue == 0 {
		return out
	}
	for ticks, n := range s.Data {
		if n == 0 {
			continue
		}
		i := histogram.Nanoseconds(uint64(ticks)) / uint64(p.BucketValue)
		if i < uint64(len(out)) {
			out[i] += n
		}
	}
	return out
}

// Box-drawing pieces
const (
	borderLine = iota
	borderCross
	borderFront
	borderBack
)

func border(kind int, vertical bool) string {
	switch kind {
	case borderCross:
		return "┼"
	case borderFront:
		if vertical {
			return "┬"
		}
		return "├"
	case borderBack:
		if vertical {
			return "┴"
		}
		return "┤"
	}
	if vertical {
		return "│"
	}
	return "─"
}

// eighths holds horizontal blocks from empty to full
var eighths = [...]string{" ", "▏", "▎", "▍", "▌", "▋", "▊", "▉", "█"}

// block returns the block for a fill percentage, in steps of ten
func block(pct uint32) string {
	if pct >= 80 {
		return eighths[8]
	}
	return eighths[pct/10]
}

// Render writes the graph of data, one row per bucket
func Render(w io.Writer, p Params, data []uint32) error {
	if p.ValueIncrement < 10 {
		return fmt.Errorf("graph: value increment %d below 10", p.ValueIncrement)
	}
	if p.BucketIncrement == 0 {
		return fmt.Errorf("graph: bucket increment must be positive")
	}

	bw := bufio.NewWriter(w)
	const leftMargin = 1
	step := p.ValueIncrement / 10
	unit := len(p.BucketUnit)
	pad := func(n int) {
		if n > 0 {
			bw.WriteString(strings.Repeat(" ", n))
		}
	}

	// Axis values
	pad(leftMargin - 4 + unit)
	for v := p.ValueMin; ; v += p.ValueIncrement {
		if v%p.ValueIncrement == 0 {
			pad(int(p.ValueIncrement/step) - 4)
			fmt.Fprintf(bw, "%4d", v)
		}
		if v >= p.ValueMax {
			break
		}
	}
	bw.WriteByte('\n')

	// Axis line
	pad(leftMargin + 5 + unit)
	columns := uint32(0)
	for v := p.ValueMin; ; v += step {
		switch {
		case v%p.ValueIncrement != 0:
			bw.WriteString(border(borderLine, false))
		case v >= p.ValueMax:
			bw.WriteString(border(borderBack, false))
		case v <= p.ValueMin:
			bw.WriteString(border(borderFront, false))
		default:
			bw.WriteString(border(borderCross, false))
		}
		if v >= p.ValueMax {
			break
		}
		columns++
	}
	bw.WriteByte('\n')

	// Bars
	for i := 0; i < p.Buckets && i < len(data); i++ {
		label := p.BucketValue*uint32(i) + p.BucketMin
		if label%p.BucketIncrement == 0 {
			pad(leftMargin)
			fmt.Fprintf(bw, "%4d%s ", label, p.BucketUnit)
			if label == p.BucketMax {
				bw.WriteString(border(borderBack, true))
			} else {
				bw.WriteString(border(borderCross, true))
			}
		} else {
			pad(leftMargin + 5 + unit)
			bw.WriteString(border(borderLine, true))
		}

		n := data[i]
		for c := uint32(0); c < columns*step; c += step {
			if n >= c+step {
				bw.WriteString(block(100))
			} else if n >= c {
				bw.WriteString(block((n - c) * 10))
			}
		}

		if p.ValueLabel && n != 0 {
			fmt.Fprintf(bw, " %d%s", n, p.ValueUnit)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Text renders s with DefaultParams
func Text(w io.Writer, s *histogram.Snapshot) error {
	p := DefaultParams()
	return Render(w, p, Rebucket(s, p))
}
