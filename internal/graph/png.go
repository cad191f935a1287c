package graph

import (
	"fmt"
	"io"

	"github.com/fogleman/gg"

	"gosuda.org/amplink/internal/histogram"
)

// Chart geometry in pixels
const (
	ChartWidth  = 800
	chartRow    = 12
	chartMargin = 80
	chartTop    = 40
)

// Draw renders the bucketed data of p as a horizontal bar chart
func Draw(p Params, data []uint32) *gg.Context {
	height := chartTop + chartRow*p.Buckets + chartMargin/2
	dc := gg.NewContext(ChartWidth, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	plotW := float64(ChartWidth - 2*chartMargin)
	scale := plotW / float64(max(p.ValueMax-p.ValueMin, 1))
	x0 := float64(chartMargin)

	// Count axis with its labels
	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1)
	dc.DrawLine(x0, chartTop, x0+plotW, chartTop)
	dc.Stroke()
	for v := p.ValueMin; v <= p.ValueMax && p.ValueIncrement > 0; v += p.ValueIncrement {
		x := x0 + float64(v-p.ValueMin)*scale
		dc.DrawLine(x, chartTop-4, x, chartTop)
		dc.Stroke()
		dc.DrawStringAnchored(fmt.Sprint(v), x, chartTop-8, 0.5, 0)
	}

	for i := 0; i < p.Buckets && i < len(data); i++ {
		y := float64(chartTop + chartRow*i)
		label := p.BucketValue*uint32(i) + p.BucketMin
		if p.BucketIncrement > 0 && label%p.BucketIncrement == 0 {
			dc.SetRGB(0, 0, 0)
			dc.DrawStringAnchored(fmt.Sprintf("%d%s", label, p.BucketUnit), x0-6, y+chartRow/2, 1, 0.5)
		}

		n := data[i]
		bar := min(n, p.ValueMax)
		if n == 0 || bar < p.ValueMin {
			continue
		}
		w := float64(bar-p.ValueMin) * scale
		dc.SetRGB(0.2, 0.4, 0.8)
		dc.DrawRectangle(x0, y+1, w, chartRow-2)
		dc.Fill()
		if p.ValueLabel {
			dc.SetRGB(0, 0, 0)
			dc.DrawStringAnchored(fmt.Sprintf("%d%s", n, p.ValueUnit), x0+w+4, y+chartRow/2, 0, 0.5)
		}
	}
	return dc
}

// WritePNG encodes the chart of s, bucketed with DefaultParams, to w
func WritePNG(w io.Writer, s *histogram.Snapshot) error {
	p := DefaultParams()
	return Draw(p, Rebucket(s, p)).EncodePNG(w)
}

// SavePNG writes the chart of s to path
func SavePNG(path string, s *histogram.Snapshot) error {
	p := DefaultParams()
	return gg.SavePNG(path, Draw(p, Rebucket(s, p)).Image())
}
