// Package chart draws index series as PNG line charts.
package chart

import (
	"fmt"
	"io"
	"math"

	"github.com/fogleman/gg"

	"github.com/jobrunner/cuenca/internal/domain"
)

// Default chart size in pixels.
const (
	DefaultWidth  = 900
	DefaultHeight = 420
)

const (
	marginLeft   = 60.0
	marginRight  = 20.0
	marginTop    = 36.0
	marginBottom = 44.0
	yTicks       = 5
)

// Options controls the rendering of a series chart.
type Options struct {
	Width  int
	Height int
	Title  string
	// Highlight shades the years between From and To when both are set.
	HighlightFrom int
	HighlightTo   int
	// Mean draws a dashed line at the mean of present values.
	Mean *float64
}

// Series draws a line chart of s. Absent years break the line and are marked
// on the axis.
func Series(s *domain.Series, opts Options) *gg.Context {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Title == "" {
		opts.Title = fmt.Sprintf("%s %d-%d", s.Index, s.Start, s.End)
	}

	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	plot := newFrame(s, opts)

	if opts.HighlightFrom != 0 && opts.HighlightTo != 0 {
		x0 := plot.x(opts.HighlightFrom) - plot.step/2
		x1 := plot.x(opts.HighlightTo) + plot.step/2
		dc.SetRGBA(0.13, 0.55, 0.13, 0.12)
		dc.DrawRectangle(x0, marginTop, x1-x0, plot.bottom-marginTop)
		dc.Fill()
	}

	drawAxes(dc, s, plot)

	if opts.Mean != nil {
		y := plot.y(*opts.Mean)
		dc.SetRGB(0.4, 0.4, 0.4)
		dc.SetLineWidth(1)
		dc.SetDash(6, 4)
		dc.DrawLine(marginLeft, y, plot.right, y)
		dc.Stroke()
		dc.SetDash()
	}

	// line segments between consecutive present years
	dc.SetHexColor("#1f6f3f")
	dc.SetLineWidth(2)
	for i := 1; i < len(s.Points); i++ {
		a, b := s.Points[i-1], s.Points[i]
		if !a.Present() || !b.Present() {
			continue
		}
		dc.DrawLine(plot.x(a.Year), plot.y(*a.Value), plot.x(b.Year), plot.y(*b.Value))
		dc.Stroke()
	}

	for _, p := range s.Points {
		if p.Present() {
			dc.SetHexColor("#1f6f3f")
			dc.DrawCircle(plot.x(p.Year), plot.y(*p.Value), 3.5)
			dc.Fill()
			continue
		}
		dc.SetHexColor("#b22222")
		dc.DrawStringAnchored("x", plot.x(p.Year), plot.bottom-6, 0.5, 0.5)
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(opts.Title, float64(opts.Width)/2, marginTop/2, 0.5, 0.5)
	return dc
}

// WritePNG renders s and encodes it as PNG.
func WritePNG(w io.Writer, s *domain.Series, opts Options) error {
	return Series(s, opts).EncodePNG(w)
}

// frame maps years and values to pixel coordinates.
type frame struct {
	start, end int
	lo, hi     float64
	right      float64
	bottom     float64
	step       float64
}

func newFrame(s *domain.Series, opts Options) frame {
	f := frame{
		start:  s.Start,
		end:    s.End,
		right:  float64(opts.Width) - marginRight,
		bottom: float64(opts.Height) - marginBottom,
	}
	f.lo, f.hi = valueRange(s)
	if n := s.End - s.Start; n > 0 {
		f.step = (f.right - marginLeft) / float64(n)
	} else {
		f.step = f.right - marginLeft
	}
	return f
}

func (f frame) x(year int) float64 {
	if f.end == f.start {
		return (marginLeft + f.right) / 2
	}
	return marginLeft + float64(year-f.start)*f.step
}

func (f frame) y(v float64) float64 {
	return f.bottom - (v-f.lo)/(f.hi-f.lo)*(f.bottom-marginTop)
}

// valueRange returns padded bounds of the present values. Without values
// the index range [-1, 1] is used.
func valueRange(s *domain.Series) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range s.Present() {
		lo, hi = math.Min(lo, *p.Value), math.Max(hi, *p.Value)
	}
	if math.IsInf(lo, 0) {
		return -1, 1
	}
	pad := (hi - lo) * 0.1
	if pad == 0 {
		pad = 0.1
	}
	return lo - pad, hi + pad
}

func drawAxes(dc *gg.Context, s *domain.Series, f frame) {
	dc.SetRGB(0.85, 0.85, 0.85)
	dc.SetLineWidth(1)
	for i := 0; i <= yTicks; i++ {
		v := f.lo + (f.hi-f.lo)*float64(i)/yTicks
		y := f.y(v)
		dc.DrawLine(marginLeft, y, f.right, y)
		dc.Stroke()
		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawStringAnchored(fmt.Sprintf("%.2f", v), marginLeft-6, y, 1, 0.5)
		dc.SetRGB(0.85, 0.85, 0.85)
	}

	dc.SetRGB(0.2, 0.2, 0.2)
	dc.DrawLine(marginLeft, f.bottom, f.right, f.bottom)
	dc.Stroke()

	every := 1
	if n := s.End - s.Start + 1; n > 13 {
		every = 5
	}
	for _, year := range s.Years() {
		if (year-s.Start)%every != 0 && year != s.End {
			continue
		}
		x := f.x(year)
		dc.DrawLine(x, f.bottom, x, f.bottom+4)
		dc.Stroke()
		dc.DrawStringAnchored(fmt.Sprint(year), x, f.bottom+16, 0.5, 0.5)
	}
}
