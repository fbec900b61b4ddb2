package overview

import (
	"math"

	"github.com/dustin/go-humanize"

	"github.com/hazyhaar/heapview/internal/samples"
)

// gridLabelHeight is the vertical room reserved above the grid line label.
const gridLabelHeight = 14

// Bar is one horizontal pixel column of the overview.
type Bar struct {
	X    int
	Size int64
	// Top is the y coordinate of the bar's upper edge.
	Top int
}

// Frame is a rendered overview. Current holds live sizes, Max the largest
// size ever seen per fragment.
type Frame struct {
	Width   int
	Height  int
	XScale  float64
	YScale  float64
	Current []Bar
	Max     []Bar
	// MarkerX is the position of the most recent sample.
	MarkerX   float64
	GridValue float64
	GridY     float64
	GridLabel string
}

// aggregate buckets samples into pixel columns and calls fn once per
// column with the summed size. Sample 0 is the recording baseline.
func aggregate(timestamps []float64, sizes []int64, xScale float64, fn func(x int, size int64)) {
	if len(timestamps) == 0 {
		return
	}
	start := timestamps[0]
	currentX := 0
	var size int64
	for i := 1; i < len(timestamps); i++ {
		x := int(math.Floor((timestamps[i] - start) * xScale))
		if x != currentX {
			if size != 0 {
				fn(currentX, size)
			}
			size = 0
			currentX = x
		}
		size += sizes[i]
	}
	if size != 0 {
		fn(currentX, size)
	}
}

// GridValue picks a round value for the horizontal grid line that does not
// exceed maxGridValue: a power of 1024 times a power of ten, times five
// when that still fits.
func GridValue(maxGridValue float64) float64 {
	if maxGridValue <= 0 || math.IsNaN(maxGridValue) || math.IsInf(maxGridValue, 0) {
		return 0
	}
	v := math.Pow(1024, math.Floor(math.Log(maxGridValue)/math.Log(1024)))
	v *= math.Pow(10, math.Floor(math.Log10(maxGridValue/v)))
	if v*5 <= maxGridValue {
		v *= 5
	}
	return v
}

// render draws the series into a width x height frame, advancing the
// smoothed scales.
func render(d samples.Data, width, height int, xs, ys *SmoothScale) Frame {
	f := Frame{Width: width, Height: height}
	if d.Len() == 0 || width <= 0 || height <= 0 || d.TotalTime <= 0 {
		return f
	}

	f.XScale = xs.Next(float64(width) / d.TotalTime)

	var maxSize int64
	aggregate(d.Timestamps, d.MaxSizes, f.XScale, func(_ int, size int64) {
		if size > maxSize {
			maxSize = size
		}
	})
	target := 0.0
	if maxSize > 0 {
		target = float64(height) / (float64(maxSize) * 1.1)
	}
	f.YScale = ys.Next(target)

	f.MarkerX = (d.Timestamps[d.Len()-1] - d.Timestamps[0]) * f.XScale

	if f.YScale > 0 {
		f.GridValue = GridValue(float64(height-gridLabelHeight) / f.YScale)
		if f.GridValue > 0 {
			f.GridY = math.Round(float64(height)-f.GridValue*f.YScale-0.5) + 0.5
			f.GridLabel = humanize.IBytes(uint64(f.GridValue))
		}
	}

	bars := func(sizes []int64) []Bar {
		var out []Bar
		aggregate(d.Timestamps, sizes, f.XScale, func(x int, size int64) {
			top := int(math.Round(float64(height) - float64(size)*f.YScale - 1))
			out = append(out, Bar{X: x, Size: size, Top: top})
		})
		return out
	}
	f.Max = bars(d.MaxSizes)
	f.Current = bars(d.Sizes)
	return f
}
