package localize

import (
	"image"
	"image/color"
	"math"
)

type stop struct {
	pos     float64
	r, g, b float64
}

func hexStop(pos float64, rgb uint32) stop {
	return stop{
		pos: pos,
		r:   float64(rgb>>16&0xff) / 255,
		g:   float64(rgb>>8&0xff) / 255,
		b:   float64(rgb&0xff) / 255,
	}
}

// heatmapColors maps rescaled scores to colour. The last stop absorbs
// overshoot above 1.
var heatmapColors = []stop{
	hexStop(0.00, 0x000003),
	hexStop(0.12, 0x1F114B),
	hexStop(0.24, 0x4F117B),
	hexStop(0.36, 0x822581),
	hexStop(0.49, 0xB3357A),
	hexStop(0.62, 0xE55063),
	hexStop(0.75, 0xFB8861),
	hexStop(1.00, 0xFBFCBF),
	hexStop(1.50, 0xFFFFFF),
}

// interp is piecewise-linear interpolation over the stops, holding the end
// values outside their range.
func interp(x float64, channel func(stop) float64) float64 {
	first, last := heatmapColors[0], heatmapColors[len(heatmapColors)-1]
	switch {
	case math.IsNaN(x), x <= first.pos:
		return channel(first)
	case x >= last.pos:
		return channel(last)
	}
	for i := 1; i < len(heatmapColors); i++ {
		hi := heatmapColors[i]
		if x < hi.pos {
			lo := heatmapColors[i-1]
			slope := (channel(hi) - channel(lo)) / (hi.pos - lo.pos)
			return slope*(x-lo.pos) + channel(lo)
		}
	}
	return channel(last)
}

// Colorize returns the heatmap colour of a rescaled score.
func Colorize(v float64) color.NRGBA {
	return color.NRGBA{
		R: uint8(interp(v, func(s stop) float64 { return s.r }) * 255),
		G: uint8(interp(v, func(s stop) float64 { return s.g }) * 255),
		B: uint8(interp(v, func(s stop) float64 { return s.b }) * 255),
		A: 0xff,
	}
}

// Render colours a row-major w x h field of rescaled scores.
func Render(field []float32, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, Colorize(float64(field[y*w+x])))
		}
	}
	return img
}
