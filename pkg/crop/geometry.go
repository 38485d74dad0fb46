package crop

import (
	"image"
	"math"

	"github.com/menta2k/membercard/pkg/types"
)

// DefaultRegion computes the region shown when an image loads: the largest
// rectangle of the given aspect that fits the displayed image, shrunk by
// fraction, centered on the image (or on hint when one is given) and clamped
// inside the image. The result is expressed in percent.
func DefaultRegion(display types.DisplaySize, aspect, fraction float64, hint *types.Box) types.CropRegion {
	if !display.Valid() {
		return types.CropRegion{Unit: types.UnitPercent}
	}
	if aspect <= 0 {
		aspect = 1
	}
	fraction = clamp(fraction, 0.01, 1)

	maxW := math.Min(display.W, display.H*aspect)
	w := maxW * fraction
	h := w / aspect

	cx, cy := display.W/2, display.H/2
	if hint != nil && hint.W > 0 && hint.H > 0 {
		hx, hy := hint.Center()
		cx, cy = clamp(hx, 0, 1)*display.W, clamp(hy, 0, 1)*display.H
	}

	px := types.CropRegion{
		Unit:   types.UnitPixel,
		X:      clamp(cx-w/2, 0, display.W-w),
		Y:      clamp(cy-h/2, 0, display.H-h),
		Width:  w,
		Height: h,
	}
	return px.ToPercent(display)
}

// NaturalRect maps a region on the displayed image onto the source image's
// natural pixel grid. Percent regions are first resolved against the
// displayed size; the displayed pixels are then scaled by natural/displayed.
func NaturalRect(r types.CropRegion, display types.DisplaySize, natural image.Point) image.Rectangle {
	if !display.Valid() || natural.X <= 0 || natural.Y <= 0 {
		return image.Rectangle{}
	}
	px := r.ToPixels(display)
	sx := float64(natural.X) / display.W
	sy := float64(natural.Y) / display.H

	rect := image.Rect(
		int(math.Round(px.X*sx)),
		int(math.Round(px.Y*sy)),
		int(math.Round((px.X+px.Width)*sx)),
		int(math.Round((px.Y+px.Height)*sy)),
	)
	return rect.Intersect(image.Rect(0, 0, natural.X, natural.Y))
}

// FitDisplay returns the displayed size of an image inside a container,
// keeping the natural aspect and touching the container on one axis.
func FitDisplay(natural image.Point, container types.DisplaySize) types.DisplaySize {
	if natural.X <= 0 || natural.Y <= 0 || !container.Valid() {
		return types.DisplaySize{}
	}
	ratio := float64(natural.Y) / float64(natural.X)
	w := container.W
	if container.W*ratio > container.H {
		w = container.H / ratio
	}
	return types.DisplaySize{W: w, H: w * ratio}
}

// constrain rebuilds a pixel region of the given aspect from its width,
// keeping it inside the display. Width wins unless height overflows.
func constrain(px types.CropRegion, display types.DisplaySize, aspect float64) types.CropRegion {
	w := clamp(px.Width, 0, display.W)
	h := w / aspect
	if h > display.H {
		h = display.H
		w = h * aspect
	}
	return types.CropRegion{
		Unit:   types.UnitPixel,
		X:      clamp(px.X, 0, display.W-w),
		Y:      clamp(px.Y, 0, display.H-h),
		Width:  w,
		Height: h,
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
