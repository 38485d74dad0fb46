// Package processing draws debug overlays of crop decisions.
package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gogpu/gg"

	"github.com/menta2k/membercard/pkg/crop"
	"github.com/menta2k/membercard/pkg/types"
)

// Overlay colors
var (
	SubjectColor = color.NRGBA{0, 255, 0, 255}
	RegionColor  = color.NRGBA{255, 204, 0, 255}
	CenterColor  = color.NRGBA{255, 0, 0, 255}
	ImageColor   = color.NRGBA{0, 170, 255, 255}
)

// DebugOverlay draws the subject box (normalized, may be nil) and the crop
// region, measured against display, over a copy of img.
func DebugOverlay(img image.Image, subject *types.Box, region types.CropRegion, display types.DisplaySize) (*image.NRGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("processing: empty image")
	}
	dc := gg.NewContext(w, h)
	defer dc.Close()

	dc.DrawImageEx(gg.ImageBufFromImage(imaging.Clone(img)), gg.DrawImageOptions{
		DstWidth:  float64(w),
		DstHeight: float64(h),
		Opacity:   1,
		BlendMode: gg.BlendNormal,
	})

	short := float64(min(w, h))
	stroke := math.Max(2, 0.004*short)
	cross := math.Max(4, 0.01*short)
	dc.SetLineWidth(stroke)

	if subject != nil && subject.W > 0 && subject.H > 0 {
		dc.SetColor(SubjectColor)
		dc.DrawRectangle(subject.X*float64(w), subject.Y*float64(h), subject.W*float64(w), subject.H*float64(h))
		if err := dc.Stroke(); err != nil {
			return nil, err
		}
	}

	if !region.IsEmpty() && display.Valid() {
		r := crop.NaturalRect(region, display, b.Size())
		dc.SetColor(RegionColor)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		if err := dc.Stroke(); err != nil {
			return nil, err
		}
		cx, cy := float64(r.Min.X+r.Max.X)/2, float64(r.Min.Y+r.Max.Y)/2
		if err := crosshair(dc, cx, cy, cross, CenterColor); err != nil {
			return nil, err
		}
	}

	if err := crosshair(dc, float64(w)/2, float64(h)/2, 6, ImageColor); err != nil {
		return nil, err
	}
	if err := dc.FlushGPU(); err != nil {
		return nil, fmt.Errorf("processing: flush: %w", err)
	}
	return imaging.Clone(dc.Image()), nil
}

func crosshair(dc *gg.Context, x, y, size float64, c color.Color) error {
	dc.SetColor(c)
	dc.DrawLine(x-size, y, x+size, y)
	dc.DrawLine(x, y-size, x, y+size)
	return dc.Stroke()
}
