// Package layout describes the fixed card design as resolution independent
// anchors. Every position is a percentage of the card's width or height and
// every font size is defined at the canonical resolution, so the same Spec
// renders a small on-screen preview and the full size export.
package layout

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Canonical dimensions of the current background template asset.
const (
	CanonicalWidth  = 460
	CanonicalHeight = 733
)

// Size is a rendered size in pixels. Preview sizes may be fractional.
type Size struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Canonical returns the canonical size of the layout.
func (s Spec) Canonical() Size {
	return Size{W: float64(s.CanonicalWidth), H: float64(s.CanonicalHeight)}
}

// Anchor positions a layer relative to the card. Left/Top/Right/Width are
// percentages; Right is only read when Left is negative.
type Anchor struct {
	Left  float64 `json:"left" yaml:"left"`
	Top   float64 `json:"top" yaml:"top"`
	Right float64 `json:"right" yaml:"right"`
	Width float64 `json:"width" yaml:"width"`
}

// Fonts are pixel sizes at the canonical resolution.
type Fonts struct {
	MemberID   float64 `json:"member_id" yaml:"member_id"`
	Name       float64 `json:"name" yaml:"name"`
	School     float64 `json:"school" yaml:"school"`
	YearStream float64 `json:"year_stream" yaml:"year_stream"`
}

// Spec is the full card layout.
type Spec struct {
	CanonicalWidth  int `json:"canonical_width" yaml:"canonical_width"`
	CanonicalHeight int `json:"canonical_height" yaml:"canonical_height"`

	// PhotoAspect is width/height of the photo slot; it matches the crop aspect.
	PhotoAspect float64 `json:"photo_aspect" yaml:"photo_aspect"`

	Photo    Anchor `json:"photo" yaml:"photo"`
	MemberID Anchor `json:"member_id" yaml:"member_id"`
	Code     Anchor `json:"code" yaml:"code"`
	Text     Anchor `json:"text" yaml:"text"`

	// LineGap is the spacing between text block lines as a multiple of the
	// line's font size.
	LineGap float64 `json:"line_gap" yaml:"line_gap"`

	Fonts Fonts `json:"fonts" yaml:"fonts"`

	TextColor     color.NRGBA `json:"-" yaml:"-"`
	MemberIDColor color.NRGBA `json:"-" yaml:"-"`
}

// Default returns the 460x733 membership card design.
func Default() Spec {
	return Spec{
		CanonicalWidth:  CanonicalWidth,
		CanonicalHeight: CanonicalHeight,
		PhotoAspect:     1,
		Photo:           Anchor{Left: 29.5, Top: 21.5, Width: 41},
		MemberID:        Anchor{Left: 10, Top: 51.5, Width: 80},
		Code:            Anchor{Left: -1, Top: 75, Right: 8, Width: 21},
		Text:            Anchor{Left: 9, Top: 60, Width: 60},
		LineGap:         1.45,
		Fonts: Fonts{
			MemberID:   20,
			Name:       24,
			School:     15,
			YearStream: 15,
		},
		TextColor:     color.NRGBA{R: 0x1b, G: 0x1f, B: 0x3b, A: 0xff},
		MemberIDColor: color.NRGBA{R: 0x0b, G: 0x6e, B: 0x4f, A: 0xff},
	}
}

// WithCanonical re-derives the canonical resolution from a template asset.
// Anchors are unchanged since they are percentages.
func (s Spec) WithCanonical(w, h int) Spec {
	if w > 0 && h > 0 {
		s.CanonicalWidth, s.CanonicalHeight = w, h
	}
	return s
}

// Scale is the ratio between a rendered size and the canonical size.
type Scale struct {
	X float64
	Y float64
}

// Font is the factor applied to base font sizes: the larger of the two axes.
func (s Scale) Font() float64 {
	return math.Max(s.X, s.Y)
}

// ScaleFor computes the scale of a rendered size.
func (s Spec) ScaleFor(rendered Size) Scale {
	c := s.Canonical()
	if c.W <= 0 || c.H <= 0 {
		return Scale{X: 1, Y: 1}
	}
	return Scale{X: rendered.W / c.W, Y: rendered.H / c.H}
}

// RepinRatio is the factor that takes a preview rendered at current to the
// canonical resolution, per axis.
func (s Spec) RepinRatio(current Size) Scale {
	c := s.Canonical()
	if current.W <= 0 || current.H <= 0 {
		return Scale{X: 1, Y: 1}
	}
	return Scale{X: c.W / current.W, Y: c.H / current.H}
}

// FontSizes are the pixel sizes of every text element at a rendered size.
type FontSizes struct {
	MemberID   float64 `json:"member_id"`
	Name       float64 `json:"name"`
	School     float64 `json:"school"`
	YearStream float64 `json:"year_stream"`
}

// Scaled multiplies every size by k.
func (f FontSizes) Scaled(k float64) FontSizes {
	return FontSizes{
		MemberID:   f.MemberID * k,
		Name:       f.Name * k,
		School:     f.School * k,
		YearStream: f.YearStream * k,
	}
}

// FontSizesFor returns baseSize * max(scaleX, scaleY) for each element.
func (s Spec) FontSizesFor(rendered Size) FontSizes {
	k := s.ScaleFor(rendered).Font()
	return FontSizes{
		MemberID:   s.Fonts.MemberID * k,
		Name:       s.Fonts.Name * k,
		School:     s.Fonts.School * k,
		YearStream: s.Fonts.YearStream * k,
	}
}

// Rect is a float rectangle in rendered pixels.
type Rect struct {
	X, Y, W, H float64
}

// Image converts the rect to integer pixel bounds.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)), int(math.Round(r.Y)),
		int(math.Round(r.X+r.W)), int(math.Round(r.Y+r.H)),
	)
}

// Rects holds the pixel rectangle of every positioned layer.
type Rects struct {
	Photo    Rect
	MemberID Rect
	Code     Rect
	Text     Rect
}

// RectsFor resolves every anchor at a rendered size.
func (s Spec) RectsFor(rendered Size) Rects {
	aspect := s.PhotoAspect
	if aspect <= 0 {
		aspect = 1
	}
	photoW := rendered.W * s.Photo.Width / 100
	codeW := rendered.W * s.Code.Width / 100

	return Rects{
		Photo: Rect{
			X: s.left(s.Photo, rendered, photoW),
			Y: rendered.H * s.Photo.Top / 100,
			W: photoW,
			H: photoW / aspect,
		},
		MemberID: Rect{
			X: s.left(s.MemberID, rendered, 0),
			Y: rendered.H * s.MemberID.Top / 100,
			W: rendered.W * s.MemberID.Width / 100,
		},
		Code: Rect{
			X: s.left(s.Code, rendered, codeW),
			Y: rendered.H * s.Code.Top / 100,
			W: codeW,
			H: codeW,
		},
		Text: Rect{
			X: s.left(s.Text, rendered, 0),
			Y: rendered.H * s.Text.Top / 100,
			W: rendered.W * s.Text.Width / 100,
		},
	}
}

func (s Spec) left(a Anchor, rendered Size, width float64) float64 {
	if a.Left >= 0 {
		return rendered.W * a.Left / 100
	}
	return rendered.W - rendered.W*a.Right/100 - width
}

// DefaultTemplate draws a plain background at the canonical size, used when
// no template asset is configured.
func (s Spec) DefaultTemplate() image.Image {
	w, h := s.CanonicalWidth, s.CanonicalHeight
	bg := imaging.New(w, h, color.NRGBA{R: 0xf7, G: 0xf8, B: 0xfb, A: 0xff})

	band := imaging.New(w, h*17/100, color.NRGBA{R: 0x0b, G: 0x6e, B: 0x4f, A: 0xff})
	bg = imaging.Paste(bg, band, image.Pt(0, 0))

	footer := imaging.New(w, h*4/100, color.NRGBA{R: 0x1b, G: 0x1f, B: 0x3b, A: 0xff})
	bg = imaging.Paste(bg, footer, image.Pt(0, h-h*4/100))

	rects := s.RectsFor(s.Canonical())
	frame := rects.Photo.Image().Inset(-4)
	bg = imaging.Paste(bg, imaging.New(frame.Dx(), frame.Dy(), color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}), frame.Min)
	return bg
}
