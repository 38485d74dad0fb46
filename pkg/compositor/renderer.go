// Package compositor renders a membership card: the background template, the
// cropped photo, the member id, the scannable code and the identity text
// block, positioned by a resolution independent layout.Spec.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/menta2k/membercard/pkg/layout"
	"github.com/menta2k/membercard/pkg/types"
)

// ErrNoSurface is returned when the drawing surface has no pixels.
var ErrNoSurface = errors.New("compositor: no drawing surface")

// Scene is everything needed to draw one card at one size.
type Scene struct {
	Layout   layout.Spec
	Fields   types.CardFields
	Template image.Image
	Photo    image.Image
	// Code is nil until the scannable code is available; the layer is then
	// simply not drawn.
	Code image.Image
	// Size is the render target size. Zero means the surface size.
	Size layout.Size
	// Fonts overrides the text sizes derived from Size.
	Fonts *layout.FontSizes
}

// Renderer draws scenes. It is safe for concurrent use.
type Renderer struct {
	regular *text.FontSource
	bold    *text.FontSource
}

// NewRenderer loads the Go fonts.
func NewRenderer() (*Renderer, error) {
	regular, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("compositor: load regular font: %w", err)
	}
	bold, err := text.NewFontSource(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("compositor: load bold font: %w", err)
	}
	return &Renderer{regular: regular, bold: bold}, nil
}

// Render draws the scene into a new image of scene.Size pixels. This is the
// single render path shared by preview and export.
func (r *Renderer) Render(scene Scene) (*image.NRGBA, error) {
	w := int(math.Round(scene.Size.W))
	h := int(math.Round(scene.Size.H))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrNoSurface, w, h)
	}
	dc := gg.NewContext(w, h)
	defer dc.Close()

	if err := r.DrawTo(dc, scene); err != nil {
		return nil, err
	}
	if err := dc.FlushGPU(); err != nil {
		return nil, fmt.Errorf("compositor: flush: %w", err)
	}
	return imaging.Clone(dc.Image()), nil
}

// DrawTo draws the scene onto a caller owned surface, back to front.
func (r *Renderer) DrawTo(dc *gg.Context, scene Scene) error {
	if dc == nil || dc.Width() <= 0 || dc.Height() <= 0 {
		return ErrNoSurface
	}
	size := scene.Size
	if size.W <= 0 || size.H <= 0 {
		size = layout.Size{W: float64(dc.Width()), H: float64(dc.Height())}
	}
	spec := scene.Layout
	rects := spec.RectsFor(size)
	fonts := spec.FontSizesFor(size)
	if scene.Fonts != nil {
		fonts = *scene.Fonts
	}

	dc.SetColor(color.White)
	dc.DrawRectangle(0, 0, size.W, size.H)
	if err := dc.Fill(); err != nil {
		return fmt.Errorf("compositor: clear: %w", err)
	}

	tpl := scene.Template
	if tpl == nil {
		tpl = spec.DefaultTemplate()
	}
	drawImage(dc, tpl, layout.Rect{W: size.W, H: size.H}, gg.InterpBilinear)

	if scene.Photo != nil {
		pr := rects.Photo.Image()
		if pr.Dx() > 0 && pr.Dy() > 0 {
			photo := imaging.Fill(scene.Photo, pr.Dx(), pr.Dy(), imaging.Center, imaging.Lanczos)
			drawImage(dc, photo, layout.Rect{X: float64(pr.Min.X), Y: float64(pr.Min.Y), W: float64(pr.Dx()), H: float64(pr.Dy())}, gg.InterpBilinear)
		}
	}

	if id := scene.Fields.MemberID; id != "" {
		dc.SetColor(spec.MemberIDColor)
		dc.SetFont(r.bold.Face(fonts.MemberID))
		w, _ := dc.MeasureString(id)
		dc.DrawString(id, rects.MemberID.X+(rects.MemberID.W-w)/2, rects.MemberID.Y+fonts.MemberID)
	}

	if scene.Code != nil {
		drawImage(dc, scene.Code, rects.Code, gg.InterpNearest)
	}

	dc.SetColor(spec.TextColor)
	y := rects.Text.Y
	lines := []struct {
		text string
		src  *text.FontSource
		size float64
	}{
		{scene.Fields.FullName, r.bold, fonts.Name},
		{scene.Fields.SchoolName, r.regular, fonts.School},
		{scene.Fields.YearStream(), r.regular, fonts.YearStream},
	}
	for _, line := range lines {
		if line.text == "" || line.size <= 0 {
			continue
		}
		face := line.src.Face(line.size)
		dc.SetFont(face)
		for _, wrapped := range text.WrapText(line.text, face, rects.Text.W, text.WrapWord) {
			y += line.size
			dc.DrawString(wrapped.Text, rects.Text.X, y)
			y += line.size * (spec.LineGap - 1)
		}
	}
	return nil
}

func drawImage(dc *gg.Context, img image.Image, at layout.Rect, interp gg.InterpolationMode) {
	dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
		X:             at.X,
		Y:             at.Y,
		DstWidth:      at.W,
		DstHeight:     at.H,
		Interpolation: interp,
		Opacity:       1,
		BlendMode:     gg.BlendNormal,
	})
}
