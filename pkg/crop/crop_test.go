package crop

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/membercard/pkg/imageio"
	"github.com/menta2k/membercard/pkg/types"
)

// createTestImage creates a pattern with a bright subject in the center
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.NRGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 64, 255})
			}
		}
	}
	return img
}

type fakeLocator struct {
	box types.Box
	err error
}

func (f fakeLocator) Locate(context.Context, image.Image) (types.Box, error) {
	return f.box, f.err
}

func TestDefaultRegionSquareOnLandscape(t *testing.T) {
	display := types.DisplaySize{W: 1200, H: 800}
	r := DefaultRegion(display, 1, 0.8, nil)
	px := r.ToPixels(display)

	assert.Equal(t, types.UnitPercent, r.Unit)
	assert.InDelta(t, px.Width, px.Height, 1e-9)
	assert.LessOrEqual(t, px.Width, 800.0)
	assert.InDelta(t, (1200-px.Width)/2, px.X, 1e-9)
	assert.InDelta(t, (1200-px.X-px.Width), px.X, 1e-9)
	assert.InDelta(t, (800-px.Height)/2, px.Y, 1e-9)
}

func TestDefaultRegionHoldsAspectInsideBounds(t *testing.T) {
	displays := []types.DisplaySize{{W: 1200, H: 800}, {W: 300, H: 900}, {W: 641, H: 479}, {W: 1, H: 1}}
	aspects := []float64{1, 3.0 / 4.0, 4.0 / 3.0, 16.0 / 9.0, 0.2}

	for _, d := range displays {
		for _, a := range aspects {
			for _, frac := range []float64{0.5, 0.8, 1} {
				px := DefaultRegion(d, a, frac, nil).ToPixels(d)
				assert.InDelta(t, a, px.Width/px.Height, 1e-9, "display %v aspect %v", d, a)
				assert.GreaterOrEqual(t, px.X, -1e-9)
				assert.GreaterOrEqual(t, px.Y, -1e-9)
				assert.LessOrEqual(t, px.X+px.Width, d.W+1e-9)
				assert.LessOrEqual(t, px.Y+px.Height, d.H+1e-9)
			}
		}
	}
}

func TestDefaultRegionFollowsHintButStaysInside(t *testing.T) {
	display := types.DisplaySize{W: 1000, H: 500}
	hint := &types.Box{X: 0.9, Y: 0.4, W: 0.1, H: 0.2}

	px := DefaultRegion(display, 1, 0.5, hint).ToPixels(display)
	assert.InDelta(t, 250.0, px.Width, 1e-9)
	// The hint center (950px) would push the region past the right edge.
	assert.InDelta(t, 750.0, px.X, 1e-9)
	assert.InDelta(t, 125.0, px.Y, 1e-9)
}

func TestNaturalRectScalesDisplayedPixels(t *testing.T) {
	display := types.DisplaySize{W: 600, H: 400}
	natural := image.Pt(1200, 800)

	r := types.CropRegion{Unit: types.UnitPercent, X: 25, Y: 10, Width: 50, Height: 75}
	assert.Equal(t, image.Rect(300, 80, 900, 680), NaturalRect(r, display, natural))

	px := types.CropRegion{Unit: types.UnitPixel, X: 150, Y: 40, Width: 300, Height: 300}
	assert.Equal(t, image.Rect(300, 80, 900, 680), NaturalRect(px, display, natural))
}

func TestFitDisplay(t *testing.T) {
	d := FitDisplay(image.Pt(1200, 800), types.DisplaySize{W: 600, H: 600})
	assert.InDelta(t, 600.0, d.W, 1e-9)
	assert.InDelta(t, 400.0, d.H, 1e-9)

	d = FitDisplay(image.Pt(800, 1200), types.DisplaySize{W: 600, H: 600})
	assert.InDelta(t, 400.0, d.W, 1e-9)
	assert.InDelta(t, 600.0, d.H, 1e-9)
}

func TestSessionConfirmProducesNaturalResolution(t *testing.T) {
	src := createTestImage(1200, 800)
	s := NewSession(DefaultConfig())
	require.False(t, s.CanConfirm())

	// Displayed at half size: the output must still be at natural size.
	require.NoError(t, s.Load(context.Background(), src, types.DisplaySize{W: 600, H: 400}))
	require.Equal(t, StateCropping, s.State())
	require.True(t, s.CanConfirm())

	a, err := s.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, s.State())
	assert.Equal(t, "image/jpeg", a.MIME)
	assert.Equal(t, 640, a.Width)
	assert.Equal(t, 640, a.Height)

	img, err := imageio.DecodeBytes(a.Data)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(640, 640), img.Bounds().Size())
}

func TestSessionRecropIsIdempotent(t *testing.T) {
	var notified []*types.Artifact
	s := NewSession(Config{Aspect: 1, Format: imageio.FormatPNG}, WithCommit(func(a *types.Artifact) {
		notified = append(notified, a)
	}))
	require.NoError(t, s.Load(context.Background(), createTestImage(300, 200), types.DisplaySize{}))

	first, err := s.Confirm(context.Background())
	require.NoError(t, err)
	firstImg := s.Result()

	require.NoError(t, s.Recrop())
	assert.Equal(t, StateCropping, s.State())
	assert.Nil(t, s.Artifact())
	require.Len(t, notified, 1)
	assert.Nil(t, notified[0])

	second, err := s.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first.Data, second.Data))

	secondImg := s.Result()
	require.Equal(t, firstImg.Bounds(), secondImg.Bounds())
	for y := 0; y < firstImg.Bounds().Dy(); y++ {
		for x := 0; x < firstImg.Bounds().Dx(); x++ {
			require.Equal(t, firstImg.At(x, y), secondImg.At(x, y))
		}
	}

	done, err := s.Done()
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, s.State())
	require.Len(t, notified, 2)
	assert.Same(t, done, notified[1])
}

func TestSessionCancelDoesNotNotify(t *testing.T) {
	called := false
	s := NewSession(DefaultConfig(), WithCommit(func(*types.Artifact) { called = true }))
	require.NoError(t, s.Load(context.Background(), createTestImage(100, 100), types.DisplaySize{}))
	_, err := s.Confirm(context.Background())
	require.NoError(t, err)

	s.Cancel()
	assert.Equal(t, StateCancelled, s.State())
	assert.False(t, called)

	_, err = s.Done()
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, s.Load(context.Background(), createTestImage(10, 10), types.DisplaySize{}), ErrInvalidState)
}

func TestSessionConfirmBeforeLoad(t *testing.T) {
	s := NewSession(DefaultConfig())
	_, err := s.Confirm(context.Background())
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestSessionConfirmEmptyRegion(t *testing.T) {
	s := NewSession(DefaultConfig())
	require.NoError(t, s.Load(context.Background(), createTestImage(100, 100), types.DisplaySize{}))
	require.NoError(t, s.ResizeWidth(0))
	assert.False(t, s.CanConfirm())

	_, err := s.Confirm(context.Background())
	require.ErrorIs(t, err, ErrEmptyRegion)
}

func TestSessionResizeKeepsAspect(t *testing.T) {
	display := types.DisplaySize{W: 400, H: 300}
	s := NewSession(Config{Aspect: 4.0 / 3.0})
	require.NoError(t, s.Load(context.Background(), createTestImage(800, 600), display))

	require.NoError(t, s.ResizeWidth(50))
	px := s.Region().ToPixels(display)
	assert.InDelta(t, 200.0, px.Width, 1e-9)
	assert.InDelta(t, 150.0, px.Height, 1e-9)

	require.NoError(t, s.ResizeHeight(100))
	px = s.Region().ToPixels(display)
	assert.InDelta(t, 300.0, px.Height, 1e-9)
	assert.InDelta(t, 400.0, px.Width, 1e-9)

	// Growing past the bounds is clamped with the aspect intact.
	require.NoError(t, s.ResizeWidth(150))
	px = s.Region().ToPixels(display)
	assert.InDelta(t, 4.0/3.0, px.Width/px.Height, 1e-9)
	assert.LessOrEqual(t, px.Width, display.W+1e-9)
	assert.LessOrEqual(t, px.Height, display.H+1e-9)
}

func TestSessionMoveClampsInsideImage(t *testing.T) {
	display := types.DisplaySize{W: 200, H: 100}
	s := NewSession(Config{Aspect: 1, DefaultFraction: 0.5})
	require.NoError(t, s.Load(context.Background(), createTestImage(200, 100), display))

	require.NoError(t, s.Move(95, 95))
	px := s.Region().ToPixels(display)
	assert.InDelta(t, 150.0, px.X, 1e-9)
	assert.InDelta(t, 50.0, px.Y, 1e-9)

	require.NoError(t, s.SetRegion(types.CropRegion{Unit: types.UnitPixel, X: -10, Y: 0, Width: 40, Height: 10}))
	r := s.Region()
	assert.Equal(t, types.UnitPixel, r.Unit)
	assert.InDelta(t, 0.0, r.X, 1e-9)
	assert.InDelta(t, 40.0, r.Height, 1e-9)

	err := s.SetRegion(types.CropRegion{Unit: types.UnitPercent, Width: 120, Height: 10})
	require.ErrorIs(t, err, types.ErrRegionOutOfRange)
}

func TestSessionUsesLocatorHint(t *testing.T) {
	display := types.DisplaySize{W: 1000, H: 500}
	s := NewSession(Config{Aspect: 1, DefaultFraction: 0.5},
		WithLocator(fakeLocator{box: types.Box{X: 0, Y: 0, W: 0.2, H: 0.4}}))
	require.NoError(t, s.Load(context.Background(), createTestImage(1000, 500), display))

	px := s.Region().ToPixels(display)
	assert.InDelta(t, 0.0, px.X, 1e-9)
	assert.InDelta(t, 0.0, px.Y, 1e-9)

	failing := NewSession(Config{Aspect: 1, DefaultFraction: 0.5},
		WithLocator(fakeLocator{err: errors.New("model offline")}))
	require.NoError(t, failing.Load(context.Background(), createTestImage(1000, 500), display))
	px = failing.Region().ToPixels(display)
	assert.InDelta(t, 375.0, px.X, 1e-9)
}

func TestPreviewUsesPixelRatio(t *testing.T) {
	src := createTestImage(1200, 800)
	display := types.DisplaySize{W: 600, H: 400}
	r := types.CropRegion{Unit: types.UnitPixel, X: 0, Y: 0, Width: 100, Height: 100}

	img, err := Preview(src, r, display, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(200, 200), img.Bounds().Size())
}

func TestFlattenOutsideImage(t *testing.T) {
	r := types.CropRegion{Unit: types.UnitPixel, X: 500, Y: 500, Width: 10, Height: 10}
	_, err := Flatten(createTestImage(100, 100), r, types.DisplaySize{W: 100, H: 100})
	require.ErrorIs(t, err, ErrNoContext)
}
