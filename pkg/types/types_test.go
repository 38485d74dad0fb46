package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCropRegionPercentRoundTrip(t *testing.T) {
	displays := []DisplaySize{{W: 640, H: 480}, {W: 333.3, H: 211.7}, {W: 1, H: 1000}}
	regions := []CropRegion{
		{Unit: UnitPercent, X: 12.5, Y: 3, Width: 50, Height: 66.6},
		{Unit: UnitPercent, X: 0, Y: 0, Width: 100, Height: 100},
		{Unit: UnitPercent, X: 99.9, Y: 0.1, Width: 0.1, Height: 10},
	}

	for _, d := range displays {
		for _, r := range regions {
			px := r.ToPixels(d)
			assert.Equal(t, UnitPixel, px.Unit)

			back := px.ToPercent(d)
			assert.Equal(t, UnitPercent, back.Unit)
			assert.InDelta(t, r.X, back.X, 1e-9)
			assert.InDelta(t, r.Y, back.Y, 1e-9)
			assert.InDelta(t, r.Width, back.Width, 1e-9)
			assert.InDelta(t, r.Height, back.Height, 1e-9)
		}
	}
}

func TestCropRegionToPixelsIsIdentityForPixels(t *testing.T) {
	r := CropRegion{Unit: UnitPixel, X: 10, Y: 20, Width: 30, Height: 40}
	assert.Equal(t, r, r.ToPixels(DisplaySize{W: 100, H: 100}))
}

func TestCropRegionValidate(t *testing.T) {
	require.NoError(t, CropRegion{Unit: UnitPercent, X: 0, Y: 0, Width: 100, Height: 100}.Validate())
	require.NoError(t, CropRegion{Unit: UnitPixel, X: 500, Width: 900}.Validate())

	err := CropRegion{Unit: UnitPercent, X: -1, Width: 10, Height: 10}.Validate()
	require.ErrorIs(t, err, ErrRegionOutOfRange)

	err = CropRegion{Unit: UnitPercent, Width: 101, Height: 10}.Validate()
	require.ErrorIs(t, err, ErrRegionOutOfRange)
}

func TestCropRegionIsEmpty(t *testing.T) {
	assert.True(t, CropRegion{Width: 0, Height: 10}.IsEmpty())
	assert.True(t, CropRegion{Width: 10}.IsEmpty())
	assert.False(t, CropRegion{Width: 1, Height: 1}.IsEmpty())
}

func TestYearStream(t *testing.T) {
	assert.Equal(t, "1st Year - Science", CardFields{Year: "1st", Stream: "Science"}.YearStream())
	assert.Equal(t, "Commerce", CardFields{Stream: "Commerce"}.YearStream())
	assert.Equal(t, "2nd", CardFields{Year: "2nd"}.YearStream())
}
