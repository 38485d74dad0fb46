package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Generate("HSS000123", 128)
	require.NoError(t, err)
	b, err := Generate("HSS000123", 128)
	require.NoError(t, err)

	require.Equal(t, a.Bounds(), b.Bounds())
	for y := 0; y < a.Bounds().Dy(); y++ {
		for x := 0; x < a.Bounds().Dx(); x++ {
			require.Equal(t, a.At(x, y), b.At(x, y))
		}
	}
}

func TestGenerateSize(t *testing.T) {
	img, err := Generate("HSS000123", 200)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())

	img, err = Generate("HSS000123", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
}

func TestGenerateEmpty(t *testing.T) {
	_, err := Generate("", 100)
	require.ErrorIs(t, err, ErrEmptyPayload)

	_, err = GeneratePNG("", 100)
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestGeneratePNGDecodes(t *testing.T) {
	data, err := GeneratePNG("HSS000999", 256)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}
