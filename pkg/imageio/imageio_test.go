package imageio

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage creates a simple gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
		}
	}
	return img
}

func TestGetInfo(t *testing.T) {
	info := GetInfo(createTestImage(400, 300))
	assert.Equal(t, 400, info.Width)
	assert.Equal(t, 300, info.Height)
	assert.InDelta(t, 400.0/300.0, info.AspectRatio, 1e-12)
	assert.Equal(t, 120000, info.Area)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(createTestImage(200, 200), 100))
	require.Error(t, Validate(createTestImage(50, 200), 100))
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"JPG": FormatJPEG, ".jpeg": FormatJPEG, "image/png": FormatPNG, "webp": FormatWebP}
	for in, want := range cases {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("gif")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := createTestImage(64, 48)
	for _, f := range []Format{FormatJPEG, FormatPNG, FormatWebP} {
		data, err := EncodeBytes(src, f, 90)
		require.NoError(t, err, f)

		img, err := DecodeBytes(data)
		require.NoError(t, err, f)
		assert.Equal(t, src.Bounds().Size(), img.Bounds().Size(), f)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not an image")))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSaveAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, Save(createTestImage(32, 16), path, 90))

	img, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestFetch(t *testing.T) {
	data, err := EncodeBytes(createTestImage(20, 10), FormatPNG, 0)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/text" {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hello"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	img, err := Load(context.Background(), srv.URL+"/photo.png")
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())

	_, err = Fetch(context.Background(), srv.URL+"/text")
	require.Error(t, err)

	_, err = Fetch(context.Background(), "ftp://example.com/a.png")
	require.Error(t, err)
}

func TestFetchLimit(t *testing.T) {
	data, err := EncodeBytes(createTestImage(20, 10), FormatPNG, 0)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if r.URL.Path == "/chunked" {
			// No Content-Length: the body itself must be capped.
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	limit := int64(len(data) - 1)
	for _, path := range []string{"/sized", "/chunked"} {
		_, err = FetchLimit(context.Background(), srv.URL+path, limit)
		assert.ErrorIs(t, err, ErrTooLarge, path)
	}

	img, err := FetchLimit(context.Background(), srv.URL+"/sized", int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
}
