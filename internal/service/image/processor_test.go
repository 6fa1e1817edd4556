package image

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

func noise(w, h int) *image.RGBA {
	r := rand.New(rand.NewPCG(1, 2))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 255
			continue
		}
		img.Pix[i] = uint8(r.IntN(256))
	}
	return img
}

func TestProcess_PassThrough(t *testing.T) {
	data := encodePNG(t, solid(64, 32))
	got, err := NewProcessor(0, 0).Process("dir/cat.PNG", data)
	require.NoError(t, err)

	assert.Equal(t, "cat.PNG", got.Name)
	assert.Equal(t, "image/png", got.MimeType)
	assert.Equal(t, 64, got.Width)
	assert.Equal(t, 32, got.Height)
	assert.False(t, got.Resized)
	assert.Equal(t, data, got.Data)

	f := got.File()
	assert.Equal(t, "cat.PNG", f.Name)
	assert.Equal(t, "image/png", f.ContentType)
}

func TestProcess_DownscalesWideImage(t *testing.T) {
	data := encodePNG(t, solid(2000, 1000))
	got, err := NewProcessor(1280, 0).Process("wide.png", data)
	require.NoError(t, err)

	assert.True(t, got.Resized)
	assert.Equal(t, "wide.jpg", got.Name)
	assert.Equal(t, "image/jpeg", got.MimeType)
	assert.Equal(t, 1280, got.Width)
	assert.Equal(t, 640, got.Height)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(got.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1280, cfg.Width)
}

func TestProcess_ReencodesHeavyImage(t *testing.T) {
	data := encodePNG(t, noise(300, 300))
	limit := len(data) - 1
	got, err := NewProcessor(1280, limit).Process("noise.png", data)
	require.NoError(t, err)

	assert.True(t, got.Resized)
	assert.Equal(t, "image/jpeg", got.MimeType)
	assert.LessOrEqual(t, len(got.Data), limit)
	assert.Equal(t, got.SizeBytes, len(got.Data))
}

func TestProcess_Rejects(t *testing.T) {
	p := NewProcessor(0, 0)

	_, err := p.Process("notes.txt", []byte("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = p.Process("empty.png", nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = p.Process("broken.jpg", []byte("definitely not a jpeg"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestProcess_TooLarge(t *testing.T) {
	data := encodePNG(t, noise(200, 200))
	_, err := NewProcessor(1280, 100).Process("noise.png", data)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}
