package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
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

func TestToJPEGFromPNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}

	out, err := ToJPEG(encodePNG(t, src))
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())
	assert.Equal(t, 4, decoded.Bounds().Dy())
}

func TestDecodeRGBFlattensTransparency(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	// Fully transparent; should flatten onto a white background.
	out, format, err := DecodeRGB(encodePNG(t, src))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	r, g, b, _ := out.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestToJPEGRejectsGarbage(t *testing.T) {
	_, err := ToJPEG([]byte("definitely not an image"))
	assert.Error(t, err)
}
