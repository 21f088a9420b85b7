package phash

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

// productPhoto draws a high-contrast block pattern with a soft gradient so the
// per-cell means sit far from the grid mean
func productPhoto(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	block := size / GridSize
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			bright := ((x/block)+(y/block))%2 == 0
			base := 40 + uint8(x*20/size)
			if bright {
				base = 200 + uint8(y*20/size)
			}
			img.Set(x, y, color.RGBA{R: base, G: base, B: base - 10, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func TestFromImage_Deterministic(t *testing.T) {
	img := productPhoto(128)

	first := FromImage(img)
	second := FromImage(img)

	assert.Equal(t, first, second)
	assert.Len(t, first.String(), 16)
}

func TestFromBytes_RecompressionStaysSimilar(t *testing.T) {
	img := productPhoto(256)

	original := encodeJPEG(t, img, 95)
	h1, err := FromBytes(original)
	require.NoError(t, err)

	// Decode and re-encode at a much lower quality, as a marketplace re-upload would
	decoded, err := jpeg.Decode(bytes.NewReader(original))
	require.NoError(t, err)
	recompressed := encodeJPEG(t, decoded, 40)

	h2, err := FromBytes(recompressed)
	require.NoError(t, err)

	assert.LessOrEqual(t, Distance(h1, h2), 5)
}

func TestFromBytes_PNGAndJPEGAgree(t *testing.T) {
	img := productPhoto(64)

	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	hp, err := FromBytes(pngBuf.Bytes())
	require.NoError(t, err)
	hj, err := FromBytes(encodeJPEG(t, img, 90))
	require.NoError(t, err)

	assert.True(t, Similar(hp, hj, 5))
}

func TestFromBytes_InvalidImage(t *testing.T) {
	_, err := FromBytes([]byte("not an image"))
	assert.Error(t, err)
}

func TestFromImage_PatternBits(t *testing.T) {
	img := productPhoto(64)
	h := FromImage(img)

	// Cell (0,0) is bright and cell (1,0) is dark in the checkerboard
	assert.True(t, h.Bit(0))
	assert.False(t, h.Bit(1))
	assert.True(t, h.Bit(GridSize+1))
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{name: "identical", a: "ffffffffffffffff", b: "ffffffffffffffff", want: 0},
		{name: "one bit", a: "0000000000000000", b: "0000000000000001", want: 1},
		{name: "all bits", a: "0000000000000000", b: "ffffffffffffffff", want: 64},
		{name: "mixed", a: "f0f0f0f0f0f0f0f0", b: "0ff0f0f0f0f0f0f0", want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.a)
			require.NoError(t, err)
			b, err := Parse(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Distance(a, b))
			assert.Equal(t, tt.want, Distance(b, a))
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("xyz")
	assert.Error(t, err)

	_, err = Parse("abcd")
	assert.Error(t, err)
}
