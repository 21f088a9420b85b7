// Package phash computes perceptual fingerprints of product photos.
// A fingerprint is an 8x8 average hash: the image is box-downsampled to a grid,
// each cell is converted to luminance, and a bit is set when the cell is brighter
// than the grid mean. Near-identical images produce hashes a few bits apart.
package phash

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"math/bits"
)

// GridSize is the edge length of the downsampled luminance grid
const GridSize = 8

// Bits is the width of a fingerprint
const Bits = GridSize * GridSize

// Hash is a fixed-width bit vector, most significant bit first
type Hash [Bits / 8]byte

// String returns the lowercase hex form used as a storage key
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bit reports whether bit i (0-based, row-major over the grid) is set
func (h Hash) Bit(i int) bool {
	return h[i/8]&(0x80>>(uint(i)%8)) != 0
}

// Parse decodes a hex fingerprint
func Parse(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid fingerprint %q: want %d bytes, got %d", s, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// Distance returns the Hamming distance between two fingerprints
func Distance(a, b Hash) int {
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// Similar reports whether two fingerprints are within threshold bits of each other
func Similar(a, b Hash, threshold int) bool {
	return Distance(a, b) <= threshold
}

// FromBytes decodes an encoded image (JPEG, PNG or GIF) and fingerprints it
func FromBytes(data []byte) (Hash, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Hash{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return FromImage(img), nil
}

// FromImage fingerprints a decoded image
func FromImage(img image.Image) Hash {
	grid := luminanceGrid(img)

	var sum float64
	for _, v := range grid {
		sum += v
	}
	mean := sum / float64(len(grid))

	var h Hash
	for i, v := range grid {
		if v > mean {
			h[i/8] |= 0x80 >> (uint(i) % 8)
		}
	}
	return h
}

// luminanceGrid box-averages the image into GridSize x GridSize cells.
// Every source pixel contributes to exactly one cell, so small images
// (fewer pixels than cells) still produce a populated grid.
func luminanceGrid(img image.Image) [Bits]float64 {
	var sums [Bits]float64
	var counts [Bits]int

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return sums
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		cy := (y - b.Min.Y) * GridSize / h
		for x := b.Min.X; x < b.Max.X; x++ {
			cx := (x - b.Min.X) * GridSize / w
			idx := cy*GridSize + cx
			sums[idx] += luminance(img, x, y)
			counts[idx]++
		}
	}

	for i := range sums {
		if counts[i] > 0 {
			sums[i] /= float64(counts[i])
		}
	}
	return sums
}

// luminance uses Rec. 601 weights on 8-bit channel values
func luminance(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}
