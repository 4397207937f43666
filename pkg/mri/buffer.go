package mri

import (
	"cpmri/pkg/zarr"
)

// Sample is the set of pixel sample types a region can be read as.
type Sample interface {
	~uint8 | ~uint16 | ~uint32 | ~int32 | ~float32 | ~float64
}

// Buffer holds the pixels of one extracted region: row-major,
// channel-interleaved, the same layout as the stored plane.
type Buffer[T Sample] struct {
	// Pix holds Height*Width*Channels samples.
	Pix []T

	// Width and Height are the region's pixel extent.
	Width  int
	Height int

	// Channels is the number of samples per pixel.
	Channels int
}

// At returns the sample of channel c at pixel (x, y).
func (b *Buffer[T]) At(x, y, c int) T {
	return b.Pix[(y*b.Width+x)*b.Channels+c]
}

// zeroPixel clears every channel of pixel (x, y).
func (b *Buffer[T]) zeroPixel(x, y int) {
	base := (y*b.Width + x) * b.Channels
	for c := 0; c < b.Channels; c++ {
		b.Pix[base+c] = 0
	}
}

// convertSamples reinterprets raw stored samples as T. The conversion mirrors
// a raw cast: integer sources wrap modulo the width of T, and float sources
// are truncated toward zero (clamped first, so the cast is well defined). No
// check is made that source values fit in T.
func convertSamples[T Sample](raw []byte, dt zarr.DType) []T {
	n := len(raw) / dt.Size
	out := make([]T, n)
	switch dt.Kind {
	case 'u':
		for i := 0; i < n; i++ {
			out[i] = T(dt.DecodeUint(raw[i*dt.Size:]))
		}
	case 'i':
		for i := 0; i < n; i++ {
			out[i] = T(dt.DecodeInt(raw[i*dt.Size:]))
		}
	default: // 'f'
		// T(1)/T(2) is 0 for the integer instantiations and 0.5 for the
		// float ones, so this detects which cast to apply.
		if T(1)/T(2) != 0 {
			for i := 0; i < n; i++ {
				out[i] = T(dt.DecodeFloat(raw[i*dt.Size:]))
			}
		} else {
			for i := 0; i < n; i++ {
				out[i] = T(truncToInt64(dt.DecodeFloat(raw[i*dt.Size:])))
			}
		}
	}
	return out
}

// truncToInt64 truncates a float toward zero, clamping NaN and out-of-range
// values so the float-to-integer conversion never hits undefined behavior.
func truncToInt64(v float64) int64 {
	const maxExact = float64(1 << 62) // well inside int64 range
	switch {
	case v != v: // NaN
		return 0
	case v >= maxExact:
		return 1 << 62
	case v <= -maxExact:
		return -(1 << 62)
	}
	return int64(v)
}
