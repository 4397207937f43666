// Package visualization renders extracted pyramid regions as Go images and
// saves them to disk, mainly so the CLI can export what a read returned.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"cpmri/pkg/mri"
)

// Render converts a buffer into an image. One-channel uint8 buffers become
// grayscale, three- and four-channel uint8 buffers become NRGBA; every other
// sample type is min-max normalized into 16-bit grayscale (multi-channel
// buffers are averaged across channels first).
func Render[T mri.Sample](b *mri.Buffer[T]) (image.Image, error) {
	if b.Width <= 0 || b.Height <= 0 {
		return nil, fmt.Errorf("cannot render an empty %dx%d buffer", b.Width, b.Height)
	}

	// Detect the uint8 instantiation: only there does the cast round-trip
	// the full byte range.
	_, isByte := any(b.Pix).([]uint8)

	if isByte {
		switch b.Channels {
		case 1:
			img := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
			for y := 0; y < b.Height; y++ {
				for x := 0; x < b.Width; x++ {
					img.SetGray(x, y, color.Gray{Y: uint8(b.At(x, y, 0))})
				}
			}
			return img, nil
		case 3, 4:
			img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
			for y := 0; y < b.Height; y++ {
				for x := 0; x < b.Width; x++ {
					c := color.NRGBA{
						R: uint8(b.At(x, y, 0)),
						G: uint8(b.At(x, y, 1)),
						B: uint8(b.At(x, y, 2)),
						A: 255,
					}
					if b.Channels == 4 {
						c.A = uint8(b.At(x, y, 3))
					}
					img.SetNRGBA(x, y, c)
				}
			}
			return img, nil
		}
	}

	return renderGray16(b), nil
}

// renderGray16 averages channels and stretches the value range to 16 bits,
// the same normalization the volume viewer applied to reconstructed slices.
func renderGray16[T mri.Sample](b *mri.Buffer[T]) *image.Gray16 {
	lo, hi := math.Inf(1), math.Inf(-1)
	values := make([]float64, b.Width*b.Height)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			var sum float64
			for c := 0; c < b.Channels; c++ {
				sum += float64(b.At(x, y, c))
			}
			v := sum / float64(b.Channels)
			values[y*b.Width+x] = v
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}

	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	img := image.NewGray16(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			v := (values[y*b.Width+x] - lo) * scale
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Max(0, math.Min(65535, v)))})
		}
	}
	return img
}

// SavePNG writes an image as a PNG file.
func SavePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveLevelSequence reads every level of the pyramid and saves each one as a
// PNG named level_NNN.png in outputDir.
func SaveLevelSequence(m *mri.MRI, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for level := 0; level < m.LevelCount(); level++ {
		buf, err := mri.ReadPlane[uint8](m, level)
		if err != nil {
			return err
		}

		img, err := Render(buf)
		if err != nil {
			return fmt.Errorf("level %d: %w", level, err)
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("level_%03d.png", level))
		if err := SavePNG(img, filename); err != nil {
			return err
		}
	}

	return nil
}
