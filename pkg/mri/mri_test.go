package mri

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"cpmri/pkg/pyramid"
	"cpmri/pkg/zarr"
)

// levelSpec describes one level of a test pyramid. Sample values come from
// value(x, y, c) so tests can use constants, ramps or checkerboards.
type levelSpec struct {
	width, height int
	channels      int
	dtype         string
	value         func(x, y, c int) float64
}

func constant(v float64) func(x, y, c int) float64 {
	return func(x, y, c int) float64 { return v }
}

func coordRamp(x, y, c int) float64 {
	return float64(y*100 + x + c)
}

// writeTestPyramid builds a zarr store holding the given levels, chunked
// 16x16 so region reads in the tests cross chunk boundaries.
func writeTestPyramid(t *testing.T, levels []levelSpec) string {
	t.Helper()
	root := t.TempDir()

	descriptor := make([]map[string]any, len(levels))
	for i, spec := range levels {
		descriptor[i] = map[string]any{
			"level":             i,
			"width":             spec.width,
			"height":            spec.height,
			"downsample_factor": 1 << i,
		}
		writeTestLevel(t, filepath.Join(root, fmt.Sprintf("%d", i)), spec)
	}

	attrs, err := json.Marshal(map[string]any{"pyramid": descriptor})
	if err != nil {
		t.Fatalf("Failed to marshal attributes: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".zattrs"), attrs, 0644); err != nil {
		t.Fatalf("Failed to write .zattrs: %v", err)
	}
	return root
}

func writeTestLevel(t *testing.T, dir string, spec levelSpec) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create level dir: %v", err)
	}

	const chunkSize = 16
	shape := []int{spec.height, spec.width}
	chunks := []int{chunkSize, chunkSize}
	if spec.channels > 1 {
		shape = append(shape, spec.channels)
		chunks = append(chunks, spec.channels)
	}
	meta := map[string]any{
		"zarr_format": 2,
		"shape":       shape,
		"chunks":      chunks,
		"dtype":       spec.dtype,
		"compressor":  nil,
		"fill_value":  0,
		"order":       "C",
		"filters":     nil,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Failed to marshal .zarray: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".zarray"), raw, 0644); err != nil {
		t.Fatalf("Failed to write .zarray: %v", err)
	}

	var dt zarr.DType
	switch spec.dtype {
	case "|u1":
		dt = zarr.DType{Kind: 'u', Size: 1}
	case "<u2":
		dt = zarr.DType{Kind: 'u', Size: 2}
	case "<f4":
		dt = zarr.DType{Kind: 'f', Size: 4}
	default:
		t.Fatalf("Unsupported test dtype %q", spec.dtype)
	}

	nchan := spec.channels
	if nchan < 1 {
		nchan = 1
	}
	for cy := 0; cy*chunkSize < spec.height; cy++ {
		for cx := 0; cx*chunkSize < spec.width; cx++ {
			chunk := make([]byte, chunkSize*chunkSize*nchan*dt.Size)
			for ly := 0; ly < chunkSize; ly++ {
				for lx := 0; lx < chunkSize; lx++ {
					gy, gx := cy*chunkSize+ly, cx*chunkSize+lx
					if gy >= spec.height || gx >= spec.width {
						continue
					}
					for c := 0; c < nchan; c++ {
						dt.PutSample(chunk[((ly*chunkSize+lx)*nchan+c)*dt.Size:], spec.value(gx, gy, c))
					}
				}
			}
			name := fmt.Sprintf("%d.%d", cy, cx)
			if spec.channels > 1 {
				name += ".0"
			}
			if err := os.WriteFile(filepath.Join(dir, name), chunk, 0644); err != nil {
				t.Fatalf("Failed to write chunk %s: %v", name, err)
			}
		}
	}
}

func openTestMRI(t *testing.T, levels []levelSpec) *MRI {
	t.Helper()
	m, err := Open(writeTestPyramid(t, levels))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return m
}

func TestOpen(t *testing.T) {
	m := openTestMRI(t, []levelSpec{
		{width: 40, height: 30, channels: 1, dtype: "|u1", value: coordRamp},
		{width: 20, height: 15, channels: 1, dtype: "|u1", value: coordRamp},
	})

	if m.LevelCount() != 2 {
		t.Errorf("Expected 2 levels, got %d", m.LevelCount())
	}
	w, h, err := m.Extent(0)
	if err != nil {
		t.Fatalf("Extent failed: %v", err)
	}
	if w != 40 || h != 30 {
		t.Errorf("Expected extent 40x30, got %dx%d", w, h)
	}
}

func TestOpenMissingStore(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrStorage) {
		t.Errorf("Expected ErrStorage, got %v", err)
	}
}

func TestOpenWithoutPyramidAttribute(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".zattrs"), []byte(`{"note": "no pyramid here"}`), 0644); err != nil {
		t.Fatalf("Failed to write .zattrs: %v", err)
	}

	_, err := Open(root)
	var merr *pyramid.MetadataError
	if !errors.As(err, &merr) {
		t.Errorf("Expected a MetadataError, got %v", err)
	}
}

func TestOpenMalformedDescriptor(t *testing.T) {
	root := t.TempDir()
	attrs := `{"pyramid": [{"level": 0, "width": -4, "height": 4, "downsample_factor": 1}]}`
	if err := os.WriteFile(filepath.Join(root, ".zattrs"), []byte(attrs), 0644); err != nil {
		t.Fatalf("Failed to write .zattrs: %v", err)
	}

	_, err := Open(root)
	var merr *pyramid.MetadataError
	if !errors.As(err, &merr) {
		t.Errorf("Expected a MetadataError, got %v", err)
	}
}

func TestReadRegionValues(t *testing.T) {
	m := openTestMRI(t, []levelSpec{
		{width: 40, height: 30, channels: 1, dtype: "|u1", value: coordRamp},
	})

	// A region crossing the 16-pixel chunk boundary on both axes.
	buf, err := ReadRegion[uint8](m, 10, 12, 12, 8, 0)
	if err != nil {
		t.Fatalf("ReadRegion failed: %v", err)
	}
	if buf.Width != 12 || buf.Height != 8 || buf.Channels != 1 {
		t.Fatalf("Unexpected buffer shape %dx%dx%d", buf.Width, buf.Height, buf.Channels)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 12; x++ {
			want := uint8((y+12)*100 + (x + 10))
			if got := buf.At(x, y, 0); got != want {
				t.Errorf("Pixel (%d,%d): expected %d, got %d", x, y, want, got)
			}
		}
	}
}

// TestReadRegionEqualsPlane checks the full-extent region read returns the
// same pixels as the whole-plane read, on every level.
func TestReadRegionEqualsPlane(t *testing.T) {
	m := openTestMRI(t, []levelSpec{
		{width: 40, height: 30, channels: 3, dtype: "|u1", value: coordRamp},
		{width: 20, height: 15, channels: 3, dtype: "|u1", value: coordRamp},
	})

	for level := 0; level < m.LevelCount(); level++ {
		w, h, err := m.Extent(level)
		if err != nil {
			t.Fatalf("Extent(%d) failed: %v", level, err)
		}

		region, err := ReadRegion[uint8](m, 0, 0, w, h, level)
		if err != nil {
			t.Fatalf("ReadRegion(level %d) failed: %v", level, err)
		}
		plane, err := ReadPlane[uint8](m, level)
		if err != nil {
			t.Fatalf("ReadPlane(level %d) failed: %v", level, err)
		}

		if region.Width != plane.Width || region.Height != plane.Height ||
			region.Channels != plane.Channels {
			t.Fatalf("Level %d: shape mismatch %dx%dx%d vs %dx%dx%d", level,
				region.Width, region.Height, region.Channels,
				plane.Width, plane.Height, plane.Channels)
		}
		for i := range plane.Pix {
			if region.Pix[i] != plane.Pix[i] {
				t.Fatalf("Level %d: sample %d differs: %d vs %d",
					level, i, region.Pix[i], plane.Pix[i])
			}
		}
	}
}

func TestReadRegionInvalidLevel(t *testing.T) {
	m := openTestMRI(t, []levelSpec{
		{width: 20, height: 20, channels: 1, dtype: "|u1", value: coordRamp},
	})

	for _, level := range []int{-1, m.LevelCount()} {
		if _, err := ReadRegion[uint8](m, 0, 0, 4, 4, level); !errors.Is(err, ErrInvalidLevel) {
			t.Errorf("Level %d: expected ErrInvalidLevel, got %v", level, err)
		}
		if _, err := ReadPlane[uint8](m, level); !errors.Is(err, ErrInvalidLevel) {
			t.Errorf("ReadPlane level %d: expected ErrInvalidLevel, got %v", level, err)
		}
	}
}

func TestReadRegionOutOfBounds(t *testing.T) {
	m := openTestMRI(t, []levelSpec{
		{width: 20, height: 20, channels: 1, dtype: "|u1", value: coordRamp},
	})

	cases := []struct{ x0, y0, w, h int }{
		{5, 5, 16, 10}, // 5+16 > 20
		{5, 5, 10, 16},
		{-1, 0, 5, 5},
		{0, -2, 5, 5},
		{20, 0, 1, 1},
	}
	for _, tc := range cases {
		_, err := ReadRegion[uint8](m, tc.x0, tc.y0, tc.w, tc.h, 0)
		if !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("Region (%d,%d)+%dx%d: expected ErrOutOfBounds, got %v",
				tc.x0, tc.y0, tc.w, tc.h, err)
		}
	}

	// Negative extents are a malformed argument, not a bounds failure.
	if _, err := ReadRegion[uint8](m, 0, 0, -4, 4, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for a negative width, got %v", err)
	}
}

// TestSampleTruncation reads 16-bit samples as uint8 and expects the raw-cast
// wraparound, with no range validation.
func TestSampleTruncation(t *testing.T) {
	m := openTestMRI(t, []levelSpec{
		{width: 4, height: 1, channels: 1, dtype: "<u2", value: func(x, y, c int) float64 {
			return float64([]int{0, 255, 300, 65535}[x])
		}},
	})

	narrow, err := ReadPlane[uint8](m, 0)
	if err != nil {
		t.Fatalf("ReadPlane failed: %v", err)
	}
	for i, want := range []uint8{0, 255, 44, 255} { // 300 % 256 == 44
		if narrow.Pix[i] != want {
			t.Errorf("Sample %d as uint8: expected %d, got %d", i, want, narrow.Pix[i])
		}
	}

	wide, err := ReadPlane[uint16](m, 0)
	if err != nil {
		t.Fatalf("ReadPlane failed: %v", err)
	}
	for i, want := range []uint16{0, 255, 300, 65535} {
		if wide.Pix[i] != want {
			t.Errorf("Sample %d as uint16: expected %d, got %d", i, want, wide.Pix[i])
		}
	}
}

// TestFloatSamples reads a float32 plane both as float64 and truncated to
// integers.
func TestFloatSamples(t *testing.T) {
	m := openTestMRI(t, []levelSpec{
		{width: 4, height: 1, channels: 1, dtype: "<f4", value: func(x, y, c int) float64 {
			return []float64{0, 0.75, 2.5, -1.25}[x]
		}},
	})

	f, err := ReadPlane[float64](m, 0)
	if err != nil {
		t.Fatalf("ReadPlane failed: %v", err)
	}
	for i, want := range []float64{0, 0.75, 2.5, -1.25} {
		if f.Pix[i] != want {
			t.Errorf("Sample %d as float64: expected %g, got %g", i, want, f.Pix[i])
		}
	}

	n, err := ReadPlane[int32](m, 0)
	if err != nil {
		t.Fatalf("ReadPlane failed: %v", err)
	}
	for i, want := range []int32{0, 0, 2, -1} {
		if n.Pix[i] != want {
			t.Errorf("Sample %d as int32: expected %d, got %d", i, want, n.Pix[i])
		}
	}
}

func TestGeometryDelegation(t *testing.T) {
	m := openTestMRI(t, []levelSpec{
		{width: 32, height: 32, channels: 1, dtype: "|u1", value: coordRamp},
		{width: 16, height: 16, channels: 1, dtype: "|u1", value: coordRamp},
	})

	f, err := m.ScalingFactor(0, 1)
	if err != nil {
		t.Fatalf("ScalingFactor failed: %v", err)
	}
	if f != 0.5 {
		t.Errorf("Expected scaling factor 0.5, got %g", f)
	}

	if m.Index().LevelCount() != m.LevelCount() {
		t.Error("Index() must expose the same descriptor the handle uses")
	}
}

func TestReadRegionMissingLevelArray(t *testing.T) {
	root := t.TempDir()
	attrs := `{"pyramid": [{"level": 0, "width": 8, "height": 8, "downsample_factor": 1}]}`
	if err := os.WriteFile(filepath.Join(root, ".zattrs"), []byte(attrs), 0644); err != nil {
		t.Fatalf("Failed to write .zattrs: %v", err)
	}

	// The descriptor promises a level the store does not hold: geometry
	// queries still work, reads fail with a storage error.
	m, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, _, err := m.Extent(0); err != nil {
		t.Errorf("Extent should not touch storage, got %v", err)
	}
	if _, err := ReadRegion[uint8](m, 0, 0, 4, 4, 0); !errors.Is(err, ErrStorage) {
		t.Errorf("Expected ErrStorage, got %v", err)
	}
}
