// Package mri provides read-only, coordinate-aware access to a pyramidal
// (multi-resolution) image stored as a zarr group: one chunked plane per
// magnification level, indexed 0, 1, ..., plus a "pyramid" attribute
// describing each level's geometry. Callers request rectangular or
// polygon-bounded sub-regions at a chosen level without knowing the on-disk
// chunk layout or doing their own coordinate scaling between levels.
//
// The package never writes or mutates pyramid data, never resamples: each
// level's pixels are read verbatim from the corresponding stored plane.
package mri

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"

	"cpmri/pkg/pyramid"
	"cpmri/pkg/zarr"
)

// ErrStorage wraps failures of the underlying store. It carries the store's
// own error in its chain; callers match the kind with errors.Is(err,
// ErrStorage) and inspect the cause with errors.Unwrap if they care.
var ErrStorage = errors.New("mri: storage failure")

// Error kinds re-exported from the pyramid index so callers of this package
// match every failure with a single import.
var (
	ErrInvalidLevel    = pyramid.ErrInvalidLevel
	ErrOutOfBounds     = pyramid.ErrOutOfBounds
	ErrInvalidArgument = pyramid.ErrInvalidArgument
)

// MRI is a handle on one multi-resolution image. The handle owns the store
// path and the parsed descriptor for its lifetime; the store itself is opened
// per read operation and released when the read completes, so a single handle
// may serve concurrent reads without additional locking.
type MRI struct {
	path  string
	index *pyramid.Index
}

// Open opens the image rooted at path. The pyramid descriptor is read once
// here and never again; a missing or malformed "pyramid" attribute fails the
// open with a *pyramid.MetadataError.
func Open(path string) (*MRI, error) {
	g, err := zarr.OpenGroup(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer g.Close()

	raw, ok := g.RawAttr("pyramid")
	if !ok {
		return nil, &pyramid.MetadataError{Reason: fmt.Sprintf("store %s has no pyramid attribute", path)}
	}
	ix, err := pyramid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &MRI{path: path, index: ix}, nil
}

// Path returns the store path the image was opened from.
func (m *MRI) Path() string {
	return m.path
}

// Index returns the image's pyramid descriptor.
func (m *MRI) Index() *pyramid.Index {
	return m.index
}

// LevelCount returns the number of pyramid levels.
func (m *MRI) LevelCount() int {
	return m.index.LevelCount()
}

// Extent returns the pixel width and height of the given level.
func (m *MRI) Extent(level int) (width, height int, err error) {
	return m.index.Extent(level)
}

// ScalingFactor returns the factor for converting pixel coordinates from
// fromLevel to toLevel. See pyramid.Index.ScalingFactor.
func (m *MRI) ScalingFactor(fromLevel, toLevel int) (float64, error) {
	return m.index.ScalingFactor(fromLevel, toLevel)
}

// ConvertPoint converts a point's pixel coordinates between two levels. The
// result is not rounded. See pyramid.Index.ConvertPoint.
func (m *MRI) ConvertPoint(p orb.Point, fromLevel, toLevel int) (orb.Point, error) {
	return m.index.ConvertPoint(p, fromLevel, toLevel)
}

// ReadRegion reads the rectangle of width and height pixels whose top-left
// corner is (x0, y0) on the given level, returning its samples as T. All
// bounds are validated against the descriptor before the store is touched:
// a bad level fails with ErrInvalidLevel, a rectangle outside the level's
// extent with ErrOutOfBounds, a negative extent with ErrInvalidArgument.
// Sample values are reinterpreted as T with raw-cast truncation; nothing
// checks that the source range fits.
func ReadRegion[T Sample](m *MRI, x0, y0, width, height, level int) (*Buffer[T], error) {
	if err := m.index.CheckRegion(x0, y0, width, height, level); err != nil {
		return nil, err
	}

	g, err := zarr.OpenGroup(m.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer g.Close()

	arr, err := g.Array(strconv.Itoa(level))
	if err != nil {
		return nil, fmt.Errorf("%w: level %d: %w", ErrStorage, level, err)
	}
	raw, err := arr.ReadRect(x0, y0, width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: level %d: %w", ErrStorage, level, err)
	}

	return &Buffer[T]{
		Pix:      convertSamples[T](raw, arr.DType()),
		Width:    width,
		Height:   height,
		Channels: arr.Channels(),
	}, nil
}

// ReadPlane reads an entire level.
func ReadPlane[T Sample](m *MRI, level int) (*Buffer[T], error) {
	w, h, err := m.index.Extent(level)
	if err != nil {
		return nil, err
	}
	return ReadRegion[T](m, 0, 0, w, h, level)
}
