// Package pyramid holds the per-level geometry of a multi-resolution image.
// It parses the "pyramid" descriptor stored alongside the pixel data and
// answers level-count, extent and coordinate-scaling queries. All bounds and
// coordinate logic for region reads funnels through this package.
package pyramid

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// Sentinel errors for geometry queries. Callers match them with errors.Is to
// tell a nonexistent level apart from a rectangle that exceeds a level's extent.
var (
	// ErrInvalidLevel reports a level index outside [0, LevelCount()).
	ErrInvalidLevel = errors.New("pyramid: requested level does not exist")

	// ErrOutOfBounds reports a region outside the level's extent.
	ErrOutOfBounds = errors.New("pyramid: region out of layer's extent")

	// ErrInvalidArgument reports malformed caller input such as a negative
	// region extent or a negative border.
	ErrInvalidArgument = errors.New("pyramid: invalid argument")
)

// MetadataError reports a missing or malformed pyramid descriptor. It is
// fatal to the open call that produced it.
type MetadataError struct {
	Reason string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("pyramid: bad descriptor: %s", e.Reason)
}

// Level describes one plane of the pyramid.
type Level struct {
	// Level is the plane's index; level 0 is full resolution.
	Level int `json:"level"`

	// Width and Height are the plane's pixel extent.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Downsample is the ratio of level-0 pixel spacing to this level's
	// pixel spacing. Level 0 conventionally has factor 1.
	Downsample float64 `json:"downsample_factor"`
}

// Index is the parsed, immutable pyramid descriptor. It is read once when an
// image is opened and never mutated afterwards, so it is safe for concurrent
// use without locking.
type Index struct {
	levels []Level
}

// Parse decodes a pyramid descriptor from its JSON attribute form: an array
// of records with level, width, height and downsample_factor fields. Levels
// may appear in any order but must cover 0..N-1 exactly once each.
func Parse(raw []byte) (*Index, error) {
	if len(raw) == 0 {
		return nil, &MetadataError{Reason: "descriptor is empty"}
	}

	var entries []struct {
		Level      *int     `json:"level"`
		Width      *int     `json:"width"`
		Height     *int     `json:"height"`
		Downsample *float64 `json:"downsample_factor"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &MetadataError{Reason: fmt.Sprintf("cannot decode descriptor: %v", err)}
	}
	if len(entries) == 0 {
		return nil, &MetadataError{Reason: "descriptor has no levels"}
	}

	levels := make([]Level, len(entries))
	seen := make([]bool, len(entries))
	for i, e := range entries {
		if e.Level == nil || e.Width == nil || e.Height == nil || e.Downsample == nil {
			return nil, &MetadataError{Reason: fmt.Sprintf("entry %d is missing a field", i)}
		}
		l := *e.Level
		if l < 0 || l >= len(entries) {
			return nil, &MetadataError{Reason: fmt.Sprintf("level index %d is not contiguous in 0..%d", l, len(entries)-1)}
		}
		if seen[l] {
			return nil, &MetadataError{Reason: fmt.Sprintf("duplicate level %d", l)}
		}
		if *e.Width <= 0 || *e.Height <= 0 {
			return nil, &MetadataError{Reason: fmt.Sprintf("level %d has non-positive extent %dx%d", l, *e.Width, *e.Height)}
		}
		if *e.Downsample <= 0 {
			return nil, &MetadataError{Reason: fmt.Sprintf("level %d has non-positive downsample factor %g", l, *e.Downsample)}
		}
		seen[l] = true
		levels[l] = Level{Level: l, Width: *e.Width, Height: *e.Height, Downsample: *e.Downsample}
	}

	return &Index{levels: levels}, nil
}

// LevelCount returns the number of pyramid levels.
func (ix *Index) LevelCount() int {
	return len(ix.levels)
}

// Levels returns a copy of the per-level records, ordered by level.
func (ix *Index) Levels() []Level {
	out := make([]Level, len(ix.levels))
	copy(out, ix.levels)
	return out
}

// Extent returns the pixel width and height of the given level.
func (ix *Index) Extent(level int) (width, height int, err error) {
	if level < 0 || level >= len(ix.levels) {
		return 0, 0, fmt.Errorf("%w: %d (have %d levels)", ErrInvalidLevel, level, len(ix.levels))
	}
	return ix.levels[level].Width, ix.levels[level].Height, nil
}

// ScalingFactor returns the factor for converting pixel coordinates from one
// level to another: downsample(from) / downsample(to). The from == to case is
// answered as exactly 1.0 without performing the division.
func (ix *Index) ScalingFactor(fromLevel, toLevel int) (float64, error) {
	if fromLevel < 0 || fromLevel >= len(ix.levels) {
		return 0, fmt.Errorf("%w: %d (have %d levels)", ErrInvalidLevel, fromLevel, len(ix.levels))
	}
	if toLevel < 0 || toLevel >= len(ix.levels) {
		return 0, fmt.Errorf("%w: %d (have %d levels)", ErrInvalidLevel, toLevel, len(ix.levels))
	}
	if fromLevel == toLevel {
		return 1.0, nil
	}
	return ix.levels[fromLevel].Downsample / ix.levels[toLevel].Downsample, nil
}

// ConvertPoint converts a point's pixel coordinates between two levels. When
// fromLevel == toLevel the point is returned untouched, with no floating-point
// operation applied, so repeated no-op conversions cannot drift. The result is
// never rounded; callers needing pixel-aligned coordinates round explicitly.
func (ix *Index) ConvertPoint(p orb.Point, fromLevel, toLevel int) (orb.Point, error) {
	if fromLevel == toLevel {
		if fromLevel < 0 || fromLevel >= len(ix.levels) {
			return orb.Point{}, fmt.Errorf("%w: %d (have %d levels)", ErrInvalidLevel, fromLevel, len(ix.levels))
		}
		return p, nil
	}
	f, err := ix.ScalingFactor(fromLevel, toLevel)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{p[0] * f, p[1] * f}, nil
}

// CheckRegion validates a rectangular region against a level's extent. Width
// and height may be zero (an empty region) but never negative. The origin must
// be non-negative and the far corner must stay within the level.
func (ix *Index) CheckRegion(x0, y0, width, height, level int) error {
	w, h, err := ix.Extent(level)
	if err != nil {
		return err
	}
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: negative region extent %dx%d", ErrInvalidArgument, width, height)
	}
	if x0 < 0 || y0 < 0 || x0+width > w || y0+height > h {
		return fmt.Errorf("%w: region (%d,%d)+%dx%d vs level %d extent %dx%d",
			ErrOutOfBounds, x0, y0, width, height, level, w, h)
	}
	return nil
}
