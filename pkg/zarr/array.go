package zarr

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

// DType describes an array's sample type.
type DType struct {
	// Kind is 'u' (unsigned integer), 'i' (signed integer) or 'f' (float).
	Kind byte

	// Size is the sample width in bytes: 1, 2, 4 or 8.
	Size int

	// BigEndian reports the stored byte order. Irrelevant when Size == 1.
	BigEndian bool
}

func (d DType) String() string {
	order := "<"
	if d.Size == 1 {
		order = "|"
	} else if d.BigEndian {
		order = ">"
	}
	return fmt.Sprintf("%s%c%d", order, d.Kind, d.Size)
}

// parseDType decodes a numpy-style dtype string such as "|u1", "<u2" or ">f4".
func parseDType(s string) (DType, error) {
	if len(s) < 3 {
		return DType{}, fmt.Errorf("zarr: bad dtype %q", s)
	}
	var d DType
	switch s[0] {
	case '<', '|':
	case '>':
		d.BigEndian = true
	default:
		return DType{}, fmt.Errorf("zarr: bad dtype byte order in %q", s)
	}
	switch s[1] {
	case 'u', 'i', 'f':
		d.Kind = s[1]
	default:
		return DType{}, fmt.Errorf("zarr: unsupported dtype kind in %q", s)
	}
	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return DType{}, fmt.Errorf("zarr: bad dtype size in %q", s)
	}
	switch size {
	case 1, 2, 4, 8:
		d.Size = size
	default:
		return DType{}, fmt.Errorf("zarr: unsupported dtype size %d in %q", size, s)
	}
	if d.Kind == 'f' && d.Size < 4 {
		return DType{}, fmt.Errorf("zarr: unsupported float size in %q", s)
	}
	return d, nil
}

type arrayMeta struct {
	Shape      []int           `json:"shape"`
	Chunks     []int           `json:"chunks"`
	DType      string          `json:"dtype"`
	Compressor json.RawMessage `json:"compressor"`
	FillValue  *float64        `json:"fill_value"`
	Order      string          `json:"order"`
	DimSep     string          `json:"dimension_separator"`
}

// Array is a read-only handle on one chunked array of a group.
type Array struct {
	dir        string
	shape      []int
	chunks     []int
	dtype      DType
	compressor string
	fill       float64
	dimSep     string
}

func openArray(dir string) (*Array, error) {
	data, err := os.ReadFile(filepath.Join(dir, ".zarray"))
	if err != nil {
		return nil, fmt.Errorf("zarr: cannot read array metadata in %s: %w", dir, err)
	}
	var meta arrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("zarr: malformed .zarray in %s: %w", dir, err)
	}

	if n := len(meta.Shape); n != 2 && n != 3 {
		return nil, fmt.Errorf("zarr: %s has %d dimensions, want 2 or 3", dir, len(meta.Shape))
	}
	if len(meta.Chunks) != len(meta.Shape) {
		return nil, fmt.Errorf("zarr: %s chunk rank %d does not match shape rank %d",
			dir, len(meta.Chunks), len(meta.Shape))
	}
	for i := range meta.Shape {
		if meta.Shape[i] <= 0 || meta.Chunks[i] <= 0 {
			return nil, fmt.Errorf("zarr: %s has non-positive shape or chunk extent", dir)
		}
	}
	// The channel axis must not be split across chunks: a region read always
	// returns every channel of a pixel.
	if len(meta.Shape) == 3 && meta.Chunks[2] != meta.Shape[2] {
		return nil, fmt.Errorf("zarr: %s chunks the channel axis (%d of %d)",
			dir, meta.Chunks[2], meta.Shape[2])
	}
	if meta.Order != "" && meta.Order != "C" {
		return nil, fmt.Errorf("zarr: %s has order %q, only C order is supported", dir, meta.Order)
	}

	dtype, err := parseDType(meta.DType)
	if err != nil {
		return nil, err
	}

	compressor, err := parseCompressor(meta.Compressor)
	if err != nil {
		return nil, fmt.Errorf("zarr: %s: %w", dir, err)
	}

	a := &Array{
		dir:        dir,
		shape:      meta.Shape,
		chunks:     meta.Chunks,
		dtype:      dtype,
		compressor: compressor,
		dimSep:     meta.DimSep,
	}
	if meta.FillValue != nil {
		a.fill = *meta.FillValue
	}
	if a.dimSep == "" {
		a.dimSep = "."
	}
	if a.dimSep != "." && a.dimSep != "/" {
		return nil, fmt.Errorf("zarr: %s has unsupported dimension separator %q", dir, a.dimSep)
	}
	return a, nil
}

func parseCompressor(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var c struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("malformed compressor: %w", err)
	}
	switch c.ID {
	case "zlib", "gzip", "zstd":
		return c.ID, nil
	}
	return "", fmt.Errorf("unsupported compressor %q", c.ID)
}

// Shape returns the array's extent per dimension (rows, cols[, channels]).
func (a *Array) Shape() []int {
	out := make([]int, len(a.shape))
	copy(out, a.shape)
	return out
}

// DType returns the array's sample type.
func (a *Array) DType() DType {
	return a.dtype
}

// Channels returns the channel count: the trailing axis extent for 3-D
// arrays, 1 for plain 2-D planes.
func (a *Array) Channels() int {
	if len(a.shape) == 3 {
		return a.shape[2]
	}
	return 1
}

// ReadRect reads the rectangle of width w and height h whose top-left pixel
// is (x0, y0), visiting only the chunks that overlap it. The result holds
// h*w*Channels() samples in C order (row, column, channel), in the array's
// stored byte order. Chunk files absent from the store read as the array's
// fill value.
func (a *Array) ReadRect(x0, y0, w, h int) ([]byte, error) {
	rows, cols := a.shape[0], a.shape[1]
	if x0 < 0 || y0 < 0 || w < 0 || h < 0 || x0+w > cols || y0+h > rows {
		return nil, fmt.Errorf("zarr: read (%d,%d)+%dx%d outside array %dx%d",
			x0, y0, w, h, cols, rows)
	}

	nchan := a.Channels()
	px := nchan * a.dtype.Size // bytes per pixel
	out := make([]byte, h*w*px)
	if w == 0 || h == 0 {
		return out, nil
	}

	chunkRows, chunkCols := a.chunks[0], a.chunks[1]
	for cy := y0 / chunkRows; cy <= (y0+h-1)/chunkRows; cy++ {
		for cx := x0 / chunkCols; cx <= (x0+w-1)/chunkCols; cx++ {
			chunk, err := a.loadChunk(cy, cx)
			if err != nil {
				return nil, err
			}

			// Overlap of this chunk with the request, in array coordinates.
			gy0 := max(y0, cy*chunkRows)
			gy1 := min(y0+h, (cy+1)*chunkRows)
			gx0 := max(x0, cx*chunkCols)
			gx1 := min(x0+w, (cx+1)*chunkCols)

			span := (gx1 - gx0) * px
			for gy := gy0; gy < gy1; gy++ {
				dst := ((gy-y0)*w + (gx0 - x0)) * px
				if chunk == nil {
					a.fillSamples(out[dst:dst+span], (gx1-gx0)*nchan)
					continue
				}
				src := ((gy-cy*chunkRows)*chunkCols + (gx0 - cx*chunkCols)) * px
				copy(out[dst:dst+span], chunk[src:src+span])
			}
		}
	}
	return out, nil
}

// ReadAll reads the whole array.
func (a *Array) ReadAll() ([]byte, error) {
	return a.ReadRect(0, 0, a.shape[1], a.shape[0])
}

// loadChunk reads and decompresses one chunk. A missing chunk file is not an
// error: it returns nil, and the caller substitutes the fill value. Edge
// chunks are stored at full chunk size, padded, so every loaded chunk has the
// same length.
func (a *Array) loadChunk(cy, cx int) ([]byte, error) {
	name := fmt.Sprintf("%d%s%d", cy, a.dimSep, cx)
	if len(a.shape) == 3 {
		name += a.dimSep + "0"
	}
	path := filepath.Join(a.dir, filepath.FromSlash(name))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("zarr: cannot read chunk %s: %w", path, err)
	}

	want := a.chunks[0] * a.chunks[1] * a.Channels() * a.dtype.Size
	raw, err := a.decompress(data)
	if err != nil {
		return nil, fmt.Errorf("zarr: cannot decompress chunk %s: %w", path, err)
	}
	if len(raw) != want {
		return nil, fmt.Errorf("zarr: chunk %s has %d bytes, want %d", path, len(raw), want)
	}
	return raw, nil
}

func (a *Array) decompress(data []byte) ([]byte, error) {
	switch a.compressor {
	case "":
		return data, nil
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "zstd":
		r, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.DecodeAll(data, nil)
	}
	return nil, fmt.Errorf("unsupported compressor %q", a.compressor)
}

// fillSamples writes n samples of the fill value into dst.
func (a *Array) fillSamples(dst []byte, n int) {
	if a.fill == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	one := encodeSample(a.fill, a.dtype)
	for i := 0; i < n; i++ {
		copy(dst[i*a.dtype.Size:], one)
	}
}
