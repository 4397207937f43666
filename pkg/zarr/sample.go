package zarr

import (
	"encoding/binary"
	"math"
)

// byteOrder returns the dtype's stored byte order.
func (d DType) byteOrder() binary.ByteOrder {
	if d.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DecodeUint returns the raw unsigned bits of the sample at the start of b.
// For 'i' kinds the caller sign-extends via DecodeInt.
func (d DType) DecodeUint(b []byte) uint64 {
	switch d.Size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(d.byteOrder().Uint16(b))
	case 4:
		return uint64(d.byteOrder().Uint32(b))
	default:
		return d.byteOrder().Uint64(b)
	}
}

// DecodeInt returns the sample at the start of b sign-extended to int64.
func (d DType) DecodeInt(b []byte) int64 {
	u := d.DecodeUint(b)
	switch d.Size {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	default:
		return int64(u)
	}
}

// DecodeFloat returns the float sample at the start of b. Valid only for
// 'f' kinds.
func (d DType) DecodeFloat(b []byte) float64 {
	if d.Size == 4 {
		return float64(math.Float32frombits(d.byteOrder().Uint32(b)))
	}
	return math.Float64frombits(d.byteOrder().Uint64(b))
}

// PutSample encodes v into the first Size bytes of dst. Integer kinds
// truncate toward zero and wrap modulo the sample width.
func (d DType) PutSample(dst []byte, v float64) {
	if d.Kind == 'f' {
		if d.Size == 4 {
			d.byteOrder().PutUint32(dst, math.Float32bits(float32(v)))
		} else {
			d.byteOrder().PutUint64(dst, math.Float64bits(v))
		}
		return
	}
	u := uint64(int64(v))
	switch d.Size {
	case 1:
		dst[0] = byte(u)
	case 2:
		d.byteOrder().PutUint16(dst, uint16(u))
	case 4:
		d.byteOrder().PutUint32(dst, uint32(u))
	default:
		d.byteOrder().PutUint64(dst, u)
	}
}

func encodeSample(v float64, d DType) []byte {
	b := make([]byte, d.Size)
	d.PutSample(b, v)
	return b
}
