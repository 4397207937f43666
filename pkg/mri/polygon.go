package mri

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ReadPolygonalRegion reads the minimal rectangular region covering a closed
// contour and zeroes every pixel outside it. The contour's coordinates must
// be expressed in pixel units of the requested level.
//
// The bounding rectangle takes the floor of the contour's minimum corner and
// the ceiling of its maximum corner, is grown by border pixels on every side,
// and is clamped to the level's extent; a contour lying entirely outside the
// level yields an empty buffer. Membership is decided per pixel by testing
// the pixel's integer coordinate against the translated contour with a
// boundary-inclusive ray-casting test: a pixel whose point lies exactly on an
// edge or vertex is kept. Interior rings of the contour are holes; pixels
// strictly inside a hole are zeroed.
//
// A negative border or a contour with fewer than three distinct vertices
// fails with ErrInvalidArgument before any storage access.
func ReadPolygonalRegion[T Sample](m *MRI, contour orb.Polygon, level, border int) (*Buffer[T], error) {
	if border < 0 {
		return nil, fmt.Errorf("%w: negative border %d", ErrInvalidArgument, border)
	}
	if len(contour) == 0 || ringVertices(contour[0]) < 3 {
		return nil, fmt.Errorf("%w: contour is not a closed polygon", ErrInvalidArgument)
	}
	w, h, err := m.index.Extent(level)
	if err != nil {
		return nil, err
	}

	b := contour.Bound()
	x0 := clamp(int(math.Floor(b.Min[0]))-border, 0, w)
	y0 := clamp(int(math.Floor(b.Min[1]))-border, 0, h)
	x1 := clamp(int(math.Ceil(b.Max[0]))+border, x0, w)
	y1 := clamp(int(math.Ceil(b.Max[1]))+border, y0, h)

	// Shift the contour so that (0,0) corresponds to (x0, y0).
	shifted := translatePolygon(contour, -float64(x0), -float64(y0))

	img, err := ReadRegion[T](m, x0, y0, x1-x0, y1-y0, level)
	if err != nil {
		return nil, err
	}

	for i := 0; i < img.Height; i++ {
		for j := 0; j < img.Width; j++ {
			if !polygonContains(shifted, orb.Point{float64(j), float64(i)}) {
				img.zeroPixel(j, i)
			}
		}
	}
	return img, nil
}

// ringVertices counts a ring's vertices, not double-counting the closing
// vertex when the ring repeats its first point at the end.
func ringVertices(r orb.Ring) int {
	n := len(r)
	if n > 1 && r[0] == r[n-1] {
		n--
	}
	return n
}

func translatePolygon(p orb.Polygon, dx, dy float64) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, ring := range p {
		nr := make(orb.Ring, len(ring))
		for j, pt := range ring {
			nr[j] = orb.Point{pt[0] + dx, pt[1] + dy}
		}
		out[i] = nr
	}
	return out
}

// polygonContains reports boundary-inclusive membership of p in poly: true
// on the outer ring's interior or boundary, false strictly inside a hole
// (a point on a hole's boundary is kept).
func polygonContains(poly orb.Polygon, p orb.Point) bool {
	if len(poly) == 0 {
		return false
	}
	inside, boundary := ringContains(poly[0], p)
	if boundary {
		return true
	}
	if !inside {
		return false
	}
	for _, hole := range poly[1:] {
		hin, hon := ringContains(hole, p)
		if hin && !hon {
			return false
		}
	}
	return true
}

// ringContains runs a ray cast of p against the ring's edges. It reports
// strict interior membership and, separately, whether p lies on an edge. The
// ring is treated as closed whether or not its last vertex repeats the first.
func ringContains(r orb.Ring, p orb.Point) (inside, boundary bool) {
	n := len(r)
	if n < 3 {
		return false, false
	}
	j := n - 1
	for i := 0; i < n; i++ {
		a, b := r[j], r[i]
		j = i
		if a == b {
			continue
		}
		if onSegment(p, a, b) {
			return false, true
		}
		if (a[1] > p[1]) != (b[1] > p[1]) {
			xCross := a[0] + (p[1]-a[1])/(b[1]-a[1])*(b[0]-a[0])
			if p[0] < xCross {
				inside = !inside
			}
		}
	}
	return inside, false
}

// onSegment reports whether p lies on the closed segment ab.
func onSegment(p, a, b orb.Point) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if cross != 0 {
		return false
	}
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
