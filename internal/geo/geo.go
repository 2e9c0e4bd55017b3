// Package geo provides the planar geometry used for gate crossing
// detection. Geodetic coordinates are flattened with a local
// equirectangular projection (longitude scaled by cos(latitude)), which
// is accurate to well under a metre at track scale.
package geo

import "math"

// orientation values are compared against this tolerance so that a fix
// sitting exactly on a gate still registers as a touch.
const collinearEpsilon = 1e-12

// Point is a geodetic position in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Segment is a two-point line segment. The zero value is degenerate and
// rejected by Validate.
type Segment struct {
	P1 Point `json:"p1"`
	P2 Point `json:"p2"`
}

// Valid reports whether the segment has two distinct endpoints.
func (s Segment) Valid() bool {
	return s.P1 != s.P2
}

// planar holds a projected point. X is longitude scaled by the cosine of
// the projection's reference latitude, Y is latitude.
type planar struct {
	x, y float64
}

func project(p Point, cosRef float64) planar {
	return planar{x: p.Lon * cosRef, y: p.Lat}
}

// orient returns the sign of the cross product (b-a) x (c-a): +1 if c is
// left of the directed line a->b, -1 if right, 0 if collinear within
// tolerance.
func orient(a, b, c planar) int {
	v := (b.x-a.x)*(c.y-a.y) - (b.y-a.y)*(c.x-a.x)
	if math.Abs(v) < collinearEpsilon {
		return 0
	}
	if v > 0 {
		return 1
	}
	return -1
}

// onSegment reports whether c, known to be collinear with segment ab,
// lies within ab's bounding box.
func onSegment(a, b, c planar) bool {
	return math.Min(a.x, b.x)-collinearEpsilon <= c.x && c.x <= math.Max(a.x, b.x)+collinearEpsilon &&
		math.Min(a.y, b.y)-collinearEpsilon <= c.y && c.y <= math.Max(a.y, b.y)+collinearEpsilon
}

// SegmentsIntersect reports whether the movement segment m1->m2 crosses
// the gate segment g.P1->g.P2, and if so the fraction along m1->m2 at
// which the intersection lies (0 at m1, 1 at m2). Exact touches count as
// crossings so a low sample rate cannot skip a gate.
func SegmentsIntersect(m1, m2 Point, g Segment) (crossed bool, frac float64) {
	// Reference latitude for the projection: gate midpoint.
	cosRef := math.Cos((g.P1.Lat + g.P2.Lat) / 2 * math.Pi / 180)

	a := project(m1, cosRef)
	b := project(m2, cosRef)
	c := project(g.P1, cosRef)
	d := project(g.P2, cosRef)

	o1 := orient(a, b, c)
	o2 := orient(a, b, d)
	o3 := orient(c, d, a)
	o4 := orient(c, d, b)

	switch {
	case o1 != o2 && o3 != o4 && o1 != 0 && o2 != 0 && o3 != 0 && o4 != 0:
		// proper crossing
	case o1 == 0 && onSegment(a, b, c),
		o2 == 0 && onSegment(a, b, d),
		o3 == 0 && onSegment(c, d, a),
		o4 == 0 && onSegment(c, d, b):
		// endpoint touch
	case o1 != o2 && o3 != o4:
		// mixed zero/non-zero orientations that still straddle
	default:
		return false, 0
	}

	return true, intersectionFraction(a, b, c, d)
}

// intersectionFraction returns the parameter t of the intersection point
// along a->b. When the segments are parallel or collinear there is no
// single intersection point; the midpoint of the movement step is used.
func intersectionFraction(a, b, c, d planar) float64 {
	rx, ry := b.x-a.x, b.y-a.y
	sx, sy := d.x-c.x, d.y-c.y
	denom := rx*sy - ry*sx
	if math.Abs(denom) < collinearEpsilon {
		return 0.5
	}
	t := ((c.x-a.x)*sy - (c.y-a.y)*sx) / denom
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// HaversineMeters returns the great-circle distance between two points in
// metres. Used for sanity checks on configured gates, not for crossing
// detection.
func HaversineMeters(p1, p2 Point) float64 {
	const earthRadiusM = 6371000
	lat1 := p1.Lat * math.Pi / 180
	lat2 := p2.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (p2.Lon - p1.Lon) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
