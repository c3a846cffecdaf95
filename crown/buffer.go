package crown

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// toGeom flattens the rings of mp into one polyclip-ready polygon. Parts do
// not overlap, so the even-odd fill of the flattened rings is the same area.
func toGeom(mp orb.MultiPolygon) geom.Polygon {
	var out geom.Polygon
	for _, poly := range mp {
		for _, r := range poly {
			out = append(out, ringToGeom(r))
		}
	}
	return out
}

// ringToGeom converts a ring, dropping the closing point.
func ringToGeom(r orb.Ring) []geom.Point {
	n := len(r)
	if n > 1 && r[0] == r[n-1] {
		n--
	}
	pts := make([]geom.Point, n)
	for i := 0; i < n; i++ {
		pts[i] = geom.Point{X: r[i][0], Y: r[i][1]}
	}
	return pts
}

// fromGeom converts polyclip output, whose contours are not grouped, back
// into polygons.
func fromGeom(p geom.Polygon) orb.MultiPolygon {
	rings := make([]orb.Ring, 0, len(p))
	for _, c := range p {
		r := make(orb.Ring, len(c))
		for i, pt := range c {
			r[i] = orb.Point{pt.X, pt.Y}
		}
		rings = append(rings, r)
	}
	return assembleRings(rings)
}

// clip runs a polygon boolean operation. polyclip panics on some
// degenerate inputs; the panic is returned as an error.
func clip(name string, f func() geom.Polygon) (out geom.Polygon, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("polygon %s failed: %v", name, r)
		}
	}()
	return f(), nil
}

// unionAll merges polygons pairwise so every operation works on inputs of
// similar size.
func unionAll(parts []geom.Polygon) (geom.Polygon, error) {
	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	}
	mid := len(parts) / 2
	left, err := unionAll(parts[:mid])
	if err != nil {
		return nil, err
	}
	right, err := unionAll(parts[mid:])
	if err != nil {
		return nil, err
	}
	return clip("union", func() geom.Polygon { return left.Union(right).(geom.Polygon) })
}

// disc approximates a circle of radius d around c with a polygon that
// encloses it. segments counts vertices per quarter circle.
func disc(c orb.Point, d float64, segments int) []geom.Point {
	n := 4 * segments
	step := 2 * math.Pi / float64(n)
	r := d / math.Cos(step/2)
	pts := make([]geom.Point, n)
	for i := range pts {
		a := (float64(i) + 0.25) * step
		pts[i] = geom.Point{X: c[0] + r*math.Cos(a), Y: c[1] + r*math.Sin(a)}
	}
	return pts
}

// boundaryBand is the Minkowski sum of the boundary of mp with a disc of
// radius d: one rectangle per edge plus one disc per vertex.
func boundaryBand(mp orb.MultiPolygon, d float64, segments int) []geom.Polygon {
	var parts []geom.Polygon
	for _, poly := range mp {
		for _, r := range poly {
			r = closeRing(r)
			for i := 0; i+1 < len(r); i++ {
				a, b := r[i], r[i+1]
				dx, dy := b[0]-a[0], b[1]-a[1]
				l := math.Hypot(dx, dy)
				if l == 0 {
					continue
				}
				nx, ny := -dy/l*d, dx/l*d
				parts = append(parts,
					geom.Polygon{{
						{X: a[0] + nx, Y: a[1] + ny},
						{X: a[0] - nx, Y: a[1] - ny},
						{X: b[0] - nx, Y: b[1] - ny},
						{X: b[0] + nx, Y: b[1] + ny},
					}},
					geom.Polygon{disc(a, d, segments)},
				)
			}
		}
	}
	return parts
}

// Buffer grows mp by d when d is positive and shrinks it when negative.
// Every step is a polygon boolean operation, so the output is valid even
// where the offset boundary would self-intersect.
func Buffer(mp orb.MultiPolygon, d float64, segments int) (orb.MultiPolygon, error) {
	if d == 0 || len(mp) == 0 {
		return mp, nil
	}
	if segments <= 0 {
		segments = DefaultQuadSegments
	}
	band, err := unionAll(boundaryBand(mp, math.Abs(d), segments))
	if err != nil {
		return nil, err
	}
	base := toGeom(mp)

	var out geom.Polygon
	if d > 0 {
		out, err = clip("union", func() geom.Polygon { return base.Union(band).(geom.Polygon) })
	} else {
		out, err = clip("difference", func() geom.Polygon { return base.Difference(band).(geom.Polygon) })
	}
	if err != nil {
		return nil, err
	}
	return fromGeom(out), nil
}

// simplifyParts applies Douglas-Peucker to every part. A part whose outer
// ring collapses keeps its original geometry.
func simplifyParts(mp orb.MultiPolygon, tolerance float64) orb.MultiPolygon {
	if tolerance <= 0 {
		return mp
	}
	out := make(orb.MultiPolygon, 0, len(mp))
	for _, poly := range mp {
		s, ok := simplify.DouglasPeucker(tolerance).Simplify(poly.Clone()).(orb.Polygon)
		if !ok || len(s) == 0 || len(s[0]) < 4 || s[0].Orientation() == 0 {
			out = append(out, poly)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Regularize turns a raw alpha shape into a single valid crown polygon.
// Only the largest part survives.
func Regularize(mp orb.MultiPolygon, opts RegularizeOptions) (orb.Polygon, error) {
	poly, _, err := regularize(mp, opts)
	return poly, err
}

// droppedParts describes the parts regularize discarded.
type droppedParts struct {
	Count int
	Area  float64
}

func regularize(mp orb.MultiPolygon, opts RegularizeOptions) (orb.Polygon, droppedParts, error) {
	var (
		out orb.MultiPolygon
		err error
	)
	switch opts.Mode {
	case RegularizeOpening:
		var eroded orb.MultiPolygon
		eroded, err = Buffer(mp, -opts.OpeningDistance, opts.Segments)
		if err != nil {
			return nil, droppedParts{}, err
		}
		if len(eroded) == 0 {
			return nil, droppedParts{}, fmt.Errorf("opening by %g: %w", opts.OpeningDistance, ErrEmptyBoundary)
		}
		out, err = Buffer(eroded, opts.OpeningDistance, opts.Segments)
	case RegularizeSimplifyBuffer, "":
		out, err = Buffer(simplifyParts(mp, opts.SimplifyTolerance), opts.BufferDistance, opts.Segments)
	default:
		return nil, droppedParts{}, fmt.Errorf("unknown regularize mode %q", opts.Mode)
	}
	if err != nil {
		return nil, droppedParts{}, err
	}

	poly, ok := largestPolygon(out)
	if !ok {
		return nil, droppedParts{}, ErrEmptyBoundary
	}
	var dropped droppedParts
	if len(out) > 1 {
		dropped.Count = len(out) - 1
		for _, part := range out {
			dropped.Area += polygonArea(part)
		}
		dropped.Area = math.Max(dropped.Area-polygonArea(poly), 0)
	}
	return poly, dropped, nil
}
