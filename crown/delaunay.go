package crown

import (
	"math"
	"sort"

	"github.com/fogleman/delaunay"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// triangle is a CCW Delaunay triangle. n[i] is the neighbour across the
// edge opposite v[i], or -1 on the convex hull.
type triangle struct {
	v  [3]int
	n  [3]int
	r2 float64
}

// triangulation is a Delaunay triangulation in triangle/neighbour form.
// Coordinates are shifted to the bounding box origin for precision; orig
// keeps the caller's points.
type triangulation struct {
	orig []orb.Point
	pts  []orb.Point
	tris []triangle
}

func orient2(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// uniquePoints returns the distinct points sorted by x then y.
func uniquePoints(points []orb.Point) []orb.Point {
	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})
	out := sorted[:0]
	for i, p := range sorted {
		if i > 0 && p == sorted[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// collinear reports whether all points lie on one line, relative to the
// extent of the set.
func collinear(points []orb.Point) bool {
	a := points[0]
	far, best := 0, 0.0
	for i, p := range points {
		if d := planar.DistanceSquared(a, p); d > best {
			far, best = i, d
		}
	}
	if best == 0 {
		return true
	}
	b := points[far]
	tol := 1e-12 * best
	for _, p := range points {
		if math.Abs(orient2(a, b, p)) > tol {
			return false
		}
	}
	return true
}

// triangulate builds the Delaunay triangulation of the distinct input
// points. It fails with ErrTooFewPoints below three distinct points and
// ErrDegenerate when they are collinear.
func triangulate(points []orb.Point) (*triangulation, error) {
	uniq := uniquePoints(points)
	if len(uniq) < 3 {
		return nil, ErrTooFewPoints
	}
	if collinear(uniq) {
		return nil, ErrDegenerate
	}

	bound := orb.MultiPoint(uniq).Bound()
	t := &triangulation{orig: uniq, pts: make([]orb.Point, len(uniq))}
	in := make([]delaunay.Point, len(uniq))
	for i, p := range uniq {
		t.pts[i] = orb.Point{p[0] - bound.Min[0], p[1] - bound.Min[1]}
		in[i] = delaunay.Point{X: t.pts[i][0], Y: t.pts[i][1]}
	}

	dt, err := delaunay.Triangulate(in)
	if err != nil {
		return nil, ErrDegenerate
	}

	// Halfedge e runs from Triangles[e] to the next vertex of its triangle,
	// so it lies opposite the vertex two steps on.
	t.tris = make([]triangle, len(dt.Triangles)/3)
	for i := range t.tris {
		tri := triangle{}
		for k := 0; k < 3; k++ {
			e := 3*i + k
			tri.v[k] = dt.Triangles[e]
			tri.n[(k+2)%3] = -1
			if opp := dt.Halfedges[e]; opp >= 0 {
				tri.n[(k+2)%3] = opp / 3
			}
		}
		a, b, c := t.pts[tri.v[0]], t.pts[tri.v[1]], t.pts[tri.v[2]]
		if orient2(a, b, c) < 0 {
			tri.v[1], tri.v[2] = tri.v[2], tri.v[1]
			tri.n[1], tri.n[2] = tri.n[2], tri.n[1]
		}
		tri.r2 = circumradius2(a, b, c)
		t.tris[i] = tri
	}
	return t, nil
}

// circumradius2 is the squared circumradius of abc, +Inf when degenerate.
func circumradius2(a, b, c orb.Point) float64 {
	d := 2 * orient2(a, b, c)
	if d == 0 {
		return math.Inf(1)
	}
	bx, by := b[0]-a[0], b[1]-a[1]
	cx, cy := c[0]-a[0], c[1]-a[1]
	b2, c2 := bx*bx+by*by, cx*cx+cy*cy
	ux := (cy*b2 - by*c2) / d
	uy := (bx*c2 - cx*b2) / d
	return ux*ux + uy*uy
}

// circumradius returns the circumradius of triangle i.
func (t *triangulation) circumradius(i int) float64 {
	return math.Sqrt(t.tris[i].r2)
}

// area returns the area of triangle i.
func (t *triangulation) area(i int) float64 {
	v := t.tris[i].v
	return planar.Area(orb.Ring{t.pts[v[0]], t.pts[v[1]], t.pts[v[2]], t.pts[v[0]]})
}
