package crown

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// superScale sizes the bounding simplex relative to the point extent.
const superScale = 100.0

// tetra is a positively oriented tetrahedron. n[i] is the neighbour across
// the face opposite v[i], or -1 on the hull of the bounding simplex.
type tetra struct {
	v      [4]int
	n      [4]int
	center r3.Vector
	r2     float64
	alive  bool
}

// tetrahedralization is the 3D counterpart of triangulation. The last
// four vertices form the bounding tetrahedron.
type tetrahedralization struct {
	pts   []r3.Vector
	tets  []tetra
	nReal int
	last  int
	mark  []int
	stamp int
}

func orient3(a, b, c, d r3.Vector) float64 {
	return b.Sub(a).Dot(c.Sub(a).Cross(d.Sub(a)))
}

func uniqueVectors(points []r3.Vector) []r3.Vector {
	sorted := make([]r3.Vector, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
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

// coplanar reports whether all points lie in one plane, relative to the
// extent of the set.
func coplanar(points []r3.Vector) bool {
	a := points[0]
	bi, best := 0, 0.0
	for i, p := range points {
		if d := p.Sub(a).Norm2(); d > best {
			bi, best = i, d
		}
	}
	if best == 0 {
		return true
	}
	b := points[bi]
	ci, bestArea := -1, 0.0
	for i, p := range points {
		if n := b.Sub(a).Cross(p.Sub(a)).Norm2(); n > bestArea {
			ci, bestArea = i, n
		}
	}
	if ci < 0 || bestArea <= 1e-24*best*best {
		return true
	}
	c := points[ci]
	tol := 1e-12 * math.Pow(best, 1.5)
	for _, p := range points {
		if math.Abs(orient3(a, b, c, p)) > tol {
			return false
		}
	}
	return true
}

func tetrahedralize(points []r3.Vector) (*tetrahedralization, error) {
	uniq := uniqueVectors(points)
	if len(uniq) < 4 {
		return nil, ErrTooFewPoints
	}
	if coplanar(uniq) {
		return nil, ErrDegenerate
	}

	lo, hi := uniq[0], uniq[0]
	for _, p := range uniq {
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	ext := hi.Sub(lo)
	size := math.Max(ext.X, math.Max(ext.Y, ext.Z))

	t := &tetrahedralization{
		pts:   make([]r3.Vector, len(uniq), len(uniq)+4),
		nReal: len(uniq),
	}
	for i, p := range uniq {
		t.pts[i] = p.Sub(lo)
	}

	c, s := ext.Mul(0.5), superScale*size
	t.pts = append(t.pts,
		c.Add(r3.Vector{X: s, Y: s, Z: s}),
		c.Add(r3.Vector{X: s, Y: -s, Z: -s}),
		c.Add(r3.Vector{X: -s, Y: s, Z: -s}),
		c.Add(r3.Vector{X: -s, Y: -s, Z: s}),
	)
	n := t.nReal
	v := [4]int{n, n + 1, n + 2, n + 3}
	if orient3(t.pts[v[0]], t.pts[v[1]], t.pts[v[2]], t.pts[v[3]]) < 0 {
		v[2], v[3] = v[3], v[2]
	}
	t.addTetra(v, [4]int{-1, -1, -1, -1})

	for i := 0; i < t.nReal; i++ {
		t.insert(i)
	}
	return t, nil
}

func (t *tetrahedralization) addTetra(v [4]int, n [4]int) int {
	a := t.pts[v[0]]
	b, c, d := t.pts[v[1]].Sub(a), t.pts[v[2]].Sub(a), t.pts[v[3]].Sub(a)
	tet := tetra{v: v, n: n, alive: true}

	den := 2 * b.Dot(c.Cross(d))
	if den == 0 {
		tet.r2 = math.Inf(1)
	} else {
		off := c.Cross(d).Mul(b.Norm2()).
			Add(d.Cross(b).Mul(c.Norm2())).
			Add(b.Cross(c).Mul(d.Norm2())).
			Mul(1 / den)
		tet.center = a.Add(off)
		tet.r2 = off.Norm2()
	}

	t.tets = append(t.tets, tet)
	t.mark = append(t.mark, 0)
	return len(t.tets) - 1
}

func (t *tetrahedralization) inSphere(i int, p r3.Vector) bool {
	tet := &t.tets[i]
	if math.IsInf(tet.r2, 1) {
		return true
	}
	return p.Sub(tet.center).Norm2() < tet.r2*(1-1e-12)
}

// orientWith is the orientation of tetrahedron i with v[k] replaced by p.
func (t *tetrahedralization) orientWith(i, k int, p r3.Vector) float64 {
	var q [4]r3.Vector
	for j, v := range t.tets[i].v {
		q[j] = t.pts[v]
	}
	q[k] = p
	return orient3(q[0], q[1], q[2], q[3])
}

func (t *tetrahedralization) locate(p r3.Vector) int {
	cur := t.last
	for steps := 0; steps <= len(t.tets); steps++ {
		next := -1
		for k := 0; k < 4; k++ {
			if nb := t.tets[cur].n[k]; nb >= 0 && t.orientWith(cur, k, p) < 0 {
				next = nb
				break
			}
		}
		if next < 0 {
			break
		}
		cur = next
	}
	if t.tets[cur].alive && t.inSphere(cur, p) {
		return cur
	}
	for i := range t.tets {
		if t.tets[i].alive && t.inSphere(i, p) {
			return i
		}
	}
	return -1
}

type faceKey [2]int

type cavityEdge struct{ tri, slot int }

func makeFaceKey(a, b int) faceKey {
	if a > b {
		a, b = b, a
	}
	return faceKey{a, b}
}

func (t *tetrahedralization) insert(pi int) {
	p := t.pts[pi]
	start := t.locate(p)
	if start < 0 {
		return
	}

	t.stamp++
	stamp := t.stamp
	cavity := []int{start}
	t.mark[start] = stamp
	for q := 0; q < len(cavity); q++ {
		for _, nb := range t.tets[cavity[q]].n {
			if nb >= 0 && t.mark[nb] != stamp && t.inSphere(nb, p) {
				t.mark[nb] = stamp
				cavity = append(cavity, nb)
			}
		}
	}

	var boundary []cavityEdge
	for {
		boundary = boundary[:0]
		grown := false
		for _, c := range cavity {
			for k, nb := range t.tets[c].n {
				if nb >= 0 && t.mark[nb] == stamp {
					continue
				}
				if nb >= 0 && t.orientWith(c, k, p) <= 0 {
					t.mark[nb] = stamp
					cavity = append(cavity, nb)
					grown = true
					continue
				}
				boundary = append(boundary, cavityEdge{c, k})
			}
		}
		if !grown {
			break
		}
	}

	open := make(map[faceKey]cavityEdge, 3*len(boundary))
	for _, f := range boundary {
		old := t.tets[f.tri]
		v := old.v
		v[f.slot] = pi
		outer := old.n[f.slot]
		nn := [4]int{-1, -1, -1, -1}
		nn[f.slot] = outer
		nt := t.addTetra(v, nn)

		if outer >= 0 {
			on := &t.tets[outer]
			for j := range on.n {
				if on.n[j] == f.tri {
					on.n[j] = nt
					break
				}
			}
		}
		// Each other face holds p and two of the old face's vertices.
		for k := 0; k < 4; k++ {
			if k == f.slot {
				continue
			}
			var rest []int
			for j := 0; j < 4; j++ {
				if j != k && j != f.slot {
					rest = append(rest, v[j])
				}
			}
			key := makeFaceKey(rest[0], rest[1])
			if other, ok := open[key]; ok {
				t.tets[nt].n[k] = other.tri
				t.tets[other.tri].n[other.slot] = nt
				delete(open, key)
			} else {
				open[key] = cavityEdge{nt, k}
			}
		}
		t.last = nt
	}

	for _, c := range cavity {
		t.tets[c].alive = false
	}
}

func (t *tetrahedralization) real(i int) bool {
	tet := &t.tets[i]
	if !tet.alive {
		return false
	}
	for _, v := range tet.v {
		if v >= t.nReal {
			return false
		}
	}
	return true
}

func (t *tetrahedralization) volume(i int) float64 {
	v := t.tets[i].v
	return math.Abs(orient3(t.pts[v[0]], t.pts[v[1]], t.pts[v[2]], t.pts[v[3]])) / 6
}

// EstimateVolume3D approximates the crown volume as the total volume of
// the Delaunay tetrahedra whose circumradius is below 1/alpha. A
// non-positive alpha keeps every tetrahedron, giving the convex hull
// volume.
func EstimateVolume3D(points []r3.Vector, alpha float64) (float64, error) {
	t, err := tetrahedralize(points)
	if err != nil {
		return 0, err
	}
	limit := math.Inf(1)
	if alpha > 0 {
		limit = 1 / alpha
	}

	total, kept := 0.0, 0
	for i := range t.tets {
		if !t.real(i) || math.Sqrt(t.tets[i].r2) >= limit {
			continue
		}
		total += t.volume(i)
		kept++
	}
	if kept == 0 {
		return 0, ErrEmptyBoundary
	}
	return total, nil
}
