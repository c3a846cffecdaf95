package crown

import (
	"math"

	"github.com/paulmach/orb"
)

// AdaptiveAlpha scales alpha with the footprint size so that large crowns
// are not shredded by a fixed radius. Clouds smaller than MinPoints use the
// default.
func AdaptiveAlpha(pts []orb.Point, opts AlphaOptions) float64 {
	minPoints := opts.MinPoints
	if minPoints <= 0 {
		minPoints = DefaultAlphaMinPoints
	}
	if len(pts) < minPoints {
		return opts.Default
	}
	bound := orb.MultiPoint(pts).Bound()
	return opts.Scale * math.Max(bound.Max[0]-bound.Min[0], bound.Max[1]-bound.Min[1])
}

type directedEdge struct {
	from, to int
}

// AlphaShape returns the alpha shape of the points: the union of Delaunay
// triangles whose circumradius is below 1/alpha. A non-positive alpha keeps
// every triangle, giving the convex hull.
func AlphaShape(pts []orb.Point, alpha float64) (orb.MultiPolygon, error) {
	dt, err := triangulate(pts)
	if err != nil {
		return nil, err
	}

	limit := math.Inf(1)
	if alpha > 0 {
		limit = 1 / alpha
	}
	keep := make([]bool, len(dt.tris))
	kept := 0
	for i := range dt.tris {
		if dt.area(i) > 0 && dt.circumradius(i) < limit {
			keep[i] = true
			kept++
		}
	}
	if kept == 0 {
		return nil, ErrEmptyBoundary
	}

	// Boundary edges run with the kept triangle on their left.
	var edges []directedEdge
	outgoing := make(map[int][]int)
	for i, tri := range dt.tris {
		if !keep[i] {
			continue
		}
		for k, nb := range tri.n {
			if nb >= 0 && keep[nb] {
				continue
			}
			e := directedEdge{tri.v[(k+1)%3], tri.v[(k+2)%3]}
			outgoing[e.from] = append(outgoing[e.from], len(edges))
			edges = append(edges, e)
		}
	}

	rings := dt.traceRings(edges, outgoing)
	mp := assembleRings(rings)
	if len(mp) == 0 {
		return nil, ErrEmptyBoundary
	}
	return mp, nil
}

// traceRings links boundary edges into closed rings. Where several edges
// leave a vertex the walk takes the first one clockwise from the reversed
// incoming edge, which splits pinched boundaries into simple rings.
func (t *triangulation) traceRings(edges []directedEdge, outgoing map[int][]int) []orb.Ring {
	used := make([]bool, len(edges))
	var rings []orb.Ring

	for start := range edges {
		if used[start] {
			continue
		}
		used[start] = true
		ring := orb.Ring{t.orig[edges[start].from]}
		cur := start
		closed := false
		for steps := 0; steps < len(edges); steps++ {
			v := edges[cur].to
			back := t.direction(v, edges[cur].from)

			next, bestTurn := -1, math.Inf(1)
			for _, cand := range outgoing[v] {
				if used[cand] && cand != start {
					continue
				}
				turn := back - t.direction(v, edges[cand].to)
				for turn <= 0 {
					turn += 2 * math.Pi
				}
				if turn < bestTurn {
					next, bestTurn = cand, turn
				}
			}
			if next < 0 {
				break
			}
			if next == start {
				closed = true
				break
			}
			used[next] = true
			ring = append(ring, t.orig[v])
			cur = next
		}
		if closed && len(ring) >= 3 {
			rings = append(rings, closeRing(ring))
		}
	}
	return rings
}

// direction is the angle of the vector from vertex a to vertex b.
func (t *triangulation) direction(a, b int) float64 {
	pa, pb := t.pts[a], t.pts[b]
	return math.Atan2(pb[1]-pa[1], pb[0]-pa[0])
}
