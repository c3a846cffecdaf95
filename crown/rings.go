package crown

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// polygonArea is the outer ring area minus the hole areas.
func polygonArea(p orb.Polygon) float64 {
	if len(p) == 0 || len(p[0]) == 0 {
		return 0
	}
	return math.Max(planar.Area(p), 0)
}

// closeRing returns r with the first point repeated at the end.
func closeRing(r orb.Ring) orb.Ring {
	if len(r) == 0 || r[0] == r[len(r)-1] {
		return r
	}
	out := make(orb.Ring, len(r), len(r)+1)
	copy(out, r)
	return append(out, r[0])
}

// orientRing orients r counter-clockwise when ccw is true, clockwise
// otherwise.
func orientRing(r orb.Ring, ccw bool) orb.Ring {
	if (r.Orientation() == orb.CCW) != ccw {
		r.Reverse()
	}
	return r
}

// ringWithin reports whether every vertex of inner lies in or on outer.
func ringWithin(inner, outer orb.Ring) bool {
	for _, p := range inner {
		if !planar.RingContains(outer, p) {
			return false
		}
	}
	return true
}

// assembleRings groups unordered closed rings into polygons by nesting
// depth: even depth rings become outer rings (CCW), odd depth rings become
// holes (CW) of their immediate parent. Zero-area rings are dropped.
func assembleRings(rings []orb.Ring) orb.MultiPolygon {
	type entry struct {
		ring   orb.Ring
		area   float64
		depth  int
		parent int
		poly   int
	}
	entries := make([]entry, 0, len(rings))
	for _, r := range rings {
		r = closeRing(r)
		if len(r) < 4 {
			continue
		}
		a := math.Abs(planar.Area(r))
		if a == 0 {
			continue
		}
		entries = append(entries, entry{ring: r, area: a, parent: -1, poly: -1})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].area > entries[j].area })

	var mp orb.MultiPolygon
	for i := range entries {
		e := &entries[i]
		// The smallest larger ring holding this one is its parent.
		for j := i - 1; j >= 0; j-- {
			if entries[j].area > e.area && ringWithin(e.ring, entries[j].ring) {
				e.parent = j
				e.depth = entries[j].depth + 1
				break
			}
		}
		if e.depth%2 == 0 {
			e.poly = len(mp)
			mp = append(mp, orb.Polygon{orientRing(e.ring, true)})
			continue
		}
		parent := &entries[e.parent]
		mp[parent.poly] = append(mp[parent.poly], orientRing(e.ring, false))
	}
	return mp
}

// largestPolygon returns the part with the greatest area.
func largestPolygon(mp orb.MultiPolygon) (orb.Polygon, bool) {
	best, bestArea := -1, 0.0
	for i, p := range mp {
		if a := polygonArea(p); best < 0 || a > bestArea {
			best, bestArea = i, a
		}
	}
	if best < 0 || bestArea <= 0 {
		return nil, false
	}
	return mp[best], true
}
