package crown

import (
	"math"

	"github.com/paulmach/orb"
)

// convexHull computes the convex hull of the points using Andrew's monotone
// chain. The hull is CCW without a closing point; collinear points are
// dropped.
func convexHull(points []orb.Point) []orb.Point {
	sorted := uniquePoints(points)
	n := len(sorted)
	if n < 3 {
		return sorted
	}

	hull := make([]orb.Point, 0, 2*n)

	// Lower hull
	for _, p := range sorted {
		for len(hull) >= 2 && orient2(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Upper hull
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && orient2(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Remove last point (duplicate of first)
	return hull[:len(hull)-1]
}

// MaxDiameter is the largest distance between any two points, measured over
// the convex hull vertices. Fewer than three hull vertices is an
// ErrDegenerateHull.
func MaxDiameter(points []orb.Point) (float64, error) {
	hull := convexHull(points)
	if len(hull) < 3 {
		return 0, ErrDegenerateHull
	}
	best := 0.0
	for i := 0; i < len(hull); i++ {
		for j := i + 1; j < len(hull); j++ {
			dx, dy := hull[j][0]-hull[i][0], hull[j][1]-hull[i][1]
			if d := dx*dx + dy*dy; d > best {
				best = d
			}
		}
	}
	return math.Sqrt(best), nil
}
