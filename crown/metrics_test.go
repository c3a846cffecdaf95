package crown

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvexHull(t *testing.T) {
	pts := []orb.Point{{0, 0}, {2, 0}, {1, 0}, {2, 2}, {0, 2}, {1, 1}, {0.5, 1.5}, {2, 2}}
	hull := convexHull(pts)
	assert.Len(t, hull, 4, "interior, duplicate and collinear points are dropped")
	assert.Equal(t, orb.CCW, orb.Ring(hull).Orientation())
}

func TestMaxDiameter(t *testing.T) {
	t.Run("square", func(t *testing.T) {
		pts := []orb.Point{{0, 0}, {3, 0}, {3, 3}, {0, 3}, {1, 1}, {2, 1.5}}
		d, err := MaxDiameter(pts)
		require.NoError(t, err)
		assert.InDelta(t, 3*math.Sqrt2, d, 1e-12)
	})

	t.Run("collinear", func(t *testing.T) {
		_, err := MaxDiameter([]orb.Point{{0, 0}, {1, 1}, {2, 2}})
		assert.ErrorIs(t, err, ErrDegenerateHull)
	})

	t.Run("two points", func(t *testing.T) {
		_, err := MaxDiameter([]orb.Point{{0, 0}, {5, 0}})
		assert.ErrorIs(t, err, ErrDegenerateHull)
	})
}

func TestMaxDiameter_MatchesAllPairs(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for set := 0; set < 200; set++ {
		n := 3 + rng.Intn(60)
		pts := make([]orb.Point, 0, n+3)
		if set%2 == 0 {
			for i := 0; i < n; i++ {
				pts = append(pts, orb.Point{100 * rng.NormFloat64(), 40 * rng.Float64()})
			}
		} else {
			// Integer grid: duplicates and collinear hull points.
			pts = append(pts, orb.Point{0, 0}, orb.Point{4, 0}, orb.Point{0, 4})
			for i := 0; i < n; i++ {
				pts = append(pts, orb.Point{float64(rng.Intn(5)), float64(rng.Intn(5))})
			}
		}

		want := 0.0
		for i := range pts {
			for j := i + 1; j < len(pts); j++ {
				want = math.Max(want, planar.Distance(pts[i], pts[j]))
			}
		}

		got, err := MaxDiameter(pts)
		require.NoError(t, err, "set %d", set)
		assert.InDelta(t, want, got, 1e-9, "set %d", set)
	}
}

// squareFootprint is five points over a 2x2 square: the corners at
// heights 0 to 3 and the centre at 10.
func squareFootprint() *Tree {
	return treeFrom(1,
		r3.Vector{X: 0, Y: 0, Z: 0},
		r3.Vector{X: 2, Y: 0, Z: 1},
		r3.Vector{X: 2, Y: 2, Z: 2},
		r3.Vector{X: 0, Y: 2, Z: 3},
		r3.Vector{X: 1, Y: 1, Z: 10},
	)
}

func TestMeasure_SquareFootprint(t *testing.T) {
	cfg := DefaultConfig()
	tree := squareFootprint()

	assert.InDelta(t, 0.15, AdaptiveAlpha(tree.Footprint(), cfg.Alpha), 1e-12)
	assert.InDelta(t, 0.2, Percentile(tree.Elevations(), 5), 1e-12)

	fit, err := FitBoundary(tree, cfg.FitOptions())
	require.NoError(t, err)
	assert.InDelta(t, 0.15, fit.Alpha, 1e-12)

	opts := cfg.Metrics
	opts.Volume3D = false
	m, warnings := Measure(tree, fit, opts)
	assert.Empty(t, warnings)
	assert.Equal(t, 10.0, m.Height)
	assert.InDelta(t, 9.8, m.CrownDepth, 1e-12)
	assert.InDelta(t, 2*math.Sqrt2, m.MaxDiameter, 1e-12)
	assert.Greater(t, m.Area, 4.0, "the buffered square is larger than the footprint")
	assert.InDelta(t, m.Area*m.CrownDepth/3, m.Volume2D, 1e-12)
}

func TestProcessor_SquareFootprint(t *testing.T) {
	pc := cloudWith(t, []string{"treeID"},
		[]float64{0, 0, 0, 1}, []float64{2, 0, 1, 1}, []float64{2, 2, 2, 1},
		[]float64{0, 2, 3, 1}, []float64{1, 1, 10, 1},
	)
	records, summary, err := NewProcessor(DefaultConfig(), nil).Process(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Delineated)
	require.Len(t, records, 1)

	m := records[0].Metrics
	assert.Equal(t, 0.15, m.Alpha)
	assert.Equal(t, 9.8, m.CrownDepth)
	assert.Equal(t, 2.8284, m.MaxDiameter)
	assert.InDelta(t, m.Area*m.CrownDepth/3, m.Volume2D, 1e-3)
}

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{5, 1.15},
		{25, 1.75},
		{50, 2.5},
		{100, 4},
		{150, 4},
		{-10, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Percentile(values, tt.p), 1e-12, "p=%g", tt.p)
	}
	assert.Equal(t, []float64{4, 1, 3, 2}, values, "input must not be reordered")
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 5))
}

func treeFrom(id TreeID, pts ...r3.Vector) *Tree {
	t := &Tree{ID: id, Points: pts}
	for i := range pts {
		t.Indices = append(t.Indices, i)
	}
	return t
}

func TestMeasure(t *testing.T) {
	tree := treeFrom(5,
		r3.Vector{X: 0, Y: 0, Z: 2},
		r3.Vector{X: 4, Y: 0, Z: 4},
		r3.Vector{X: 4, Y: 2, Z: 6},
		r3.Vector{X: 0, Y: 2, Z: 8},
		r3.Vector{X: 2, Y: 1, Z: 10},
	)
	fit := Fit{TreeID: 5, Alpha: 0.3, Polygon: orb.Polygon{{{0, 0}, {4, 0}, {4, 2}, {0, 2}, {0, 0}}}}

	t.Run("absolute height", func(t *testing.T) {
		m, warnings := Measure(tree, fit, MetricsOptions{HeightMode: HeightAbsolute, CrownBasePercentile: 5})
		assert.Empty(t, warnings)

		assert.Equal(t, TreeID(5), m.TreeID)
		assert.Equal(t, 5, m.PointCount)
		assert.Equal(t, 0.3, m.Alpha)
		assert.InDelta(t, 8.0, m.Area, 1e-12)
		assert.InDelta(t, math.Sqrt(20), m.MaxDiameter, 1e-12)
		assert.InDelta(t, 3.0, m.AvgDiameter, 1e-12)
		assert.Equal(t, 10.0, m.Height)

		// 5th percentile of 2,4,6,8,10 is 2.4.
		assert.InDelta(t, 7.6, m.CrownDepth, 1e-12)
		assert.InDelta(t, 8*7.6/3, m.Volume2D, 1e-12)
		assert.Zero(t, m.Volume3D)
	})

	t.Run("relative height", func(t *testing.T) {
		m, _ := Measure(tree, fit, MetricsOptions{HeightMode: HeightRelative, CrownBasePercentile: 5})
		assert.Equal(t, 8.0, m.Height)
		assert.LessOrEqual(t, m.CrownDepth, m.Height)
	})

	t.Run("3d volume", func(t *testing.T) {
		m, warnings := Measure(tree, Fit{TreeID: 5, Alpha: 0, Polygon: fit.Polygon},
			MetricsOptions{HeightMode: HeightAbsolute, CrownBasePercentile: 5, Volume3D: true})
		assert.Empty(t, warnings)
		assert.Greater(t, m.Volume3D, 0.0)
	})
}

func TestMeasure_SoftFailures(t *testing.T) {
	// Every point on one vertical plane: the hull and the 3D estimator
	// both degenerate but the rest of the metrics stand.
	tree := treeFrom(9,
		r3.Vector{X: 0, Y: 0, Z: 1},
		r3.Vector{X: 1, Y: 1, Z: 2},
		r3.Vector{X: 2, Y: 2, Z: 3},
		r3.Vector{X: 3, Y: 3, Z: 5},
	)
	fit := Fit{TreeID: 9, Alpha: 1, Polygon: square(0, 0, 3)}

	m, warnings := Measure(tree, fit, MetricsOptions{HeightMode: HeightAbsolute, Volume3D: true})
	require.Len(t, warnings, 2)
	assert.True(t, errors.Is(warnings[0], ErrDegenerateHull))
	assert.True(t, errors.Is(warnings[1], ErrDegenerate))

	assert.Zero(t, m.MaxDiameter)
	assert.Zero(t, m.Volume3D)
	assert.InDelta(t, 9.0, m.Area, 1e-12)
	assert.Equal(t, 5.0, m.Height)
}

func TestCrownMetrics_Rounded(t *testing.T) {
	m := CrownMetrics{TreeID: 1, Area: 12.345678, Height: 9.99996, Volume3D: 0.00004, PointCount: 17}
	r := m.Rounded(4)
	assert.Equal(t, 12.3457, r.Area)
	assert.Equal(t, 10.0, r.Height)
	assert.Equal(t, 0.0, r.Volume3D)
	assert.Equal(t, 17, r.PointCount)
	assert.Equal(t, m, m.Rounded(-1))
}

func TestEstimateVolume3D(t *testing.T) {
	t.Run("single tetrahedron", func(t *testing.T) {
		pts := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1}}
		v, err := EstimateVolume3D(pts, 1)
		require.NoError(t, err)
		assert.InDelta(t, 1.0/6, v, 1e-12)

		// Circumradius is sqrt(3)/2, above 1/alpha.
		_, err = EstimateVolume3D(pts, 2)
		assert.ErrorIs(t, err, ErrEmptyBoundary)
	})

	t.Run("convex hull of a cloud", func(t *testing.T) {
		rng := rand.New(rand.NewSource(3))
		pts := make([]r3.Vector, 300)
		for i := range pts {
			pts[i] = r3.Vector{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		}
		hull, err := EstimateVolume3D(pts, 0)
		require.NoError(t, err)
		assert.Greater(t, hull, 0.7)
		assert.LessOrEqual(t, hull, 1.0)

		tight, err := EstimateVolume3D(pts, 5)
		require.NoError(t, err)
		assert.Less(t, tight, hull)
	})

	t.Run("degenerate input", func(t *testing.T) {
		_, err := EstimateVolume3D([]r3.Vector{{X: 0}, {X: 1}, {Y: 1}}, 1)
		assert.ErrorIs(t, err, ErrTooFewPoints)

		flat := []r3.Vector{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 0.5, Y: 0.5}}
		_, err = EstimateVolume3D(flat, 1)
		assert.ErrorIs(t, err, ErrDegenerate)
	})
}

func TestFitBoundary(t *testing.T) {
	opts := DefaultConfig().FitOptions()

	t.Run("success", func(t *testing.T) {
		rng := rand.New(rand.NewSource(11))
		var pts []r3.Vector
		for i := 0; i < 80; i++ {
			pts = append(pts, r3.Vector{X: 10 + 4*rng.Float64(), Y: 20 + 4*rng.Float64(), Z: 5 * rng.Float64()})
		}
		fit, err := FitBoundary(treeFrom(3, pts...), opts)
		require.NoError(t, err)
		assert.Equal(t, TreeID(3), fit.TreeID)
		assert.InDelta(t, 0.3, fit.Alpha, 0.02)
		area := polygonArea(fit.Polygon)
		assert.Greater(t, area, 12.0)
		assert.Less(t, area, 18.0)
	})

	tests := []struct {
		name   string
		tree   *Tree
		reason FitReason
	}{
		{
			name:   "two points",
			tree:   treeFrom(1, r3.Vector{X: 0, Y: 0, Z: 1}, r3.Vector{X: 1, Y: 1, Z: 2}),
			reason: FitTooFewPoints,
		},
		{
			name: "stacked points",
			tree: treeFrom(2,
				r3.Vector{X: 1, Y: 1, Z: 1}, r3.Vector{X: 1, Y: 1, Z: 2},
				r3.Vector{X: 1, Y: 1, Z: 3}, r3.Vector{X: 2, Y: 2, Z: 1}),
			reason: FitTooFewPoints,
		},
		{
			name: "collinear footprint",
			tree: treeFrom(4,
				r3.Vector{X: 0, Y: 0, Z: 1}, r3.Vector{X: 1, Y: 0, Z: 2},
				r3.Vector{X: 2, Y: 0, Z: 3}, r3.Vector{X: 3, Y: 0, Z: 4}),
			reason: FitDegenerate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FitBoundary(tt.tree, opts)
			var fitErr *FitError
			require.True(t, errors.As(err, &fitErr), "got %v", err)
			assert.Equal(t, tt.reason, fitErr.Reason)
			assert.Equal(t, tt.tree.ID, fitErr.TreeID)
		})
	}
}
