package crown

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Percentile returns the p-th percentile of values with linear
// interpolation between closest ranks, so Percentile(v, 0) is the minimum
// and Percentile(v, 100) the maximum. values is not modified.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p = math.Max(0, math.Min(100, p))
	h := float64(n-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// Measure computes the crown metrics of a tree from its fitted polygon and
// raw points. Soft problems (degenerate hull, 3D estimator failure) leave
// the affected metric at zero and are returned as warnings.
func Measure(tree *Tree, fit Fit, opts MetricsOptions) (CrownMetrics, []error) {
	var warnings []error
	m := CrownMetrics{
		TreeID:     tree.ID,
		PointCount: tree.Len(),
		Alpha:      fit.Alpha,
		Area:       polygonArea(fit.Polygon),
	}

	footprint := tree.Footprint()
	if d, err := MaxDiameter(footprint); err != nil {
		warnings = append(warnings, fmt.Errorf("max diameter: %w", err))
	} else {
		m.MaxDiameter = d
	}

	if len(fit.Polygon) > 0 {
		b := fit.Polygon.Bound()
		m.AvgDiameter = ((b.Max[0] - b.Min[0]) + (b.Max[1] - b.Min[1])) / 2
	}

	zs := tree.Elevations()
	if len(zs) > 0 {
		top := floats.Max(zs)
		switch opts.HeightMode {
		case HeightRelative:
			m.Height = top - floats.Min(zs)
		default:
			m.Height = top
		}
		m.CrownDepth = top - Percentile(zs, opts.CrownBasePercentile)
	}

	m.Volume2D = m.Area * m.CrownDepth / 3

	if opts.Volume3D {
		v, err := EstimateVolume3D(tree.Points, fit.Alpha)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("3d volume: %w", err))
		} else {
			m.Volume3D = v
		}
	}

	return m, warnings
}
