package crown

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ctessum/geom"
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// SelectPlot returns the boundary of the plot with the given identifier.
// When several features share the identifier their geometries are merged
// into one boundary.
func SelectPlot(plots []Plot, id string) (orb.MultiPolygon, error) {
	var matched []orb.MultiPolygon
	for _, p := range plots {
		if p.ID == id {
			matched = append(matched, p.Geometry)
		}
	}

	switch len(matched) {
	case 0:
		seen := make(map[string]bool)
		var available []string
		for _, p := range plots {
			if !seen[p.ID] {
				seen[p.ID] = true
				available = append(available, p.ID)
			}
		}
		sort.Strings(available)
		return nil, &PlotNotFoundError{ID: id, Available: available}
	case 1:
		return matched[0], nil
	}

	parts := make([]geom.Polygon, 0, len(matched))
	for _, mp := range matched {
		parts = append(parts, toGeom(mp))
	}
	merged, err := unionAll(parts)
	if err != nil {
		return nil, fmt.Errorf("merging plot %q: %w", id, err)
	}
	return fromGeom(merged), nil
}

// boundaryPart is one polygon of a plot boundary in the spatial index.
type boundaryPart struct {
	poly orb.Polygon
	rect rtreego.Rect
}

func (b *boundaryPart) Bounds() rtreego.Rect {
	return b.rect
}

// PlotBoundary answers point containment queries against a plot.
// Points on the boundary count as inside.
type PlotBoundary struct {
	parts []*boundaryPart
	index *rtreego.Rtree
}

// NewPlotBoundary indexes the parts of a plot boundary.
func NewPlotBoundary(mp orb.MultiPolygon) (*PlotBoundary, error) {
	b := &PlotBoundary{index: rtreego.NewTree(2, 4, 16)}
	for _, poly := range mp {
		if len(poly) == 0 || len(poly[0]) < 3 {
			continue
		}
		bound := poly.Bound()
		rect, err := rtreego.NewRect(
			rtreego.Point{bound.Min[0], bound.Min[1]},
			[]float64{extent(bound.Max[0] - bound.Min[0]), extent(bound.Max[1] - bound.Min[1])},
		)
		if err != nil {
			return nil, fmt.Errorf("indexing plot part: %w", err)
		}
		part := &boundaryPart{poly: poly, rect: rect}
		b.parts = append(b.parts, part)
		b.index.Insert(part)
	}
	if len(b.parts) == 0 {
		return nil, fmt.Errorf("plot boundary has no polygons: %w", ErrEmptyBoundary)
	}
	return b, nil
}

// extent keeps index rectangles non-degenerate.
func extent(d float64) float64 {
	if d <= 0 {
		return 1e-9
	}
	return d
}

// Contains reports whether p lies inside or on the plot boundary.
func (b *PlotBoundary) Contains(p orb.Point) bool {
	query := rtreego.Point{p[0], p[1]}.ToRect(1e-9)
	for _, s := range b.index.SearchIntersect(query) {
		if planar.PolygonContains(s.(*boundaryPart).poly, p) {
			return true
		}
	}
	return false
}

// OverlapFractions returns, per tree, the share of its points that fall
// inside the boundary. Trees are evaluated in parallel.
func OverlapFractions(ctx context.Context, trees []*Tree, boundary *PlotBoundary, workers int) (map[TreeID]float64, error) {
	fractions := make([]float64, len(trees))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(workers))
	for i, tree := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if tree.Len() == 0 {
				return nil
			}
			inside := 0
			for _, p := range tree.Points {
				if boundary.Contains(orb.Point{p.X, p.Y}) {
					inside++
				}
			}
			fractions[i] = float64(inside) / float64(tree.Len())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[TreeID]float64, len(trees))
	for i, tree := range trees {
		out[tree.ID] = fractions[i]
	}
	return out, nil
}

// ClipOptions configures ClipToPlot.
type ClipOptions struct {
	PlotID       string
	PlotField    string
	MinFraction  float64
	Segmentation SegmentationOptions
	Workers      int
}

// ClipReport describes the outcome of a clip.
type ClipReport struct {
	PlotID       string
	TreeField    TreeIDField
	Trees        int
	Fractions    map[TreeID]float64
	Retained     []TreeID
	MeanFraction float64
	PointsIn     int
	PointsOut    int
}

// ClipToPlot keeps every point of each tree whose overlap fraction with the
// plot strictly exceeds MinFraction. Trees straddling the boundary are kept
// whole. The returned cloud carries all attributes of the input.
func ClipToPlot(ctx context.Context, pc *PointCloud, plots []Plot, opts ClipOptions, logger *zap.SugaredLogger) (*PointCloud, *ClipReport, error) {
	logger = orNop(logger)

	plot, err := SelectPlot(plots, opts.PlotID)
	if err != nil {
		var notFound *PlotNotFoundError
		if errors.As(err, &notFound) {
			notFound.Field = opts.PlotField
		}
		return nil, nil, err
	}
	boundary, err := NewPlotBoundary(plot)
	if err != nil {
		return nil, nil, err
	}

	seg := opts.Segmentation
	seg.AllowFallback = true
	field, err := ResolveTreeIDField(pc, seg)
	if err != nil {
		return nil, nil, err
	}
	if field.Degraded {
		logger.Warnw("No tree identifier attribute, grouping by fallback attribute",
			"field", field.Name)
	}

	trees, err := GroupTrees(pc, field.Name)
	if err != nil {
		return nil, nil, err
	}
	fractions, err := OverlapFractions(ctx, trees, boundary, opts.Workers)
	if err != nil {
		return nil, nil, err
	}

	report := &ClipReport{
		PlotID:    opts.PlotID,
		TreeField: field,
		Trees:     len(trees),
		Fractions: fractions,
	}
	values := make([]float64, 0, len(trees))
	mask := make([]bool, pc.Len())
	for _, tree := range trees {
		f := fractions[tree.ID]
		values = append(values, f)
		if tree.Len() == 0 || f <= opts.MinFraction {
			logger.Debugw("Dropping tree", "tree_id", tree.ID, "fraction", f, "plot", opts.PlotID)
			continue
		}
		report.Retained = append(report.Retained, tree.ID)
		for _, idx := range tree.Indices {
			mask[idx] = true
		}
	}
	if len(values) > 0 {
		report.MeanFraction = stat.Mean(values, nil)
	}

	clipped, err := pc.Filter(mask)
	if err != nil {
		return nil, nil, err
	}
	report.PointsIn = clipped.Len()
	report.PointsOut = pc.Len() - clipped.Len()
	logger.Infow("Clipped point cloud", "plot", opts.PlotID, "trees", len(trees),
		"retained", len(report.Retained), "points", clipped.Len())
	return clipped, report, nil
}
