package crown

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Processor delineates crowns and computes metrics for every tree of a
// segmented point cloud.
type Processor struct {
	Segmentation SegmentationOptions
	Fit          FitOptions
	Metrics      MetricsOptions
	Workers      int
	CRSEPSG      int

	logger *zap.SugaredLogger
}

// NewProcessor creates a processor from the run configuration.
func NewProcessor(cfg *Config, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		Segmentation: cfg.SegmentationOptions(false),
		Fit:          cfg.FitOptions(),
		Metrics:      cfg.Metrics,
		Workers:      cfg.Workers,
		CRSEPSG:      cfg.CRSEPSG,
		logger:       orNop(logger),
	}
}

// workerCount resolves a configured worker count; zero means GOMAXPROCS.
func workerCount(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// Process groups the cloud into trees and measures each one in parallel.
// Trees whose boundary cannot be fitted are logged and skipped. Records are
// returned in ascending tree ID order, rounded to the configured precision.
// A missing tree identifier attribute is fatal.
func (p *Processor) Process(ctx context.Context, pc *PointCloud) ([]CrownRecord, RunSummary, error) {
	summary := RunSummary{
		RunID:     uuid.NewString(),
		CRSEPSG:   p.CRSEPSG,
		Timestamp: time.Now().Unix(),
	}

	field, err := ResolveTreeIDField(pc, p.Segmentation)
	if err != nil {
		return nil, summary, err
	}
	summary.TreeField = field.Name

	trees, err := GroupTrees(pc, field.Name)
	if err != nil {
		return nil, summary, err
	}
	summary.Trees = len(trees)
	p.logger.Infow("Grouped point cloud", "points", pc.Len(), "trees", len(trees), "field", field.Name)

	slots := make([]*CrownRecord, len(trees))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(p.Workers))
	for i, tree := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			slots[i] = p.processTree(tree)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, summary, err
	}

	records := make([]CrownRecord, 0, len(trees))
	for _, r := range slots {
		if r != nil {
			records = append(records, *r)
		}
	}
	summary.Delineated = len(records)
	summary.Skipped = len(trees) - len(records)
	p.logger.Infow("Measured crowns", "delineated", summary.Delineated, "skipped", summary.Skipped)
	return records, summary, nil
}

// processTree fits and measures one tree. A nil record means the tree was
// skipped.
func (p *Processor) processTree(tree *Tree) *CrownRecord {
	fit, err := FitBoundary(tree, p.Fit)
	if err != nil {
		var fitErr *FitError
		reason := FitRegularize
		if errors.As(err, &fitErr) {
			reason = fitErr.Reason
		}
		p.logger.Warnw("Skipping tree", "tree_id", tree.ID, "reason", reason, "points", tree.Len(), "error", err)
		return nil
	}

	if fit.DroppedParts > 0 {
		p.logger.Infow("Dropped crown parts", "tree_id", tree.ID, "parts", fit.DroppedParts,
			"dropped_area", fit.DroppedArea, "kept_area", polygonArea(fit.Polygon))
	}

	metrics, warnings := Measure(tree, fit, p.Metrics)
	for _, w := range warnings {
		if errors.Is(w, ErrDegenerateHull) {
			p.logger.Warnw("Max diameter unavailable", "tree_id", tree.ID, "error", w)
			continue
		}
		p.logger.Debugw("Metric unavailable", "tree_id", tree.ID, "error", w)
	}

	return &CrownRecord{
		TreeID:  tree.ID,
		Polygon: fit.Polygon,
		Metrics: metrics.Rounded(p.Metrics.Precision),
	}
}
