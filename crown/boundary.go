package crown

import "github.com/paulmach/orb"

// FitOptions controls crown boundary fitting.
type FitOptions struct {
	Alpha      AlphaOptions
	Regularize RegularizeOptions
}

// Fit is a successfully fitted crown boundary.
type Fit struct {
	TreeID  TreeID
	Alpha   float64
	Polygon orb.Polygon
	// DroppedParts and DroppedArea describe the smaller parts of the
	// regularized shape that were discarded in favour of Polygon.
	DroppedParts int
	DroppedArea  float64
}

// FitBoundary derives the crown polygon of a tree: adaptive alpha shape of
// the planar footprint followed by regularization. Every failure is a
// *FitError carrying the tree ID and a reason.
func FitBoundary(tree *Tree, opts FitOptions) (Fit, error) {
	pts := tree.Footprint()
	if len(pts) < 3 {
		return Fit{}, &FitError{TreeID: tree.ID, Reason: FitTooFewPoints, Err: ErrTooFewPoints}
	}

	alpha := AdaptiveAlpha(pts, opts.Alpha)
	raw, err := AlphaShape(pts, alpha)
	if err != nil {
		return Fit{}, &FitError{TreeID: tree.ID, Reason: fitReasonFor(err), Err: err}
	}

	poly, dropped, err := regularize(raw, opts.Regularize)
	if err != nil {
		reason := FitRegularize
		if fitReasonFor(err) == FitEmpty {
			reason = FitEmpty
		}
		return Fit{}, &FitError{TreeID: tree.ID, Reason: reason, Err: err}
	}

	return Fit{
		TreeID:       tree.ID,
		Alpha:        alpha,
		Polygon:      poly,
		DroppedParts: dropped.Count,
		DroppedArea:  dropped.Area,
	}, nil
}
