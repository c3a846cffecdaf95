package crown

import (
	"errors"
	"fmt"
	"strings"
)

// Geometry failures. They are soft: the affected tree or metric is skipped.
var (
	ErrTooFewPoints   = errors.New("too few distinct points")
	ErrDegenerate     = errors.New("degenerate geometry")
	ErrEmptyBoundary  = errors.New("empty boundary")
	ErrDegenerateHull = errors.New("degenerate convex hull")
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publication in time.
var ErrPublishTimeout = errors.New("publish not acknowledged before timeout")

// MissingSegmentationError reports that no tree identifier attribute exists
// in the point cloud. The input has not been through individual tree
// detection yet, so the run cannot continue.
type MissingSegmentationError struct {
	Tried []string
}

func (e *MissingSegmentationError) Error() string {
	return fmt.Sprintf("no tree identifier attribute found (tried %s); run individual tree detection first",
		strings.Join(e.Tried, ", "))
}

// PlotNotFoundError reports that the requested plot identifier is absent
// from the plot collection.
type PlotNotFoundError struct {
	ID        string
	Field     string
	Available []string
}

func (e *PlotNotFoundError) Error() string {
	msg := fmt.Sprintf("plot %q not found", e.ID)
	if e.Field != "" {
		msg += fmt.Sprintf(" in field %q", e.Field)
	}
	if len(e.Available) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(e.Available, ", "))
	}
	return msg
}

// FitReason classifies why a crown boundary could not be fitted.
type FitReason string

const (
	FitTooFewPoints FitReason = "too-few-points"
	FitDegenerate   FitReason = "degenerate"
	FitEmpty        FitReason = "empty"
	FitRegularize   FitReason = "regularize"
)

// FitError is the failed variant of a boundary fit.
type FitError struct {
	TreeID TreeID
	Reason FitReason
	Err    error
}

func (e *FitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tree %d: boundary fit failed (%s): %v", e.TreeID, e.Reason, e.Err)
	}
	return fmt.Sprintf("tree %d: boundary fit failed (%s)", e.TreeID, e.Reason)
}

func (e *FitError) Unwrap() error {
	return e.Err
}

// fitReasonFor maps a geometry error onto a fit failure reason.
func fitReasonFor(err error) FitReason {
	switch {
	case errors.Is(err, ErrTooFewPoints):
		return FitTooFewPoints
	case errors.Is(err, ErrDegenerate):
		return FitDegenerate
	case errors.Is(err, ErrEmptyBoundary):
		return FitEmpty
	default:
		return FitRegularize
	}
}
