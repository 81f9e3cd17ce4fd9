package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/monitoring"
)

// Stage names the calibration phase that failed.
type Stage string

const (
	StageCapture Stage = "capture"
	StageFit     Stage = "fit"
)

// Error reports a failed calibration phase. The worker never starts
// without a transform, so callers treat it as fatal to the session.
type Error struct {
	Stage Stage
	Index int // target index for StageCapture, -1 otherwise
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == StageCapture && e.Index >= 0 {
		return fmt.Sprintf("calibration %s failed at target %d: %v", e.Stage, e.Index, e.Err)
	}
	return fmt.Sprintf("calibration %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CaptureFunc blocks until the user confirms they are looking at target,
// then returns the raw gaze for that moment. Returning
// gaze.ErrLandmarkUnavailable leaves the target without a correspondence.
type CaptureFunc func(ctx context.Context, index int, target gaze.ScreenPoint) (gaze.RawPoint, error)

// Set is the outcome of a calibration session.
type Set struct {
	Targets   []gaze.ScreenPoint
	Points    []Correspondence // valid captures only, in target order
	Transform Affine
	Used      int // combinations averaged into Transform
}

// Calibrate visits each target in order, captures one raw gaze point per
// target and fits the averaged transform.
func Calibrate(ctx context.Context, targets []gaze.ScreenPoint, capture CaptureFunc, opts FitOptions) (*Set, error) {
	set := &Set{Targets: append([]gaze.ScreenPoint(nil), targets...)}

	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Stage: StageCapture, Index: i, Err: err}
		}
		raw, err := capture(ctx, i, target)
		switch {
		case errors.Is(err, gaze.ErrLandmarkUnavailable):
			monitoring.Logf("calibration: no face for target %d at (%.0f, %.0f), skipping", i, target.X, target.Y)
			continue
		case err != nil:
			return nil, &Error{Stage: StageCapture, Index: i, Err: err}
		}
		if math.IsNaN(raw.X) || math.IsNaN(raw.Y) || math.IsInf(raw.X, 0) || math.IsInf(raw.Y, 0) {
			monitoring.Logf("calibration: non-finite capture for target %d, skipping", i)
			continue
		}
		set.Points = append(set.Points, Correspondence{Index: i, Screen: target, Raw: raw})
		monitoring.Tracef("calibration: target %d (%.0f, %.0f) -> raw (%.2f, %.2f)", i, target.X, target.Y, raw.X, raw.Y)
	}

	res, err := Fit(set.Points, opts)
	if err != nil {
		return nil, err
	}
	set.Transform = res.Transform
	set.Used = res.Used
	monitoring.Logf("calibration: %d/%d targets captured, %d combinations averaged", len(set.Points), len(targets), res.Used)
	return set, nil
}

// DefaultTargets returns the standard five-point layout: the four corners
// inset by a dot radius of dotFraction·max(w, h), followed by the centre.
func DefaultTargets(screen gaze.ScreenSize, dotFraction float64) []gaze.ScreenPoint {
	w, h := float64(screen.Width), float64(screen.Height)
	r := DotRadius(screen, dotFraction)
	return []gaze.ScreenPoint{
		{X: r, Y: r},
		{X: w - r, Y: r},
		{X: r, Y: h - r},
		{X: w - r, Y: h - r},
		{X: w / 2, Y: h / 2},
	}
}

// DotRadius is the on-screen radius of a calibration target.
func DotRadius(screen gaze.ScreenSize, dotFraction float64) float64 {
	return math.Round(math.Max(float64(screen.Width), float64(screen.Height)) * dotFraction)
}
