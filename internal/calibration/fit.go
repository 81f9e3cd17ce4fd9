package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/gazeselect/internal/config"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/monitoring"
)

// MinPoints is the smallest number of correspondences an affine fit needs.
const MinPoints = 3

// collinearTolerance bounds the triangle sine below which three screen
// targets count as collinear. An exact fit onto a sliver triangle amplifies
// sub-pixel capture noise into hundreds of pixels, so near-collinear
// targets are rejected along with exactly collinear ones.
const collinearTolerance = 1e-3

var (
	// ErrTooFewPoints is returned when fewer than MinPoints correspondences are valid.
	ErrTooFewPoints = errors.New("too few calibration points")
	// ErrDegenerate is returned when no 3-combination yields a usable transform.
	ErrDegenerate = errors.New("degenerate calibration geometry")
)

// Correspondence pairs a screen target with the raw gaze captured for it.
type Correspondence struct {
	Index  int              `json:"index"`
	Screen gaze.ScreenPoint `json:"screen"`
	Raw    gaze.RawPoint    `json:"raw"`
}

// FitOptions tunes the combination filter.
type FitOptions struct {
	// MinTriangleSine rejects combinations whose raw triangle is flatter than this.
	MinTriangleSine float64
}

// DefaultFitOptions returns the built-in fit options.
func DefaultFitOptions() FitOptions {
	return FitOptionsFromTuning(config.EmptyTuningConfig())
}

// FitOptionsFromTuning builds FitOptions from a loaded TuningConfig.
func FitOptionsFromTuning(cfg *config.TuningConfig) FitOptions {
	return FitOptions{MinTriangleSine: cfg.GetMinTriangleSine()}
}

// FitResult is the averaged transform plus how many combinations produced it.
type FitResult struct {
	Transform Affine
	Used      int
	Skipped   int
}

// Fit averages the exact affine fits of every 3-combination of points, taken
// in lexicographic index order. Combinations whose screen targets are
// collinear or whose raw captures are degenerate are skipped.
func Fit(points []Correspondence, opts FitOptions) (FitResult, error) {
	if len(points) < MinPoints {
		return FitResult{}, &Error{Stage: StageFit, Index: -1, Err: fmt.Errorf("%w: have %d, need %d", ErrTooFewPoints, len(points), MinPoints)}
	}

	var (
		sum Affine
		res FitResult
	)
	forEachCombination(len(points), func(i, j, k int) {
		p := [3]Correspondence{points[i], points[j], points[k]}
		if triangleSine(p[0].Screen.X, p[0].Screen.Y, p[1].Screen.X, p[1].Screen.Y, p[2].Screen.X, p[2].Screen.Y) < collinearTolerance {
			res.Skipped++
			return
		}
		if triangleSine(p[0].Raw.X, p[0].Raw.Y, p[1].Raw.X, p[1].Raw.Y, p[2].Raw.X, p[2].Raw.Y) < opts.MinTriangleSine {
			monitoring.Tracef("calibration: skipping combination (%d,%d,%d): raw points degenerate", p[0].Index, p[1].Index, p[2].Index)
			res.Skipped++
			return
		}
		m, err := FitExact(
			[3]gaze.RawPoint{p[0].Raw, p[1].Raw, p[2].Raw},
			[3]gaze.ScreenPoint{p[0].Screen, p[1].Screen, p[2].Screen},
		)
		if err != nil || !m.Finite() {
			monitoring.Tracef("calibration: skipping combination (%d,%d,%d): %v", p[0].Index, p[1].Index, p[2].Index, err)
			res.Skipped++
			return
		}
		for n := range sum {
			sum[n] += m[n]
		}
		res.Used++
	})

	if res.Used == 0 {
		return res, &Error{Stage: StageFit, Index: -1, Err: fmt.Errorf("%w: all %d combinations rejected", ErrDegenerate, res.Skipped)}
	}
	for n := range sum {
		res.Transform[n] = sum[n] / float64(res.Used)
	}
	return res, nil
}

// forEachCombination calls fn for every i<j<k below n in lexicographic order.
func forEachCombination(n int, fn func(i, j, k int)) {
	for i := 0; i < n-2; i++ {
		for j := i + 1; j < n-1; j++ {
			for k := j + 1; k < n; k++ {
				fn(i, j, k)
			}
		}
	}
}

// triangleSine returns the smallest interior-angle sine of the triangle,
// or 0 when any edge has zero length.
func triangleSine(ax, ay, bx, by, cx, cy float64) float64 {
	minSine := math.Inf(1)
	verts := [3][2]float64{{ax, ay}, {bx, by}, {cx, cy}}
	for v := 0; v < 3; v++ {
		o := verts[v]
		p := verts[(v+1)%3]
		q := verts[(v+2)%3]
		ux, uy := p[0]-o[0], p[1]-o[1]
		wx, wy := q[0]-o[0], q[1]-o[1]
		lu, lw := math.Hypot(ux, uy), math.Hypot(wx, wy)
		if lu == 0 || lw == 0 {
			return 0
		}
		s := math.Abs(ux*wy-uy*wx) / (lu * lw)
		if s < minSine {
			minSine = s
		}
	}
	return minSine
}
