// Package calibration fits and applies the camera-to-screen gaze transform.
package calibration

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/gazeselect/internal/gaze"
)

// Affine is a 2×3 affine transform stored row-major as
// [a, b, c, d, e, f], mapping (x, y) to (a·x + b·y + c, d·x + e·y + f).
type Affine [6]float64

// Identity is the transform that leaves points unchanged.
var Identity = Affine{1, 0, 0, 0, 1, 0}

// FitExact returns the unique affine transform taking each src point to the
// dst point at the same index. The 3×3 system is solved by LU factorisation;
// a singular or ill-conditioned system is returned as an error.
func FitExact(src [3]gaze.RawPoint, dst [3]gaze.ScreenPoint) (Affine, error) {
	a := mat.NewDense(3, 3, []float64{
		src[0].X, src[0].Y, 1,
		src[1].X, src[1].Y, 1,
		src[2].X, src[2].Y, 1,
	})
	b := mat.NewDense(3, 2, []float64{
		dst[0].X, dst[0].Y,
		dst[1].X, dst[1].Y,
		dst[2].X, dst[2].Y,
	})

	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		return Affine{}, err
	}
	return Affine{
		x.At(0, 0), x.At(1, 0), x.At(2, 0),
		x.At(0, 1), x.At(1, 1), x.At(2, 1),
	}, nil
}

// Apply maps a raw gaze point to screen space without clamping.
func (m Affine) Apply(p gaze.RawPoint) gaze.ScreenPoint {
	return gaze.ScreenPoint{
		X: m[0]*p.X + m[1]*p.Y + m[2],
		Y: m[3]*p.X + m[4]*p.Y + m[5],
	}
}

// ToScreen maps a raw gaze point to screen space and clamps it to the last
// representable pixel on each axis. Non-finite results clamp to 0.
func (m Affine) ToScreen(p gaze.RawPoint, screen gaze.ScreenSize) gaze.ScreenPoint {
	s := m.Apply(p)
	return gaze.ScreenPoint{
		X: clamp(s.X, float64(screen.Width-1)),
		Y: clamp(s.Y, float64(screen.Height-1)),
	}
}

func clamp(v, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if hi < 0 {
		hi = 0
	}
	return math.Max(0, math.Min(v, hi))
}

// Finite reports whether every coefficient is a finite number.
func (m Affine) Finite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
