// Package gaze holds the point types shared by the calibration, filtering
// and selection stages, and the landmark-to-gaze mapping.
package gaze

import (
	"errors"
	"math"
)

// ErrLandmarkUnavailable is returned when a frame carries no usable face.
// Callers recover by holding the last known gaze.
var ErrLandmarkUnavailable = errors.New("landmark unavailable")

// ScreenPoint is a position in screen pixels.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RawPoint is a gaze point in camera pixel space. Unbounded and noisy.
type RawPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector is a 2D displacement or velocity (screen px or px/s).
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Norm returns the Euclidean length of v.
func (v Vector) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// Sub returns the vector from q to p.
func (p ScreenPoint) Sub(q ScreenPoint) Vector {
	return Vector{X: p.X - q.X, Y: p.Y - q.Y}
}

// Dist returns the Euclidean distance between p and q.
func (p ScreenPoint) Dist(q ScreenPoint) float64 {
	return p.Sub(q).Norm()
}

// FrameSize is a camera frame resolution in pixels.
type FrameSize struct {
	Width  int `json:"w"`
	Height int `json:"h"`
}

// ScreenSize is a display resolution in pixels.
type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Landmark is a single facial landmark in camera pixels.
type Landmark struct {
	X, Y float64
}

// EyeLandmarks holds the outer and inner corner of each eye
// (dlib 68-point indices 36, 39, 42 and 45).
type EyeLandmarks [4]Landmark

func (e EyeLandmarks) finite() bool {
	for _, l := range e {
		if math.IsNaN(l.X) || math.IsNaN(l.Y) || math.IsInf(l.X, 0) || math.IsInf(l.Y, 0) {
			return false
		}
	}
	return true
}

// MapLandmarks reduces two eye landmark pairs to a single raw gaze point:
// the midpoint between the two eye centres. When the frame resolution differs
// from ref the point is rescaled per axis into ref's pixel space, so
// calibration and live tracking always agree on units. A nil eyes pointer or
// non-finite landmarks yield ErrLandmarkUnavailable.
func MapLandmarks(eyes *EyeLandmarks, frame, ref FrameSize) (RawPoint, error) {
	if eyes == nil || !eyes.finite() {
		return RawPoint{}, ErrLandmarkUnavailable
	}

	e1x := (eyes[0].X + eyes[1].X) / 2
	e1y := (eyes[0].Y + eyes[1].Y) / 2
	e2x := (eyes[2].X + eyes[3].X) / 2
	e2y := (eyes[2].Y + eyes[3].Y) / 2
	p := RawPoint{X: (e1x + e2x) / 2, Y: (e1y + e2y) / 2}

	if frame.Width > 0 && ref.Width > 0 && frame.Width != ref.Width {
		p.X *= float64(ref.Width) / float64(frame.Width)
	}
	if frame.Height > 0 && ref.Height > 0 && frame.Height != ref.Height {
		p.Y *= float64(ref.Height) / float64(frame.Height)
	}
	return p, nil
}

// Hold is a last-value hold for screen gaze. It is not safe for concurrent use.
type Hold struct {
	last  ScreenPoint
	valid bool
}

// Update records p as the latest known gaze.
func (h *Hold) Update(p ScreenPoint) {
	h.last = p
	h.valid = true
}

// Last returns the latest known gaze and whether one has been seen.
func (h *Hold) Last() (ScreenPoint, bool) {
	return h.last, h.valid
}
