// Package kalman estimates gaze velocity with a constant-velocity Kalman filter.
package kalman

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/gazeselect/internal/config"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/monitoring"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// Config holds the filter noise parameters.
type Config struct {
	MeasurementNoise  float64 // R diagonal (px²)
	ProcessNoiseVar   float64 // white-noise acceleration variance
	InitialCovariance float64 // P₀ diagonal
}

// DefaultConfig returns the built-in filter parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MeasurementNoise:  cfg.GetMeasurementNoise(),
		ProcessNoiseVar:   cfg.GetProcessNoiseVar(),
		InitialCovariance: cfg.GetInitialCovariance(),
	}
}

// Estimator tracks the state [x, vx, y, vy] of the screen gaze. The time
// step between samples is the wall-clock interval between Observe calls,
// read from the injected clock. An Estimator is owned by a single goroutine.
type Estimator struct {
	cfg   Config
	clock timeutil.Clock

	x *mat.VecDense // state [x, vx, y, vy]
	p *mat.Dense    // state covariance
	h *mat.Dense    // observation model
	r *mat.Dense    // measurement noise

	last    time.Time
	hasLast bool
}

// NewEstimator returns an estimator with zero state and P = P₀·I.
func NewEstimator(cfg Config, clock timeutil.Clock) *Estimator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	e := &Estimator{
		cfg:   cfg,
		clock: clock,
		h: mat.NewDense(2, 4, []float64{
			1, 0, 0, 0,
			0, 0, 1, 0,
		}),
		r: mat.NewDense(2, 2, []float64{
			cfg.MeasurementNoise, 0,
			0, cfg.MeasurementNoise,
		}),
	}
	e.init()
	return e
}

func (e *Estimator) init() {
	e.x = mat.NewVecDense(4, nil)
	e.p = mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		e.p.Set(i, i, e.cfg.InitialCovariance)
	}
}

// Observe feeds one screen gaze sample and returns the updated velocity
// estimate in px/s. The predict step runs only when time has advanced
// since the previous sample. Non-finite samples are ignored.
func (e *Estimator) Observe(z gaze.ScreenPoint) gaze.Vector {
	if math.IsNaN(z.X) || math.IsNaN(z.Y) || math.IsInf(z.X, 0) || math.IsInf(z.Y, 0) {
		return e.Velocity()
	}

	now := e.clock.Now()
	if e.hasLast {
		if dt := now.Sub(e.last).Seconds(); dt > 0 {
			e.predict(dt)
		}
	}
	e.update(z)
	e.last = now
	e.hasLast = true

	if !e.finite() {
		monitoring.Logf("kalman: non-finite state after update, reinitialising")
		e.init()
	}
	return e.Velocity()
}

// predict advances the state by dt seconds under constant velocity.
func (e *Estimator) predict(dt float64) {
	f := mat.NewDense(4, 4, []float64{
		1, dt, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, dt,
		0, 0, 0, 1,
	})

	// Discrete white-noise acceleration, one block per axis.
	q11 := e.cfg.ProcessNoiseVar * dt * dt * dt * dt / 4
	q12 := e.cfg.ProcessNoiseVar * dt * dt * dt / 2
	q22 := e.cfg.ProcessNoiseVar * dt * dt
	q := mat.NewDense(4, 4, []float64{
		q11, q12, 0, 0,
		q12, q22, 0, 0,
		0, 0, q11, q12,
		0, 0, q12, q22,
	})

	var x mat.VecDense
	x.MulVec(f, e.x)
	e.x = &x

	var fp, p mat.Dense
	fp.Mul(f, e.p)
	p.Mul(&fp, f.T())
	p.Add(&p, q)
	e.p = &p
}

func (e *Estimator) update(z gaze.ScreenPoint) {
	var hx mat.VecDense
	hx.MulVec(e.h, e.x)
	y := mat.NewVecDense(2, []float64{z.X - hx.AtVec(0), z.Y - hx.AtVec(1)})

	// S = H·P·Hᵀ + R
	var ph, s mat.Dense
	ph.Mul(e.p, e.h.T())
	s.Mul(e.h, &ph)
	s.Add(&s, e.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		monitoring.Tracef("kalman: innovation covariance not invertible: %v", err)
		return
	}

	// K = P·Hᵀ·S⁻¹
	var k mat.Dense
	k.Mul(&ph, &sInv)

	var ky, x mat.VecDense
	ky.MulVec(&k, y)
	x.AddVec(e.x, &ky)
	e.x = &x

	// P = (I − K·H)·P, symmetrised.
	var kh, ikh, p mat.Dense
	kh.Mul(&k, e.h)
	ikh.Sub(eye4, &kh)
	p.Mul(&ikh, e.p)
	var pt mat.Dense
	pt.CloneFrom(p.T())
	p.Add(&p, &pt)
	p.Scale(0.5, &p)
	e.p = &p
}

var eye4 = mat.NewDiagDense(4, []float64{1, 1, 1, 1})

func (e *Estimator) finite() bool {
	for i := 0; i < 4; i++ {
		if v := e.x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v := e.p.At(i, i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Velocity returns the current (vx, vy) estimate in px/s.
func (e *Estimator) Velocity() gaze.Vector {
	return gaze.Vector{X: e.x.AtVec(1), Y: e.x.AtVec(3)}
}

// Position returns the current filtered gaze position.
func (e *Estimator) Position() gaze.ScreenPoint {
	return gaze.ScreenPoint{X: e.x.AtVec(0), Y: e.x.AtVec(2)}
}
