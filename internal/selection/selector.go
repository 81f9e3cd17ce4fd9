package selection

import (
	"sync/atomic"

	"github.com/banshee-data/gazeselect/internal/config"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/kalman"
	"github.com/banshee-data/gazeselect/internal/monitoring"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// Config holds selector parameters.
type Config struct {
	Mode           Mode
	VelocityCutoff float64
	AngleThreshold float64
	Kalman         kalman.Config
}

// DefaultConfig returns the built-in selector parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig. The tuning
// config is validated on load, so an unknown mode cannot reach here.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	mode, _ := ParseMode(cfg.GetSelectionMode())
	return Config{
		Mode:           mode,
		VelocityCutoff: cfg.GetVelocityCutoff(),
		AngleThreshold: cfg.GetAngleThreshold(),
		Kalman:         kalman.ConfigFromTuning(cfg),
	}
}

// Sample is one screen gaze reading. Held samples repeat the last known gaze
// because the current frame had no face; they are not fed to the filter.
type Sample struct {
	Gaze gaze.ScreenPoint
	Held bool
}

// Decision is the outcome of one selection step.
type Decision struct {
	Agent    AgentID          `json:"agent"`
	Mode     Mode             `json:"mode"`
	Gaze     gaze.ScreenPoint `json:"gaze"`
	Velocity gaze.Vector      `json:"velocity"`
	Held     bool             `json:"held"`
	// Turn holds the signed angle from the gaze velocity to each agent,
	// counter-clockwise positive. Zero when either vector is zero.
	Turn [2]float64 `json:"turn"`
}

// Selector owns the velocity estimator and the active strategy. Observe
// must be called from a single goroutine; SetMode and Mode are safe from any.
type Selector struct {
	mode       atomic.Int32
	estimator  *kalman.Estimator
	strategies map[Mode]Strategy
}

// NewSelector returns a Selector with a fresh estimator.
func NewSelector(cfg Config, clock timeutil.Clock) *Selector {
	s := &Selector{
		estimator: kalman.NewEstimator(cfg.Kalman, clock),
		strategies: map[Mode]Strategy{
			ModePosition: PositionStrategy{},
			ModeVelocity: VelocityStrategy{Cutoff: cfg.VelocityCutoff, AngleThreshold: cfg.AngleThreshold},
		},
	}
	s.mode.Store(int32(cfg.Mode))
	return s
}

// SetMode switches the active strategy. It takes effect on the next Observe.
func (s *Selector) SetMode(m Mode) {
	if _, ok := s.strategies[m]; !ok {
		return
	}
	if old := Mode(s.mode.Swap(int32(m))); old != m {
		monitoring.Logf("selection: mode %s -> %s", old, m)
	}
}

// Mode returns the active mode.
func (s *Selector) Mode() Mode {
	return Mode(s.mode.Load())
}

// Velocity returns the current gaze velocity estimate.
func (s *Selector) Velocity() gaze.Vector {
	return s.estimator.Velocity()
}

// Observe feeds a fresh sample to the estimator and selects an agent.
func (s *Selector) Observe(sample Sample, a1, a2 AgentSnapshot) Decision {
	var v gaze.Vector
	if sample.Held {
		v = s.estimator.Velocity()
	} else {
		v = s.estimator.Observe(sample.Gaze)
	}

	mode := s.Mode()
	d := Decision{
		Agent:    s.strategies[mode].Select(sample.Gaze, v, a1, a2),
		Mode:     mode,
		Gaze:     sample.Gaze,
		Velocity: v,
		Held:     sample.Held,
	}
	if v.Norm() > 0 {
		for i, a := range [2]AgentSnapshot{a1, a2} {
			if u := a.Position.Sub(sample.Gaze); u.Norm() > 0 {
				d.Turn[i] = TurnAngle(v, u)
			}
		}
	}
	monitoring.Tracef("selection: gaze=(%.1f, %.1f) v=(%.1f, %.1f) mode=%s held=%t -> agent %d",
		d.Gaze.X, d.Gaze.Y, v.X, v.Y, mode, d.Held, d.Agent)
	return d
}
