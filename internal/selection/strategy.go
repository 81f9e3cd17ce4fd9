// Package selection decides which of two agents the user is looking at.
package selection

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/gazeselect/internal/gaze"
)

// AgentID identifies one of the two selectable agents.
type AgentID int

const (
	Agent1 AgentID = 1
	Agent2 AgentID = 2
)

// AgentSnapshot is a read-only view of an agent's screen position.
type AgentSnapshot struct {
	ID       AgentID          `json:"id"`
	Position gaze.ScreenPoint `json:"position"`
}

// Mode selects the strategy used to pick an agent.
type Mode int32

const (
	ModePosition Mode = iota
	ModeVelocity
)

func (m Mode) String() string {
	switch m {
	case ModePosition:
		return "position"
	case ModeVelocity:
		return "velocity"
	default:
		return fmt.Sprintf("Mode(%d)", int32(m))
	}
}

// ParseMode converts "position" or "velocity" (any case) to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "position":
		return ModePosition, nil
	case "velocity":
		return ModeVelocity, nil
	}
	return ModePosition, fmt.Errorf("unknown selection mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Strategy picks an agent from the current gaze, gaze velocity and agent
// positions. Implementations must return a1.ID or a2.ID for any finite input.
type Strategy interface {
	Select(g gaze.ScreenPoint, v gaze.Vector, a1, a2 AgentSnapshot) AgentID
}

// PositionStrategy picks the agent nearest the gaze. Ties go to a1.
type PositionStrategy struct{}

// Select implements Strategy.
func (PositionStrategy) Select(g gaze.ScreenPoint, _ gaze.Vector, a1, a2 AgentSnapshot) AgentID {
	if g.Dist(a1.Position) <= g.Dist(a2.Position) {
		return a1.ID
	}
	return a2.ID
}

// VelocityStrategy picks the agent the gaze is moving towards. It falls back
// to PositionStrategy when the gaze is slow, when the gaze sits on an agent,
// or when neither agent is clearly better aligned with the motion.
type VelocityStrategy struct {
	Cutoff         float64 // px/s below which motion is ignored
	AngleThreshold float64 // radians by which one agent must be better aligned
}

// Select implements Strategy.
func (s VelocityStrategy) Select(g gaze.ScreenPoint, v gaze.Vector, a1, a2 AgentSnapshot) AgentID {
	var fallback PositionStrategy

	speed := v.Norm()
	if !(speed >= s.Cutoff) {
		return fallback.Select(g, v, a1, a2)
	}

	u1 := a1.Position.Sub(g)
	u2 := a2.Position.Sub(g)
	if u1.Norm() == 0 || u2.Norm() == 0 {
		return fallback.Select(g, v, a1, a2)
	}

	t1 := angleBetween(u1, v)
	t2 := angleBetween(u2, v)
	if math.Abs(t1-t2) > s.AngleThreshold {
		if t1 < t2 {
			return a1.ID
		}
		return a2.ID
	}
	return fallback.Select(g, v, a1, a2)
}

// angleBetween returns the unsigned angle in [0, π] between a and b.
// Both must have non-zero length.
func angleBetween(a, b gaze.Vector) float64 {
	c := (a.X*b.X + a.Y*b.Y) / (a.Norm() * b.Norm())
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// TurnAngle returns the signed angle from a to b in (−π, π].
// Positive is counter-clockwise (a left turn).
func TurnAngle(a, b gaze.Vector) float64 {
	return math.Atan2(a.X*b.Y-a.Y*b.X, a.X*b.X+a.Y*b.Y)
}
