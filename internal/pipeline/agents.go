package pipeline

import (
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/selection"
)

// AgentProvider returns a consistent snapshot of both agents.
type AgentProvider interface {
	Agents() (a1, a2 selection.AgentSnapshot)
}

// AgentBoard holds the two agent positions. Positions are updated by the
// agent controller (HTTP or keyboard) and read once per worker cycle.
type AgentBoard struct {
	mu     sync.RWMutex
	agents [2]selection.AgentSnapshot
	screen gaze.ScreenSize
}

// NewAgentBoard places agent 1 at a quarter and agent 2 at three quarters
// of the screen width, both at mid height.
func NewAgentBoard(screen gaze.ScreenSize) *AgentBoard {
	w, h := float64(screen.Width), float64(screen.Height)
	return &AgentBoard{
		screen: screen,
		agents: [2]selection.AgentSnapshot{
			{ID: selection.Agent1, Position: gaze.ScreenPoint{X: w / 4, Y: h / 2}},
			{ID: selection.Agent2, Position: gaze.ScreenPoint{X: 3 * w / 4, Y: h / 2}},
		},
	}
}

// Agents implements AgentProvider.
func (b *AgentBoard) Agents() (selection.AgentSnapshot, selection.AgentSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.agents[0], b.agents[1]
}

// Set moves agent id to p, clamped to the screen.
func (b *AgentBoard) Set(id selection.AgentID, p gaze.ScreenPoint) error {
	if id != selection.Agent1 && id != selection.Agent2 {
		return fmt.Errorf("unknown agent %d", id)
	}
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
		return fmt.Errorf("agent %d position must be finite", id)
	}
	p.X = math.Max(0, math.Min(p.X, float64(b.screen.Width-1)))
	p.Y = math.Max(0, math.Min(p.Y, float64(b.screen.Height-1)))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.agents[id-1].Position = p
	return nil
}
