package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/gazeselect/internal/monitoring"
	"github.com/banshee-data/gazeselect/internal/selection"
)

// SampleSource yields screen gaze samples; GazeSource is the production one.
type SampleSource interface {
	Next(ctx context.Context) (sample selection.Sample, ok bool, err error)
}

// Worker runs the per-frame loop: read a gaze sample, select an agent and
// publish the decision. The selector (and its filter) is touched only by the
// goroutine running Run.
type Worker struct {
	source   SampleSource
	selector *selection.Selector
	agents   AgentProvider
	onSelect func(selection.Decision)

	running  atomic.Bool
	selected atomic.Pointer[selection.Decision]

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewWorker builds a worker. onSelect may be nil; when set it is called on
// the worker goroutine after every published decision.
func NewWorker(source SampleSource, selector *selection.Selector, agents AgentProvider, onSelect func(selection.Decision)) *Worker {
	return &Worker{
		source:   source,
		selector: selector,
		agents:   agents,
		onSelect: onSelect,
	}
}

// Run loops until ctx is cancelled, Stop is called or the source fails.
// It returns nil on cancellation or Stop.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.cancel = cancel
	w.running.Store(true)
	w.mu.Unlock()
	defer w.running.Store(false)

	for w.running.Load() {
		sample, ok, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		if !ok {
			continue
		}

		a1, a2 := w.agents.Agents()
		d := w.selector.Observe(sample, a1, a2)

		// No decision is published once the worker has been told to stop.
		if !w.running.Load() || ctx.Err() != nil {
			return nil
		}
		if prev := w.selected.Swap(&d); prev == nil || prev.Agent != d.Agent {
			monitoring.Logf("selected agent %d (mode %s)", d.Agent, d.Mode)
		}
		if w.onSelect != nil {
			w.onSelect(d)
		}
	}
	return nil
}

// Stop clears the running flag and unblocks a pending read. Run returns
// shortly after. A stopped worker cannot be restarted.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.running.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
}

// Running reports whether Run is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Selected returns the last published decision.
func (w *Worker) Selected() (selection.Decision, bool) {
	d := w.selected.Load()
	if d == nil {
		return selection.Decision{}, false
	}
	return *d, true
}

// Selector returns the worker's selector.
func (w *Worker) Selector() *selection.Selector {
	return w.selector
}
