package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/gazeselect/internal/calibration"
	"github.com/banshee-data/gazeselect/internal/db"
	"github.com/banshee-data/gazeselect/internal/fsutil"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/landmarkfeed"
	"github.com/banshee-data/gazeselect/internal/monitoring"
	"github.com/banshee-data/gazeselect/internal/selection"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

var (
	// ErrNotCalibrated is returned by Run when no calibration has been loaded.
	ErrNotCalibrated = errors.New("session has no calibration")
	// ErrRecalibrationPending is returned when a recalibration is already
	// queued or in progress.
	ErrRecalibrationPending = errors.New("recalibration already in progress")
	// ErrReuseUndecided is returned by LoadOrCalibrate when a stored
	// calibration exists but nobody was asked whether to reuse it.
	ErrReuseUndecided = errors.New("stored calibration found but no reuse decision was given")
)

// Store persists calibration records. *db.DB implements it.
type Store interface {
	LoadCalibration(ctx context.Context, key calibration.ResolutionKey) (*calibration.Record, error)
	SaveCalibration(ctx context.Context, rec *calibration.Record) error
}

// SessionConfig wires a Session. Store, FS and OnSelect are optional.
type SessionConfig struct {
	Key        calibration.ResolutionKey
	Targets    []gaze.ScreenPoint
	FitOptions calibration.FitOptions
	Selection  selection.Config
	Clock      timeutil.Clock

	Feed    landmarkfeed.Source
	Capture calibration.CaptureFunc
	Agents  AgentProvider

	Store     Store
	FS        fsutil.FileSystem
	ExportDir string

	OnSelect func(selection.Decision)
}

// Session owns the calibration for one resolution key and runs the worker
// against it. Calibration always completes before a worker starts.
type Session struct {
	cfg SessionConfig

	mode          atomic.Int32
	recalibrating atomic.Bool
	requests      chan struct{}

	mu      sync.Mutex
	rec     *calibration.Record
	worker  *Worker
	lastErr error
}

// NewSession validates cfg and returns an uncalibrated session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.Key.Validate(); err != nil {
		return nil, err
	}
	if cfg.Feed == nil || cfg.Capture == nil || cfg.Agents == nil {
		return nil, fmt.Errorf("session requires a feed, a capture function and agents")
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = calibration.DefaultTargets(cfg.Key.Screen(), 0.01)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	s := &Session{
		cfg:      cfg,
		requests: make(chan struct{}, 1),
	}
	s.mode.Store(int32(cfg.Selection.Mode))
	return s, nil
}

// LoadOrCalibrate uses the stored calibration for the live key when there is
// one and confirm declines recalibration. Otherwise it runs a calibration.
// A stored record is never reused without a decision: a nil confirm yields
// ErrReuseUndecided when one exists.
func (s *Session) LoadOrCalibrate(ctx context.Context, confirm func(*calibration.Record) (bool, error)) (*calibration.Record, error) {
	if rec := s.loadStored(ctx); rec != nil {
		if confirm == nil {
			return nil, fmt.Errorf("%w: calibration %s for %s", ErrReuseUndecided, rec.SessionID, rec.Key)
		}
		recalibrate, err := confirm(rec)
		if err != nil {
			return nil, err
		}
		if !recalibrate {
			monitoring.Logf("session: using calibration %s from %s", rec.SessionID, rec.CreatedAt.Format("2006-01-02 15:04:05"))
			s.setRecord(rec)
			return rec, nil
		}
	}
	return s.Calibrate(ctx)
}

func (s *Session) loadStored(ctx context.Context) *calibration.Record {
	if s.cfg.Store == nil {
		return nil
	}
	rec, err := s.cfg.Store.LoadCalibration(ctx, s.cfg.Key)
	switch {
	case errors.Is(err, db.ErrCalibrationNotFound):
		monitoring.Logf("session: no stored calibration for %s", s.cfg.Key)
		return nil
	case err != nil:
		monitoring.Logf("session: failed to load calibration for %s: %v", s.cfg.Key, err)
		return nil
	}
	if err := rec.CheckKey(s.cfg.Key); err != nil {
		monitoring.Logf("session: ignoring stored calibration: %v", err)
		return nil
	}
	return rec
}

// Calibrate runs a calibration now and makes it current. The record is
// persisted to the store and exported when those are configured; a failed
// save is logged and does not discard the calibration.
func (s *Session) Calibrate(ctx context.Context) (*calibration.Record, error) {
	set, err := calibration.Calibrate(ctx, s.cfg.Targets, s.cfg.Capture, s.cfg.FitOptions)
	if err != nil {
		return nil, err
	}
	rec := calibration.NewRecord(s.cfg.Key, set, s.cfg.Clock.Now())
	s.persist(ctx, rec)
	s.setRecord(rec)
	return rec, nil
}

// ImportRecord loads a calibration for the live key and makes it current.
// path is a JSON file or an export directory. The imported record is stored
// as a new session with its own id.
func (s *Session) ImportRecord(ctx context.Context, path string) (*calibration.Record, error) {
	fsys := s.cfg.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	path, err := calibration.ResolveImport(fsys, path, s.cfg.Key)
	if err != nil {
		return nil, err
	}
	rec, err := calibration.ImportJSON(fsys, path, s.cfg.Key)
	if err != nil {
		return nil, err
	}
	rec.Renew()
	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveCalibration(ctx, rec); err != nil {
			monitoring.Logf("session: failed to store imported calibration: %v", err)
		}
	}
	s.setRecord(rec)
	monitoring.Logf("session: imported calibration %s from %s", rec.SessionID, path)
	return rec, nil
}

func (s *Session) persist(ctx context.Context, rec *calibration.Record) {
	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveCalibration(ctx, rec); err != nil {
			monitoring.Logf("session: failed to store calibration %s: %v", rec.SessionID, err)
		}
	}
	if s.cfg.FS != nil && s.cfg.ExportDir != "" {
		path, err := calibration.ExportJSON(s.cfg.FS, s.cfg.ExportDir, rec)
		if err != nil {
			monitoring.Logf("session: failed to export calibration: %v", err)
			return
		}
		monitoring.Logf("session: exported calibration to %s", path)
	}
}

func (s *Session) setRecord(rec *calibration.Record) {
	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
}

// Record returns the current calibration, or nil.
func (s *Session) Record() *calibration.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// Run starts the worker and keeps it running until ctx is cancelled or the
// feed fails. A recalibration request stops the worker, recalibrates and
// starts a new worker with a fresh filter. When recalibration fails the
// previous calibration stays in use.
func (s *Session) Run(ctx context.Context) error {
	for {
		rec := s.Record()
		if rec == nil {
			return ErrNotCalibrated
		}

		w := s.startWorker(rec)
		errc := make(chan error, 1)
		go func() { errc <- w.Run(ctx) }()

		select {
		case <-ctx.Done():
			w.Stop()
			<-errc
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.New("worker stopped unexpectedly")
		case <-s.requests:
			w.Stop()
			<-errc
			s.recalibrate(ctx)
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// startWorker reads the mode and publishes the worker under s.mu so that a
// concurrent SetMode is never applied only to a worker that is being replaced.
func (s *Session) startWorker(rec *calibration.Record) *Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	selCfg := s.cfg.Selection
	selCfg.Mode = s.Mode()
	w := NewWorker(
		NewGazeSource(s.cfg.Feed, rec),
		selection.NewSelector(selCfg, s.cfg.Clock),
		s.cfg.Agents,
		s.cfg.OnSelect,
	)
	s.worker = w
	return w
}

func (s *Session) recalibrate(ctx context.Context) {
	defer s.recalibrating.Store(false)
	monitoring.Logf("session: recalibrating")
	_, err := s.Calibrate(ctx)
	if err != nil {
		monitoring.Logf("session: recalibration failed, keeping previous calibration: %v", err)
	}
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// RequestRecalibration queues a recalibration for Run to perform. It returns
// ErrRecalibrationPending if one is already queued or running.
func (s *Session) RequestRecalibration() error {
	if !s.recalibrating.CompareAndSwap(false, true) {
		return ErrRecalibrationPending
	}
	s.requests <- struct{}{}
	return nil
}

// Recalibrating reports whether a recalibration is queued or running.
func (s *Session) Recalibrating() bool {
	return s.recalibrating.Load()
}

// SetMode switches the selection mode of the running worker and of any
// worker started later.
func (s *Session) SetMode(m selection.Mode) error {
	if m != selection.ModePosition && m != selection.ModeVelocity {
		return fmt.Errorf("unknown selection mode %d", m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.Store(int32(m))
	if s.worker != nil {
		s.worker.Selector().SetMode(m)
	}
	return nil
}

// Mode returns the session's selection mode.
func (s *Session) Mode() selection.Mode {
	return selection.Mode(s.mode.Load())
}

// Selected returns the last decision of the current worker.
func (s *Session) Selected() (selection.Decision, bool) {
	s.mu.Lock()
	w := s.worker
	s.mu.Unlock()
	if w == nil {
		return selection.Decision{}, false
	}
	return w.Selected()
}

// State is a point-in-time view of the session for the API.
type State struct {
	Mode          selection.Mode             `json:"mode"`
	Running       bool                       `json:"running"`
	Recalibrating bool                       `json:"recalibrating"`
	Key           *calibration.ResolutionKey `json:"key,omitempty"`
	SessionID     string                     `json:"session_id,omitempty"`
	Selected      *selection.Decision        `json:"selected,omitempty"`
	LastError     string                     `json:"last_error,omitempty"`
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	st := State{
		Mode:          s.Mode(),
		Recalibrating: s.Recalibrating(),
	}
	s.mu.Lock()
	if s.rec != nil {
		key := s.rec.Key
		st.Key = &key
		st.SessionID = s.rec.SessionID
	}
	if s.worker != nil {
		st.Running = s.worker.Running()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	w := s.worker
	s.mu.Unlock()

	if w != nil {
		if d, ok := w.Selected(); ok {
			st.Selected = &d
		}
	}
	return st
}
