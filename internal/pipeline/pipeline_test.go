package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gazeselect/internal/calibration"
	"github.com/banshee-data/gazeselect/internal/db"
	"github.com/banshee-data/gazeselect/internal/fsutil"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/landmarkfeed"
	"github.com/banshee-data/gazeselect/internal/selection"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

var (
	testScreen = gaze.ScreenSize{Width: 1920, Height: 1080}
	testCamera = gaze.FrameSize{Width: 640, Height: 480}
	testKey    = calibration.NewResolutionKey(testScreen, testCamera)
	// testTransform maps camera pixels onto the screen.
	testTransform = calibration.Affine{3, 0, 0, 0, 2.25, 0}
)

// chanFeed serves frames pushed onto a channel. It implements both
// landmarkfeed.Source and FrameWaiter.
type chanFeed struct {
	frames chan landmarkfeed.Frame
}

func newChanFeed() *chanFeed {
	return &chanFeed{frames: make(chan landmarkfeed.Frame, 64)}
}

func (c *chanFeed) Next(ctx context.Context) (landmarkfeed.Frame, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return landmarkfeed.Frame{}, landmarkfeed.ErrFeedClosed
		}
		return f, nil
	case <-ctx.Done():
		return landmarkfeed.Frame{}, ctx.Err()
	}
}

func (c *chanFeed) Wait(ctx context.Context) (landmarkfeed.Frame, error) {
	return c.Next(ctx)
}

func (c *chanFeed) face(x, y float64) {
	c.frames <- landmarkfeed.Frame{Size: testCamera, Eyes: landmarkfeed.EyesAt(gaze.RawPoint{X: x, Y: y})}
}

func (c *chanFeed) noFace() {
	c.frames <- landmarkfeed.Frame{Size: testCamera}
}

// rawFor is the camera point that testTransform maps onto s.
func rawFor(s gaze.ScreenPoint) gaze.RawPoint {
	return gaze.RawPoint{X: s.X / 3, Y: s.Y / 2.25}
}

func testRecord() *calibration.Record {
	targets := calibration.DefaultTargets(testScreen, 0.01)
	set := &calibration.Set{Targets: targets, Transform: testTransform}
	for i, s := range targets {
		set.Points = append(set.Points, calibration.Correspondence{Index: i, Screen: s, Raw: rawFor(s)})
	}
	return calibration.NewRecord(testKey, set, time.Unix(1700000000, 0))
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	records map[calibration.ResolutionKey]*calibration.Record
	saves   int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[calibration.ResolutionKey]*calibration.Record)}
}

func (m *memStore) LoadCalibration(_ context.Context, key calibration.ResolutionKey) (*calibration.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%w for %s", db.ErrCalibrationNotFound, key)
	}
	return rec, nil
}

func (m *memStore) SaveCalibration(_ context.Context, rec *calibration.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[rec.Key] = rec
	return nil
}

// exactCapture returns the noiseless raw point for every target and counts calls.
func exactCapture(calls *atomic.Int32) calibration.CaptureFunc {
	return func(ctx context.Context, _ int, target gaze.ScreenPoint) (gaze.RawPoint, error) {
		calls.Add(1)
		return rawFor(target), ctx.Err()
	}
}

func TestGazeSource_HoldsLastGaze(t *testing.T) {
	t.Parallel()
	feed := newChanFeed()
	src := NewGazeSource(feed, testRecord())
	ctx := context.Background()

	feed.noFace()
	s, ok, err := src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "no gaze seen yet")
	assert.True(t, s.Held)

	feed.face(100, 200)
	s, ok, err = src.Next(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, s.Held)
	assert.InDelta(t, 300, s.Gaze.X, 1e-9)
	assert.InDelta(t, 450, s.Gaze.Y, 1e-9)

	feed.noFace()
	s, ok, err = src.Next(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.Held)
	assert.Equal(t, gaze.ScreenPoint{X: 300, Y: 450}, s.Gaze)
}

func TestGazeSource_ClampsToScreen(t *testing.T) {
	t.Parallel()
	feed := newChanFeed()
	src := NewGazeSource(feed, testRecord())

	feed.face(5000, -100)
	s, ok, err := src.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, gaze.ScreenPoint{X: 1919, Y: 0}, s.Gaze)
}

func TestGazeSource_FeedClosed(t *testing.T) {
	t.Parallel()
	feed := newChanFeed()
	close(feed.frames)
	_, _, err := NewGazeSource(feed, testRecord()).Next(context.Background())
	assert.ErrorIs(t, err, landmarkfeed.ErrFeedClosed)
}

func TestAgentBoard(t *testing.T) {
	t.Parallel()
	b := NewAgentBoard(testScreen)
	a1, a2 := b.Agents()
	assert.Equal(t, gaze.ScreenPoint{X: 480, Y: 540}, a1.Position)
	assert.Equal(t, gaze.ScreenPoint{X: 1440, Y: 540}, a2.Position)
	assert.Equal(t, selection.Agent1, a1.ID)
	assert.Equal(t, selection.Agent2, a2.ID)

	require.NoError(t, b.Set(selection.Agent2, gaze.ScreenPoint{X: 3000, Y: -5}))
	_, a2 = b.Agents()
	assert.Equal(t, gaze.ScreenPoint{X: 1919, Y: 0}, a2.Position)

	assert.Error(t, b.Set(selection.AgentID(3), gaze.ScreenPoint{}))
	assert.Error(t, b.Set(selection.Agent1, gaze.ScreenPoint{X: math.NaN()}))
	assert.Error(t, b.Set(selection.Agent1, gaze.ScreenPoint{Y: math.Inf(1)}))
}

// scriptedSource replays samples, then blocks until cancelled. hook runs
// before each sample is returned.
type scriptedSource struct {
	samples []selection.Sample
	hook    func(i int)
	i       int
}

func (s *scriptedSource) Next(ctx context.Context) (selection.Sample, bool, error) {
	if s.i < len(s.samples) {
		i := s.i
		s.i++
		if s.hook != nil {
			s.hook(i)
		}
		return s.samples[i], true, nil
	}
	<-ctx.Done()
	return selection.Sample{}, false, ctx.Err()
}

func newTestSelector(mode selection.Mode) *selection.Selector {
	cfg := selection.DefaultConfig()
	cfg.Mode = mode
	return selection.NewSelector(cfg, timeutil.NewMockClock(time.Unix(0, 0)))
}

func TestWorker_PublishesDecisions(t *testing.T) {
	t.Parallel()
	src := &scriptedSource{samples: []selection.Sample{
		{Gaze: gaze.ScreenPoint{X: 500, Y: 540}},
		{Gaze: gaze.ScreenPoint{X: 1400, Y: 540}},
	}}
	var mu sync.Mutex
	var got []selection.AgentID
	w := NewWorker(src, newTestSelector(selection.ModePosition), NewAgentBoard(testScreen), func(d selection.Decision) {
		mu.Lock()
		got = append(got, d.Agent)
		mu.Unlock()
	})

	_, ok := w.Selected()
	assert.False(t, ok)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, w.Running())

	d, ok := w.Selected()
	require.True(t, ok)
	assert.Equal(t, selection.Agent2, d.Agent)
	mu.Lock()
	assert.Equal(t, []selection.AgentID{selection.Agent1, selection.Agent2}, got)
	mu.Unlock()

	w.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.False(t, w.Running())
}

func TestWorker_NoPublishAfterStop(t *testing.T) {
	t.Parallel()
	var w *Worker
	src := &scriptedSource{
		samples: []selection.Sample{
			{Gaze: gaze.ScreenPoint{X: 500, Y: 540}},
			{Gaze: gaze.ScreenPoint{X: 1400, Y: 540}},
		},
	}
	// Stop lands between reading the second sample and publishing it.
	src.hook = func(i int) {
		if i == 1 {
			w.Stop()
		}
	}
	w = NewWorker(src, newTestSelector(selection.ModePosition), NewAgentBoard(testScreen), nil)

	require.NoError(t, w.Run(context.Background()))
	d, ok := w.Selected()
	require.True(t, ok)
	assert.Equal(t, selection.Agent1, d.Agent)
}

func TestWorker_StopBeforeRun(t *testing.T) {
	t.Parallel()
	w := NewWorker(&scriptedSource{}, newTestSelector(selection.ModePosition), NewAgentBoard(testScreen), nil)
	w.Stop()
	assert.NoError(t, w.Run(context.Background()))
}

type failingSource struct{ err error }

func (f failingSource) Next(context.Context) (selection.Sample, bool, error) {
	return selection.Sample{}, false, f.err
}

func TestWorker_SourceError(t *testing.T) {
	t.Parallel()
	w := NewWorker(failingSource{err: landmarkfeed.ErrFeedClosed}, newTestSelector(selection.ModePosition), NewAgentBoard(testScreen), nil)
	err := w.Run(context.Background())
	assert.ErrorIs(t, err, landmarkfeed.ErrFeedClosed)
}

func TestWorker_ContextCancel(t *testing.T) {
	t.Parallel()
	w := NewWorker(&scriptedSource{}, newTestSelector(selection.ModePosition), NewAgentBoard(testScreen), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestPromptCapture(t *testing.T) {
	t.Parallel()
	feed := newChanFeed()
	var out bytes.Buffer
	capture := PromptCapture(strings.NewReader("\n"), &out, feed, testCamera)

	feed.face(120, 80)
	raw, err := capture(context.Background(), 0, gaze.ScreenPoint{X: 19, Y: 19})
	require.NoError(t, err)
	assert.Equal(t, gaze.RawPoint{X: 120, Y: 80}, raw)
	assert.Contains(t, out.String(), "target 1 at (19, 19)")

	// Input exhausted.
	_, err = capture(context.Background(), 1, gaze.ScreenPoint{X: 1900, Y: 19})
	assert.Error(t, err)
}

func TestPromptCapture_NoFace(t *testing.T) {
	t.Parallel()
	feed := newChanFeed()
	capture := PromptCapture(strings.NewReader("\n"), &bytes.Buffer{}, feed, testCamera)
	feed.noFace()
	_, err := capture(context.Background(), 0, gaze.ScreenPoint{})
	assert.ErrorIs(t, err, gaze.ErrLandmarkUnavailable)
}

// blockingReader never returns.
type blockingReader struct{ ch chan struct{} }

func (b blockingReader) Read([]byte) (int, error) {
	<-b.ch
	return 0, errors.New("closed")
}

func TestPromptCapture_Cancelled(t *testing.T) {
	t.Parallel()
	in := blockingReader{ch: make(chan struct{})}
	defer close(in.ch)
	capture := PromptCapture(in, &bytes.Buffer{}, newChanFeed(), testCamera)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := capture(ctx, 0, gaze.ScreenPoint{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimedCapture(t *testing.T) {
	t.Parallel()
	feed := newChanFeed()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	capture := TimedCapture(nil, feed, testCamera, 1500*time.Millisecond, clock)

	feed.face(320, 240)
	raw, err := capture(context.Background(), 4, gaze.ScreenPoint{X: 960, Y: 540})
	require.NoError(t, err)
	assert.Equal(t, gaze.RawPoint{X: 320, Y: 240}, raw)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, clock.Sleeps())
}

func newTestSession(t *testing.T, store Store, capture calibration.CaptureFunc) (*Session, *chanFeed, *fsutil.MemoryFileSystem) {
	t.Helper()
	feed := newChanFeed()
	fsys := fsutil.NewMemoryFileSystem()
	cfg := SessionConfig{
		Key:        testKey,
		FitOptions: calibration.DefaultFitOptions(),
		Selection:  selection.DefaultConfig(),
		Clock:      timeutil.NewMockClock(time.Unix(1700000000, 0)),
		Feed:       feed,
		Capture:    capture,
		Agents:     NewAgentBoard(testScreen),
		FS:         fsys,
		ExportDir:  "calibrations",
	}
	if store != nil {
		cfg.Store = store
	}
	s, err := NewSession(cfg)
	require.NoError(t, err)
	return s, feed, fsys
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewSession(SessionConfig{})
	assert.ErrorIs(t, err, calibration.ErrInvalidResolutionKey)

	_, err = NewSession(SessionConfig{Key: testKey})
	assert.Error(t, err)
}

func TestSession_CalibratesWithoutStore(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s, _, fsys := newTestSession(t, nil, exactCapture(&calls))

	rec, err := s.LoadOrCalibrate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, testKey, rec.Key)
	for i, c := range rec.Transform {
		assert.InDelta(t, testTransform[i], c, 1e-9)
	}
	assert.Same(t, rec, s.Record())
	assert.Equal(t, []string{"calibrations/" + testKey.FileName()}, fsys.Files("calibrations"))
}

func TestSession_UsesStoredRecord(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	stored := testRecord()
	store.records[testKey] = stored

	var calls atomic.Int32
	s, _, _ := newTestSession(t, store, exactCapture(&calls))

	var asked *calibration.Record
	rec, err := s.LoadOrCalibrate(context.Background(), func(r *calibration.Record) (bool, error) {
		asked = r
		return false, nil
	})
	require.NoError(t, err)
	assert.Same(t, stored, asked)
	assert.Same(t, stored, rec)
	assert.Zero(t, calls.Load())
	assert.Zero(t, store.saves)
}

func TestSession_RecalibratesOnConfirm(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	stored := testRecord()
	store.records[testKey] = stored

	var calls atomic.Int32
	s, _, _ := newTestSession(t, store, exactCapture(&calls))

	rec, err := s.LoadOrCalibrate(context.Background(), func(*calibration.Record) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.NotEqual(t, stored.SessionID, rec.SessionID)
	assert.Equal(t, int32(5), calls.Load())
	assert.Same(t, rec, store.records[testKey])
}

func TestSession_ConfirmError(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.records[testKey] = testRecord()
	var calls atomic.Int32
	s, _, _ := newTestSession(t, store, exactCapture(&calls))

	boom := errors.New("stdin closed")
	_, err := s.LoadOrCalibrate(context.Background(), func(*calibration.Record) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, s.Record())
}

func TestSession_StoredRecordNeedsDecision(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.records[testKey] = testRecord()
	var calls atomic.Int32
	s, _, _ := newTestSession(t, store, exactCapture(&calls))

	_, err := s.LoadOrCalibrate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrReuseUndecided)
	assert.Nil(t, s.Record(), "stored record must not be reused silently")
	assert.Zero(t, calls.Load())
}

func TestSession_IgnoresMismatchedStoredKey(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	other := testRecord()
	other.Key.CameraWidth = 1280
	store.records[testKey] = other

	var calls atomic.Int32
	s, _, _ := newTestSession(t, store, exactCapture(&calls))
	rec, err := s.LoadOrCalibrate(context.Background(), func(*calibration.Record) (bool, error) {
		t.Fatal("confirm must not be asked for a mismatched record")
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, testKey, rec.Key)
	assert.Equal(t, int32(5), calls.Load())
}

func TestSession_StoreFailureKeepsCalibration(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	var calls atomic.Int32
	s, _, _ := newTestSession(t, store, exactCapture(&calls))

	rec, err := s.Calibrate(context.Background())
	require.NoError(t, err)
	assert.Same(t, rec, s.Record())
	assert.Equal(t, 1, store.saves)
}

func TestSession_CalibrationFailure(t *testing.T) {
	t.Parallel()
	capture := func(context.Context, int, gaze.ScreenPoint) (gaze.RawPoint, error) {
		return gaze.RawPoint{}, gaze.ErrLandmarkUnavailable
	}
	s, _, _ := newTestSession(t, nil, capture)

	_, err := s.LoadOrCalibrate(context.Background(), nil)
	var calErr *calibration.Error
	require.ErrorAs(t, err, &calErr)
	assert.Equal(t, calibration.StageFit, calErr.Stage)
	assert.Nil(t, s.Record())
	assert.ErrorIs(t, s.Run(context.Background()), ErrNotCalibrated)
}

func TestSession_ImportRecord(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	var calls atomic.Int32
	s, _, fsys := newTestSession(t, store, exactCapture(&calls))

	path, err := calibration.ExportJSON(fsys, "in", testRecord())
	require.NoError(t, err)

	rec, err := s.ImportRecord(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, testTransform, rec.Transform)
	assert.Same(t, rec, s.Record())
	assert.Same(t, rec, store.records[testKey])

	_, err = s.ImportRecord(context.Background(), "in/missing.json")
	assert.Error(t, err)
}

func TestSession_ReimportStoresNewSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	var calls atomic.Int32
	s, _, fsys := newTestSession(t, database, exactCapture(&calls))
	original := testRecord()
	require.NoError(t, database.SaveCalibration(ctx, original))
	_, err = calibration.ExportJSON(fsys, "calibrations", original)
	require.NoError(t, err)

	first, err := s.ImportRecord(ctx, "calibrations")
	require.NoError(t, err)
	second, err := s.ImportRecord(ctx, filepath.Join("calibrations", testKey.FileName()))
	require.NoError(t, err)

	assert.NotEqual(t, original.SessionID, first.SessionID)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, original.Targets, second.Targets)

	list, err := database.ListCalibrations(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3, "each import is stored as its own session")
	active, err := database.LoadCalibration(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, active.SessionID)
	assert.Zero(t, calls.Load())
}

func TestSession_SetMode(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s, _, _ := newTestSession(t, nil, exactCapture(&calls))

	assert.Equal(t, selection.ModePosition, s.Mode())
	require.NoError(t, s.SetMode(selection.ModeVelocity))
	assert.Equal(t, selection.ModeVelocity, s.Mode())
	assert.Error(t, s.SetMode(selection.Mode(9)))
	assert.Equal(t, selection.ModeVelocity, s.Mode())
}

func TestSession_SetModeDuringWorkerSwap(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s, _, _ := newTestSession(t, nil, exactCapture(&calls))
	rec := testRecord()

	require.NoError(t, s.SetMode(selection.ModeVelocity))
	w := s.startWorker(rec)
	assert.Equal(t, selection.ModeVelocity, w.Selector().Mode(), "mode set between workers")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			m := selection.ModePosition
			if i%2 == 0 {
				m = selection.ModeVelocity
			}
			_ = s.SetMode(m)
		}
	}()
	for i := 0; i < 500; i++ {
		s.startWorker(rec)
	}
	<-done

	s.mu.Lock()
	current := s.worker
	s.mu.Unlock()
	assert.Equal(t, s.Mode(), current.Selector().Mode())
}

// runSession starts Run and returns a stop function that waits for it.
func runSession(t *testing.T, s *Session) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("session did not stop")
			return nil
		}
	}
	t.Cleanup(func() { cancel() })
	return stop
}

func waitSelected(t *testing.T, s *Session, want func(selection.Decision) bool) selection.Decision {
	t.Helper()
	var d selection.Decision
	require.Eventually(t, func() bool {
		var ok bool
		d, ok = s.Selected()
		return ok && want(d)
	}, 2*time.Second, 5*time.Millisecond)
	return d
}

func TestSession_RunSelectsAndRecalibrates(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s, feed, _ := newTestSession(t, newMemStore(), exactCapture(&calls))
	first, err := s.LoadOrCalibrate(context.Background(), nil)
	require.NoError(t, err)
	stop := runSession(t, s)

	// Near agent 2 (1440, 540) on screen.
	feed.face(1400.0/3, 540/2.25)
	d := waitSelected(t, s, func(d selection.Decision) bool { return d.Agent == selection.Agent2 })
	assert.Equal(t, selection.ModePosition, d.Mode)
	assert.True(t, s.State().Running)

	require.NoError(t, s.SetMode(selection.ModeVelocity))
	require.NoError(t, s.RequestRecalibration())
	require.Eventually(t, func() bool { return !s.Recalibrating() && s.Record().SessionID != first.SessionID },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(10), calls.Load())

	// A fresh worker keeps the requested mode.
	feed.face(500.0/3, 540/2.25)
	d = waitSelected(t, s, func(d selection.Decision) bool { return d.Agent == selection.Agent1 })
	assert.Equal(t, selection.ModeVelocity, d.Mode)

	st := s.State()
	require.NotNil(t, st.Key)
	assert.Equal(t, testKey, *st.Key)
	assert.Equal(t, s.Record().SessionID, st.SessionID)
	assert.Empty(t, st.LastError)

	assert.NoError(t, stop())
}

func TestSession_FailedRecalibrationKeepsPrevious(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var fail atomic.Bool
	capture := func(ctx context.Context, i int, target gaze.ScreenPoint) (gaze.RawPoint, error) {
		calls.Add(1)
		if fail.Load() {
			return gaze.RawPoint{}, errors.New("camera unplugged")
		}
		return rawFor(target), nil
	}
	s, feed, _ := newTestSession(t, nil, capture)
	first, err := s.Calibrate(context.Background())
	require.NoError(t, err)
	stop := runSession(t, s)

	fail.Store(true)
	require.NoError(t, s.RequestRecalibration())
	require.Eventually(t, func() bool { return !s.Recalibrating() }, 2*time.Second, 5*time.Millisecond)
	assert.Same(t, first, s.Record())
	assert.Contains(t, s.State().LastError, "camera unplugged")

	feed.face(500.0/3, 540/2.25)
	waitSelected(t, s, func(d selection.Decision) bool { return d.Agent == selection.Agent1 })
	assert.NoError(t, stop())
}

func TestSession_RecalibrationPending(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s, _, _ := newTestSession(t, nil, exactCapture(&calls))

	// Without Run the first request stays queued.
	require.NoError(t, s.RequestRecalibration())
	assert.True(t, s.Recalibrating())
	assert.ErrorIs(t, s.RequestRecalibration(), ErrRecalibrationPending)
}

func TestSession_FeedClosedEndsRun(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s, feed, _ := newTestSession(t, nil, exactCapture(&calls))
	_, err := s.Calibrate(context.Background())
	require.NoError(t, err)

	close(feed.frames)
	err = s.Run(context.Background())
	assert.ErrorIs(t, err, landmarkfeed.ErrFeedClosed)
}
