package landmarkfeed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// errPortClosed is returned by TestablePort reads after Close.
var errPortClosed = errors.New("port closed")

// TestablePort implements io.ReadCloser with configurable behaviour for
// testing. Reads block until data is added or the port is closed.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// EOF makes Read return io.EOF once the buffer is drained
	EOF bool

	readCond *sync.Cond
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	tp := &TestablePort{ReadBuffer: bytes.NewBuffer(nil)}
	tp.readCond = sync.NewCond(&tp.mu)
	return tp
}

// Read reads from the read buffer, blocking while it is empty.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	for {
		if t.Closed {
			return 0, errPortClosed
		}
		if t.ReadError != nil {
			err := t.ReadError
			t.ReadError = nil
			return 0, err
		}
		if t.ReadBuffer.Len() > 0 {
			return t.ReadBuffer.Read(p)
		}
		if t.EOF {
			return 0, io.EOF
		}
		t.readCond.Wait()
	}
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// AddFrame queues the wire encoding of f.
func (t *TestablePort) AddFrame(f Frame) {
	t.AddReadData(EncodeFrame(f))
}

// SetEOF makes reads return io.EOF once the buffer is drained.
func (t *TestablePort) SetEOF() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.EOF = true
	t.readCond.Broadcast()
}

// SetReadError makes the next Read fail with err.
func (t *TestablePort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// EyesAt returns landmarks whose mapped gaze point is exactly p.
func EyesAt(p gaze.RawPoint) *gaze.EyeLandmarks {
	return &gaze.EyeLandmarks{
		{X: p.X - 40, Y: p.Y + 2},
		{X: p.X - 20, Y: p.Y - 2},
		{X: p.X + 20, Y: p.Y + 1},
		{X: p.X + 40, Y: p.Y - 1},
	}
}

// NewSyntheticFeed returns a Feed driven by a generator that sweeps the gaze
// across the frame in a slow figure of eight, dropping the face on every
// dropEvery-th frame (never when dropEvery is zero). It is used for demos
// and soak tests without a camera.
func NewSyntheticFeed(ctx context.Context, size gaze.FrameSize, interval time.Duration, dropEvery int, clock timeutil.Clock) *Feed {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r, w := io.Pipe()
	go func() {
		defer w.Close()
		cx, cy := float64(size.Width)/2, float64(size.Height)/2
		ax, ay := float64(size.Width)/4, float64(size.Height)/4
		for i := 0; ; i++ {
			if ctx.Err() != nil {
				return
			}
			f := Frame{Size: size}
			if dropEvery <= 0 || (i+1)%dropEvery != 0 {
				phase := float64(i) * interval.Seconds() * 0.5
				f.Eyes = EyesAt(gaze.RawPoint{
					X: cx + ax*math.Sin(phase),
					Y: cy + ay*math.Sin(2*phase),
				})
			}
			if _, err := w.Write(EncodeFrame(f)); err != nil {
				return
			}
			clock.Sleep(interval)
		}
	}()
	return NewFeed(r, clock)
}
