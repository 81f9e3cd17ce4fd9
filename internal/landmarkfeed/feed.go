package landmarkfeed

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/gazeselect/internal/monitoring"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// ErrFeedClosed is returned by Next once the underlying source has ended.
var ErrFeedClosed = errors.New("landmark feed closed")

// Source yields landmark frames. Next blocks until a frame newer than the
// last one returned is available.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// Feed reads frames from a line-oriented source on its own goroutine and
// holds only the newest one. A slow consumer skips frames rather than
// backing up the port. Next and Wait are intended for a single consumer at
// a time; the calibration phase and the worker never overlap.
type Feed struct {
	src   io.ReadCloser
	clock timeutil.Clock

	mu      sync.Mutex
	latest  Frame
	seq     uint64
	read    uint64
	ready   chan struct{}
	done    chan struct{}
	doneErr error
	once    sync.Once
	closing bool

	frames      atomic.Uint64
	parseErrors atomic.Uint64

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
}

// NewFeed wraps src. Call Monitor to start reading.
func NewFeed(src io.ReadCloser, clock timeutil.Clock) *Feed {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Feed{
		src:         src,
		clock:       clock,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		subscribers: make(map[string]chan string),
	}
}

// Monitor reads lines from the source until it ends or ctx is cancelled.
// Malformed lines are counted and skipped.
func (f *Feed) Monitor(ctx context.Context) (err error) {
	defer func() { f.finish(err) }()

	scan := bufio.NewScanner(f.src)
	lineChan := make(chan []byte)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs apart from the loop below so that
	// cancellation is noticed even while the port is silent.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			line := append([]byte(nil), scan.Bytes()...)
			select {
			case lineChan <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if f.isClosing() {
				return nil
			}
			return fmt.Errorf("landmark feed read: %w", err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !f.isClosing() {
						return fmt.Errorf("landmark feed read: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			f.broadcast(string(line))

			frame, err := ParseFrame(line)
			if err != nil {
				if n := f.parseErrors.Add(1); n == 1 || n%100 == 0 {
					monitoring.Logf("landmark feed: %v (%d malformed so far)", err, n)
				}
				continue
			}
			f.publish(frame)
		}
	}
}

func (f *Feed) publish(frame Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	frame.Seq = f.seq
	frame.Received = f.clock.Now()
	f.latest = frame
	close(f.ready)
	f.ready = make(chan struct{})
	f.frames.Add(1)
}

func (f *Feed) finish(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.doneErr = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Next returns the newest frame not yet returned, blocking until one arrives.
// Frames published between calls are skipped except the newest.
func (f *Feed) Next(ctx context.Context) (Frame, error) {
	for {
		f.mu.Lock()
		if f.seq > f.read {
			frame := f.latest
			f.read = f.seq
			f.mu.Unlock()
			return frame, nil
		}
		ready, done := f.ready, f.done
		f.mu.Unlock()

		select {
		case <-ready:
		case <-done:
			f.mu.Lock()
			pending, doneErr := f.seq > f.read, f.doneErr
			f.mu.Unlock()
			if pending {
				continue
			}
			if doneErr != nil && !errors.Is(doneErr, context.Canceled) {
				return Frame{}, fmt.Errorf("%w: %v", ErrFeedClosed, doneErr)
			}
			return Frame{}, ErrFeedClosed
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// Wait discards any buffered frame and returns the first frame published
// after the call.
func (f *Feed) Wait(ctx context.Context) (Frame, error) {
	f.mu.Lock()
	f.read = f.seq
	f.mu.Unlock()
	return f.Next(ctx)
}

// Latest returns the newest frame without consuming it.
func (f *Feed) Latest() (Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.seq > 0
}

// Stats reports how many frames were accepted and rejected.
type Stats struct {
	Frames      uint64 `json:"frames"`
	ParseErrors uint64 `json:"parse_errors"`
}

// Stats returns the current counters.
func (f *Feed) Stats() Stats {
	return Stats{Frames: f.frames.Load(), ParseErrors: f.parseErrors.Load()}
}

func (f *Feed) isClosing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closing
}

// Close closes every subscriber and the source, which unblocks Monitor.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closing {
		f.mu.Unlock()
		return nil
	}
	f.closing = true
	f.mu.Unlock()

	f.subscriberMu.Lock()
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
	f.subscriberMu.Unlock()
	return f.src.Close()
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving every raw line read from the source.
// Lines are dropped for subscribers that are not ready.
func (f *Feed) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	if f.isClosing() {
		close(ch)
		return id, ch
	}
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *Feed) Unsubscribe(id string) {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

func (f *Feed) broadcast(line string) {
	f.subscriberMu.Lock()
	defer f.subscriberMu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}
