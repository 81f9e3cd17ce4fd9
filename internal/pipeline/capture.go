package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/gazeselect/internal/calibration"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/landmarkfeed"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// FrameWaiter returns the first frame published after the call.
// *landmarkfeed.Feed implements it.
type FrameWaiter interface {
	Wait(ctx context.Context) (landmarkfeed.Frame, error)
}

// captureFrame grabs a fresh frame and maps it into the reference camera
// resolution. A frame without a face yields gaze.ErrLandmarkUnavailable.
func captureFrame(ctx context.Context, frames FrameWaiter, camera gaze.FrameSize) (gaze.RawPoint, error) {
	frame, err := frames.Wait(ctx)
	if err != nil {
		return gaze.RawPoint{}, err
	}
	return gaze.MapLandmarks(frame.Eyes, frame.Size, camera)
}

// PromptCapture asks the user to look at each target and press Enter.
// The gaze is taken from the first frame after the key press.
func PromptCapture(in io.Reader, out io.Writer, frames FrameWaiter, camera gaze.FrameSize) calibration.CaptureFunc {
	lines := make(chan error, 1)
	scanner := bufio.NewScanner(in)
	readLine := func() {
		if scanner.Scan() {
			lines <- nil
			return
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		lines <- err
	}

	return func(ctx context.Context, index int, target gaze.ScreenPoint) (gaze.RawPoint, error) {
		fmt.Fprintf(out, "Look at target %d at (%.0f, %.0f) and press Enter\n", index+1, target.X, target.Y)

		go readLine()
		select {
		case err := <-lines:
			if err != nil {
				return gaze.RawPoint{}, fmt.Errorf("waiting for confirmation: %w", err)
			}
		case <-ctx.Done():
			// The pending read is abandoned with stdin; the CLI exits after this.
			return gaze.RawPoint{}, ctx.Err()
		}
		return captureFrame(ctx, frames, camera)
	}
}

// TimedCapture shows each target for delay and then takes the next frame.
// It is used for unattended runs and the synthetic feed.
func TimedCapture(out io.Writer, frames FrameWaiter, camera gaze.FrameSize, delay time.Duration, clock timeutil.Clock) calibration.CaptureFunc {
	return func(ctx context.Context, index int, target gaze.ScreenPoint) (gaze.RawPoint, error) {
		if out != nil {
			fmt.Fprintf(out, "Look at target %d at (%.0f, %.0f)\n", index+1, target.X, target.Y)
		}
		if delay > 0 {
			clock.Sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			return gaze.RawPoint{}, err
		}
		return captureFrame(ctx, frames, camera)
	}
}
