// Package pipeline wires the landmark feed, the calibrated transform and the
// selector into a single worker goroutine, and manages calibration around it.
package pipeline

import (
	"context"
	"errors"

	"github.com/banshee-data/gazeselect/internal/calibration"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/landmarkfeed"
	"github.com/banshee-data/gazeselect/internal/selection"
)

// GazeSource turns landmark frames into screen gaze samples. Frames without
// a face repeat the last known gaze as a held sample. Owned by one goroutine.
type GazeSource struct {
	feed      landmarkfeed.Source
	transform calibration.Affine
	screen    gaze.ScreenSize
	camera    gaze.FrameSize
	hold      gaze.Hold
}

// NewGazeSource maps frames from feed through the transform in rec.
func NewGazeSource(feed landmarkfeed.Source, rec *calibration.Record) *GazeSource {
	return &GazeSource{
		feed:      feed,
		transform: rec.Transform,
		screen:    rec.Key.Screen(),
		camera:    rec.Key.Camera(),
	}
}

// Next blocks for the next frame. ok is false while no face has been seen
// yet, in which case there is nothing to select with.
func (g *GazeSource) Next(ctx context.Context) (sample selection.Sample, ok bool, err error) {
	frame, err := g.feed.Next(ctx)
	if err != nil {
		return selection.Sample{}, false, err
	}

	raw, err := gaze.MapLandmarks(frame.Eyes, frame.Size, g.camera)
	if errors.Is(err, gaze.ErrLandmarkUnavailable) {
		last, seen := g.hold.Last()
		return selection.Sample{Gaze: last, Held: true}, seen, nil
	}

	p := g.transform.ToScreen(raw, g.screen)
	g.hold.Update(p)
	return selection.Sample{Gaze: p}, true, nil
}
