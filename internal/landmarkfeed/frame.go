// Package landmarkfeed reads eye landmark frames from a serial port, a UDP
// socket, a recorded capture or any line-oriented reader, and keeps only the
// newest frame for the gaze pipeline.
package landmarkfeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/gazeselect/internal/gaze"
)

// ErrMalformedFrame is returned for lines that are not a valid landmark frame.
var ErrMalformedFrame = errors.New("malformed landmark frame")

// Frame is one camera frame's worth of eye landmarks. Eyes is nil when no
// face was detected.
type Frame struct {
	Seq      uint64
	Size     gaze.FrameSize
	Eyes     *gaze.EyeLandmarks
	Received time.Time
}

// wireFrame is the newline-delimited JSON encoding:
//
//	{"w":640,"h":480,"eyes":[[x,y],[x,y],[x,y],[x,y]]}
type wireFrame struct {
	W    int          `json:"w"`
	H    int          `json:"h"`
	Eyes [][2]float64 `json:"eyes,omitempty"`
}

// ParseFrame decodes one wire line. An absent or empty "eyes" array means
// no face this frame.
func ParseFrame(line []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(line, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if w.W <= 0 || w.H <= 0 {
		return Frame{}, fmt.Errorf("%w: frame size %dx%d", ErrMalformedFrame, w.W, w.H)
	}

	f := Frame{Size: gaze.FrameSize{Width: w.W, Height: w.H}}
	switch len(w.Eyes) {
	case 0:
	case 4:
		var eyes gaze.EyeLandmarks
		for i, p := range w.Eyes {
			eyes[i] = gaze.Landmark{X: p[0], Y: p[1]}
		}
		f.Eyes = &eyes
	default:
		return Frame{}, fmt.Errorf("%w: want 4 eye landmarks, got %d", ErrMalformedFrame, len(w.Eyes))
	}
	return f, nil
}

// EncodeFrame produces the wire line for f, including the trailing newline.
func EncodeFrame(f Frame) []byte {
	w := wireFrame{W: f.Size.Width, H: f.Size.Height}
	if f.Eyes != nil {
		w.Eyes = make([][2]float64, len(f.Eyes))
		for i, l := range f.Eyes {
			w.Eyes[i] = [2]float64{l.X, l.Y}
		}
	}
	b, _ := json.Marshal(w)
	return append(b, '\n')
}
