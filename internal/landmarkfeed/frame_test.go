package landmarkfeed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gazeselect/internal/gaze"
)

func TestParseFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		line     string
		wantErr  bool
		wantEyes bool
	}{
		{"face", `{"w":640,"h":480,"eyes":[[1,2],[3,4],[5,6],[7,8]]}`, false, true},
		{"no eyes key", `{"w":640,"h":480}`, false, false},
		{"empty eyes", `{"w":640,"h":480,"eyes":[]}`, false, false},
		{"null eyes", `{"w":640,"h":480,"eyes":null}`, false, false},
		{"three eyes", `{"w":640,"h":480,"eyes":[[1,2],[3,4],[5,6]]}`, true, false},
		{"zero size", `{"w":0,"h":480}`, true, false},
		{"not json", `hello`, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := ParseFrame([]byte(tt.line))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedFrame))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, gaze.FrameSize{Width: 640, Height: 480}, f.Size)
			assert.Equal(t, tt.wantEyes, f.Eyes != nil)
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()
	in := Frame{Size: gaze.FrameSize{Width: 320, Height: 240}, Eyes: EyesAt(gaze.RawPoint{X: 100, Y: 50})}
	line := EncodeFrame(in)
	assert.Equal(t, byte('\n'), line[len(line)-1])

	out, err := ParseFrame(line)
	require.NoError(t, err)
	assert.Equal(t, in.Size, out.Size)
	assert.Equal(t, *in.Eyes, *out.Eyes)

	p, err := gaze.MapLandmarks(out.Eyes, out.Size, out.Size)
	require.NoError(t, err)
	assert.Equal(t, gaze.RawPoint{X: 100, Y: 50}, p)

	assert.Equal(t, "{\"w\":320,\"h\":240}\n", string(EncodeFrame(Frame{Size: in.Size})))
}
