package main

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gazeselect/internal/calibration"
	"github.com/banshee-data/gazeselect/internal/config"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/landmarkfeed"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

func TestParseFeedSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    feedSpec
		wantErr bool
	}{
		{in: "synthetic", want: feedSpec{kind: "synthetic"}},
		{in: "stdin", want: feedSpec{kind: "stdin"}},
		{in: "serial:/dev/ttyUSB0", want: feedSpec{kind: "serial", path: "/dev/ttyUSB0"}},
		{in: "udp::7400", want: feedSpec{kind: "udp", path: ":7400"}},
		{in: "udp:127.0.0.1:7400", want: feedSpec{kind: "udp", path: "127.0.0.1:7400"}},
		{in: "pcap:/tmp/run:1.pcap:7400", want: feedSpec{kind: "pcap", path: "/tmp/run:1.pcap", port: 7400}},
		{in: "serial:", wantErr: true},
		{in: "udp", wantErr: true},
		{in: "stdin:x", wantErr: true},
		{in: "pcap:file.pcap", wantErr: true},
		{in: "pcap:file.pcap:0", wantErr: true},
		{in: "pcap:file.pcap:http", wantErr: true},
		{in: "webcam", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFeedSpec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, feedSpec{kind: "stdin"}.usesStdin())
	assert.False(t, feedSpec{kind: "udp"}.usesStdin())
}

func TestAskYesNo(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    bool
		wantErr bool
		retries int
	}{
		{name: "yes", input: "y\n", want: true},
		{name: "no", input: "N\n", want: false},
		{name: "reasks until valid", input: "maybe\n\nyes\n", want: true, retries: 2},
		{name: "answer without newline", input: "n", want: false},
		{name: "eof", input: "what\n", wantErr: true, retries: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := askYesNo(bufio.NewReader(strings.NewReader(tt.input)), &out, "Recalibrate?")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.retries, strings.Count(out.String(), "Please answer y or n."))
			assert.Contains(t, out.String(), "Recalibrate? (y/n): ")
		})
	}
}

func TestReuseDecision(t *testing.T) {
	rec := &calibration.Record{Key: calibration.ResolutionKey{ScreenWidth: 1920, ScreenHeight: 1080, CameraWidth: 640, CameraHeight: 480}, CreatedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)}

	t.Run("stdin feed without flag leaves the decision open", func(t *testing.T) {
		assert.Nil(t, reuseDecision(false, true, bufio.NewReader(strings.NewReader("")), &bytes.Buffer{}))
	})

	t.Run("reuse flag keeps the stored record without reading", func(t *testing.T) {
		for _, stdinFeed := range []bool{true, false} {
			var out bytes.Buffer
			confirm := reuseDecision(true, stdinFeed, bufio.NewReader(strings.NewReader("y\n")), &out)
			require.NotNil(t, confirm)
			recalibrate, err := confirm(rec)
			require.NoError(t, err)
			assert.False(t, recalibrate)
			assert.Empty(t, out.String())
		}
	})

	t.Run("terminal prompts the user", func(t *testing.T) {
		var out bytes.Buffer
		confirm := reuseDecision(false, false, bufio.NewReader(strings.NewReader("y\n")), &out)
		require.NotNil(t, confirm)
		recalibrate, err := confirm(rec)
		require.NoError(t, err)
		assert.True(t, recalibrate)
		assert.Contains(t, out.String(), "Do you want to recalibrate? (y/n): ")
	})
}

func TestRunMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gazeselect.db")

	var out bytes.Buffer
	require.NoError(t, runMigrate(path, []string{"up"}, &out))
	assert.Contains(t, out.String(), "Current version: 3")

	out.Reset()
	require.NoError(t, runMigrate(path, []string{"status"}, &out))
	assert.Contains(t, out.String(), "Current version: 3 (dirty: false)")

	assert.ErrorContains(t, runMigrate("", []string{"status"}, &out), "-db is required")
	assert.Error(t, runMigrate(path, []string{"sideways"}, &out))
}

func TestScreenSize(t *testing.T) {
	tuning := config.DefaultTuningConfig()
	assert.Equal(t, gaze.ScreenSize{Width: 1920, Height: 1080}, screenSize(0, 0, tuning))
	assert.Equal(t, gaze.ScreenSize{Width: 2560, Height: 1440}, screenSize(2560, 1440, tuning))

	w, h := 1280, 720
	tuning.ScreenWidth = &w
	tuning.ScreenHeight = &h
	assert.Equal(t, gaze.ScreenSize{Width: 1280, Height: 720}, screenSize(0, 0, tuning))
	assert.Equal(t, gaze.ScreenSize{Width: 1024, Height: 720}, screenSize(1024, 0, tuning))
}

func TestLoadTuning(t *testing.T) {
	cfg, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, "position", cfg.GetSelectionMode())

	cfg, err = loadTuning("../../config/tuning.defaults.json")
	require.NoError(t, err)
	assert.InDelta(t, 50, cfg.GetVelocityCutoff(), 1e-12)

	_, err = loadTuning("missing.json")
	assert.Error(t, err)
}

func TestOpenFeed_Synthetic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	camera := gaze.FrameSize{Width: 640, Height: 480}
	feed, err := openFeed(ctx, feedSpec{kind: "synthetic"}, 115200, camera, 1, timeutil.RealClock{})
	require.NoError(t, err)
	defer feed.Close()
	go feed.Monitor(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	f, err := feed.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, camera, f.Size)
}

func TestOpenFeed_Errors(t *testing.T) {
	ctx := context.Background()
	camera := gaze.FrameSize{Width: 640, Height: 480}
	clock := timeutil.RealClock{}

	_, err := openFeed(ctx, feedSpec{kind: "serial", path: "/dev/does-not-exist-gazeselect"}, 115200, camera, 1, clock)
	assert.Error(t, err)

	_, err = openFeed(ctx, feedSpec{kind: "udp", path: "not-an-address"}, 115200, camera, 1, clock)
	assert.Error(t, err)

	_, err = openFeed(ctx, feedSpec{kind: "webcam"}, 115200, camera, 1, clock)
	assert.Error(t, err)

	if !landmarkfeed.PCAPSupported {
		_, err = openFeed(ctx, feedSpec{kind: "pcap", path: "x.pcap", port: 7400}, 115200, camera, 1, clock)
		assert.Error(t, err)
	}
}
