package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/landmarkfeed"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// feedSpec is a parsed -feed value.
type feedSpec struct {
	kind string // serial, udp, stdin, pcap or synthetic
	path string // serial device, UDP address or pcap file
	port int    // UDP port filtered during pcap replay
}

// parseFeedSpec accepts serial:/dev/ttyUSB0, udp::7400, stdin,
// pcap:capture.pcap:7400 and synthetic.
func parseFeedSpec(s string) (feedSpec, error) {
	kind, rest, _ := strings.Cut(s, ":")
	switch kind {
	case "stdin", "synthetic":
		if rest != "" {
			return feedSpec{}, fmt.Errorf("feed %q takes no arguments", kind)
		}
		return feedSpec{kind: kind}, nil
	case "serial", "udp":
		if rest == "" {
			return feedSpec{}, fmt.Errorf("feed %q requires an address, e.g. serial:/dev/ttyUSB0 or udp::7400", kind)
		}
		return feedSpec{kind: kind, path: rest}, nil
	case "pcap":
		i := strings.LastIndex(rest, ":")
		if i <= 0 {
			return feedSpec{}, fmt.Errorf("pcap feed must be pcap:<file>:<udp-port>")
		}
		port, err := strconv.Atoi(rest[i+1:])
		if err != nil || port <= 0 || port > 65535 {
			return feedSpec{}, fmt.Errorf("invalid pcap udp port %q", rest[i+1:])
		}
		return feedSpec{kind: kind, path: rest[:i], port: port}, nil
	default:
		return feedSpec{}, fmt.Errorf("unknown feed %q (want serial:, udp:, stdin, pcap: or synthetic)", s)
	}
}

// usesStdin reports whether the feed reads landmark frames from stdin, in
// which case stdin cannot also be used for prompts.
func (f feedSpec) usesStdin() bool {
	return f.kind == "stdin"
}

func openFeed(ctx context.Context, spec feedSpec, baud int, camera gaze.FrameSize, replaySpeed float64, clock timeutil.Clock) (*landmarkfeed.Feed, error) {
	switch spec.kind {
	case "serial":
		return landmarkfeed.OpenSerial(spec.path, landmarkfeed.PortOptions{BaudRate: baud}, nil, clock)
	case "udp":
		return landmarkfeed.ListenUDP(spec.path, clock)
	case "stdin":
		return landmarkfeed.NewFeed(io.NopCloser(os.Stdin), clock), nil
	case "pcap":
		if !landmarkfeed.PCAPSupported {
			return nil, fmt.Errorf("pcap replay requires a build with -tags=pcap")
		}
		return landmarkfeed.OpenPCAP(ctx, spec.path, spec.port, replaySpeed, clock), nil
	case "synthetic":
		return landmarkfeed.NewSyntheticFeed(ctx, camera, 33*time.Millisecond, 90, clock), nil
	}
	return nil, fmt.Errorf("unknown feed kind %q", spec.kind)
}
