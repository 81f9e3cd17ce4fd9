//go:build !pcap
// +build !pcap

package landmarkfeed

import (
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// PCAPSupported reports whether this build can replay capture files.
const PCAPSupported = false

// ReplayPCAP is a stub implementation when PCAP support is disabled.
// Build with -tags=pcap to enable PCAP replay.
func ReplayPCAP(ctx context.Context, pcapFile string, udpPort int, speed float64, w io.Writer, clock timeutil.Clock) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable PCAP replay")
}
