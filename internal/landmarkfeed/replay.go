package landmarkfeed

import (
	"context"
	"io"

	"github.com/banshee-data/gazeselect/internal/monitoring"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// OpenPCAP returns a Feed replaying a recorded landmark stream. The replay
// runs until the file ends, ctx is cancelled or the feed is closed.
func OpenPCAP(ctx context.Context, pcapFile string, udpPort int, speed float64, clock timeutil.Clock) *Feed {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r, w := io.Pipe()
	go func() {
		err := ReplayPCAP(ctx, pcapFile, udpPort, speed, w, clock)
		if err != nil && ctx.Err() == nil {
			monitoring.Logf("landmark feed: %v", err)
		}
		w.CloseWithError(err)
	}()
	return NewFeed(r, clock)
}
