//go:build pcap
// +build pcap

package landmarkfeed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/gazeselect/internal/monitoring"
	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// PCAPSupported reports whether this build can replay capture files.
const PCAPSupported = true

// ReplayPCAP writes the UDP payloads sent to udpPort in pcapFile to w, one
// line per datagram, paced by the capture timestamps scaled by 1/speed.
// A speed of zero or less replays as fast as possible.
// This function is only available when building with the 'pcap' build tag.
func ReplayPCAP(ctx context.Context, pcapFile string, udpPort int, speed float64, w io.Writer, clock timeutil.Clock) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}
	monitoring.Logf("PCAP BPF filter set: %s", filterStr)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	var (
		packetCount int
		prev        time.Time
	)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP replay stopping due to context cancellation (replayed %d packets)", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				monitoring.Logf("PCAP replay complete: %d packets", packetCount)
				return nil
			}

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			ts := packet.Metadata().Timestamp
			if speed > 0 && !prev.IsZero() {
				if gap := ts.Sub(prev); gap > 0 {
					clock.Sleep(time.Duration(float64(gap) / speed))
				}
			}
			prev = ts

			payload := udp.Payload
			if !bytes.HasSuffix(payload, []byte("\n")) {
				payload = append(append([]byte(nil), payload...), '\n')
			}
			if _, err := w.Write(payload); err != nil {
				return fmt.Errorf("PCAP replay write: %w", err)
			}
			packetCount++
		}
	}
}
