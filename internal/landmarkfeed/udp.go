package landmarkfeed

import (
	"fmt"
	"net"

	"github.com/banshee-data/gazeselect/internal/timeutil"
)

// maxDatagram bounds a single landmark datagram.
const maxDatagram = 64 * 1024

// UDPSocket is the subset of *net.UDPConn the feed needs.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	Close() error
	LocalAddr() net.Addr
}

// datagramReader presents a UDP socket as a byte stream, one datagram per
// line.
type datagramReader struct {
	sock    UDPSocket
	buf     []byte
	pending []byte
}

func newDatagramReader(sock UDPSocket) *datagramReader {
	return &datagramReader{sock: sock, buf: make([]byte, maxDatagram)}
}

func (d *datagramReader) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		n, _, err := d.sock.ReadFromUDP(d.buf)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			continue
		}
		d.pending = append(d.pending[:0], d.buf[:n]...)
		if d.pending[len(d.pending)-1] != '\n' {
			d.pending = append(d.pending, '\n')
		}
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *datagramReader) Close() error {
	return d.sock.Close()
}

// NewUDPFeed returns a Feed reading datagrams from sock.
func NewUDPFeed(sock UDPSocket, clock timeutil.Clock) *Feed {
	return NewFeed(newDatagramReader(sock), clock)
}

// ListenUDP binds addr (for example ":7400") and returns a Feed over it.
func ListenUDP(addr string, clock timeutil.Clock) (*Feed, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid UDP address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return NewUDPFeed(conn, clock), nil
}
