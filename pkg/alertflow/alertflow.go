// Package alertflow implements the AlertFlow spike-alert channel: a
// long-lived TCP connection the agent opens to the server's worker port,
// over which serialized report.Alert values are streamed.
//
// A naive sendall-per-alert writer paired with a fixed-size recv reader only
// works as long as every alert happens to fit in one segment. This package
// instead frames each alert with a 4-byte big-endian length prefix, so a
// receiver can always tell where one alert ends and the next begins
// regardless of how TCP happens to chop up the stream.
package alertflow

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"nettaskd/pkg/report"
)

// MaxFrameSize bounds a single framed alert, guarding against a corrupt
// length prefix causing an unbounded allocation.
const MaxFrameSize = 1 << 20

// Conn wraps a TCP connection with framed Alert read/write.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
}

// NewConn wraps an already-established TCP connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Dial connects to addr:port as the agent does in connect_alertflow, binding
// the outgoing connection's local address to localAddr:localPort first. The
// server's worker verifies the accepted connection's peer address against
// the agent's known NetTask address, so the agent must present the same
// port here that it bound its NetTask endpoint to.
func Dial(localAddr string, localPort int, addr string, port int) (*Conn, error) {
	d := net.Dialer{LocalAddr: &net.TCPAddr{IP: net.ParseIP(localAddr), Port: localPort}}
	nc, err := d.Dial("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, fmt.Errorf("alertflow: dial %s:%d from %s:%d: %w", addr, port, localAddr, localPort, err)
	}
	return NewConn(nc), nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// WriteAlert serializes and frames alert onto the connection.
func (c *Conn) WriteAlert(alert *report.Alert) error {
	payload, err := alert.Serialize()
	if err != nil {
		return fmt.Errorf("alertflow: serialize alert: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := c.nc.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("alertflow: write length prefix: %w", err)
	}
	if _, err := c.nc.Write(payload); err != nil {
		return fmt.Errorf("alertflow: write payload: %w", err)
	}
	return nil
}

// ReadAlert blocks until one complete framed alert has arrived, or the
// connection is closed/errors.
func (c *Conn) ReadAlert() (*report.Alert, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(c.r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("alertflow: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("alertflow: read frame body: %w", err)
	}
	return report.DeserializeAlert(payload)
}
