// Package nettask implements the reliable stop-and-wait datagram endpoint
// of the NetTask channel.
package nettask

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"

	"nettaskd/pkg/wire"
)

// SockTimeout is how long a receive with a timeout waits before giving up,
// matching socketwrapper.py's SOCK_TIMEOUT.
const SockTimeout = 5 * time.Second

// MaxRetries is the number of send attempts SendAndWaitAck makes before
// giving up, matching SOCK_MAX_RETRIES.
const MaxRetries = 3

// ErrRetransmitExhausted is returned by SendAndWaitAck when MaxRetries
// attempts all failed to receive a matching ACK.
var ErrRetransmitExhausted = errors.New("nettask: maximum retransmission attempts reached")

// Endpoint wraps a UDP socket with NetTask's sequence/ack bookkeeping.
// Not safe for concurrent use by multiple goroutines without external
// synchronization beyond what its own mutex provides for the seq/ack
// counters; callers should serialize Send/Receive calls per the spec's
// single-outstanding-request rule.
type Endpoint struct {
	conn      *net.UDPConn
	localAddr string
	localPort int

	mu    sync.Mutex
	seqNr uint32
	ackNr uint32
}

// NewEndpoint binds a UDP socket at localAddr:localPort (localPort 0 lets
// the OS choose an ephemeral port). If startingSeqNr is nil a random value
// in [1000,8000) is chosen, matching the original's randint(1000, 8000).
func NewEndpoint(localAddr string, localPort int, startingSeqNr *uint32, startingAckNr uint32) (*Endpoint, error) {
	udpAddr := &net.UDPAddr{IP: net.ParseIP(localAddr), Port: localPort}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("nettask: bind %s:%d: %w", localAddr, localPort, err)
	}
	seq := uint32(0)
	if startingSeqNr != nil {
		seq = *startingSeqNr
	} else {
		seq = uint32(1000 + rand.Intn(7000))
	}
	boundPort := conn.LocalAddr().(*net.UDPAddr).Port
	return &Endpoint{
		conn:      conn,
		localAddr: localAddr,
		localPort: boundPort,
		seqNr:     seq,
		ackNr:     startingAckNr,
	}, nil
}

// LocalPort returns the actual bound UDP port (useful when NewEndpoint was
// called with localPort 0 to get an OS-assigned ephemeral port).
func (e *Endpoint) LocalPort() int { return e.localPort }

// Close releases the underlying socket.
func (e *Endpoint) Close() error { return e.conn.Close() }

// Send transmits a single datagram without waiting for any response. If
// acknr is nil the endpoint's current stored ack number is used.
func (e *Endpoint) Send(ctx context.Context, dest wire.Location, flags wire.Flags, payload []byte, acknr *uint32) (*wire.Datagram, error) {
	e.mu.Lock()
	a := e.ackNr
	if acknr != nil {
		a = *acknr
	}
	d := &wire.Datagram{
		Origin:  wire.Location{Addr: e.localAddr, Port: e.localPort},
		Dest:    dest,
		Flags:   flags,
		SeqNr:   e.seqNr,
		AckNr:   a,
		Payload: payload,
	}
	e.mu.Unlock()

	encoded, err := wire.Encode(d)
	if err != nil {
		return nil, fmt.Errorf("nettask: encode: %w", err)
	}
	udpDest := &net.UDPAddr{IP: net.ParseIP(dest.Addr), Port: dest.Port}
	if _, err := e.conn.WriteToUDP(encoded, udpDest); err != nil {
		return nil, fmt.Errorf("nettask: sendto %s: %w", udpDest, err)
	}
	dlog.Debugf(ctx, "nettask: sent %s", d)
	return d, nil
}

// Receive waits for one datagram. If withTimeout is true it gives up after
// SockTimeout and returns (nil, nil, nil) — a timeout is not an error, it is
// the expected outcome of a quiet channel. A datagram that fails to decode is
// logged and dropped: Receive then returns a nil datagram, the sender's
// address and no error.
func (e *Endpoint) Receive(ctx context.Context, withTimeout bool) (*wire.Datagram, *net.UDPAddr, error) {
	if withTimeout {
		if err := e.conn.SetReadDeadline(time.Now().Add(SockTimeout)); err != nil {
			return nil, nil, fmt.Errorf("nettask: set deadline: %w", err)
		}
		defer e.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, wire.MaxDatagramSize*2)
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			dlog.Debug(ctx, "nettask: recv timeout")
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("nettask: recvfrom: %w", err)
	}

	d, err := wire.Decode(buf[:n])
	if err != nil {
		dlog.Errorf(ctx, "nettask: dropping undecodable datagram from %s: %v", addr, err)
		return nil, addr, nil
	}
	dlog.Debugf(ctx, "nettask: recv %s", d)

	e.mu.Lock()
	e.ackNr = d.SeqNr + uint32(d.PayloadSize()) + 1
	e.mu.Unlock()

	return d, addr, nil
}

// ReceiveAndAck receives one datagram and immediately acknowledges it via
// SendAck.
func (e *Endpoint) ReceiveAndAck(ctx context.Context, withTimeout bool) (*wire.Datagram, *net.UDPAddr, error) {
	d, addr, err := e.Receive(ctx, withTimeout)
	if err != nil || d == nil {
		return d, addr, err
	}
	if err := e.SendAck(ctx, d); err != nil {
		return d, addr, fmt.Errorf("nettask: ack: %w", err)
	}
	return d, addr, nil
}

// ackFlagsFor derives the flags to reply with: SYN+ACK for a SYN, FIN+ACK
// for a FIN, a plain ACK otherwise.
func ackFlagsFor(f wire.Flags) wire.Flags {
	switch {
	case f.IsSyn() && !f.Ack:
		return wire.Flags{Syn: true, Ack: true}
	case f.IsFin() && !f.Ack:
		return wire.Flags{Fin: true, Ack: true}
	default:
		return wire.Flags{Ack: true}
	}
}

// SendAck replies to a received datagram with the appropriate ACK variant.
// SYN and FIN acknowledgements are sent via SendAndWaitAck (they carry their
// own handshake semantics and must themselves be acked); any other ack is
// fire-and-forget via Send.
func (e *Endpoint) SendAck(ctx context.Context, received *wire.Datagram) error {
	flags := ackFlagsFor(received.Flags)
	ackNr := received.SeqNr + uint32(received.PayloadSize()) + 1
	dest := received.Origin

	if received.Flags.IsSyn() || received.Flags.IsFin() {
		_, err := e.SendAndWaitAck(ctx, dest, flags, nil, &ackNr)
		return err
	}
	_, err := e.Send(ctx, dest, flags, nil, &ackNr)
	return err
}

// SendAndWaitAck sends a datagram and retries with exponential backoff
// (sleeping 2^i seconds between attempts) until a matching ACK is received
// or MaxRetries attempts have been made. A response whose ack number does
// not match the expected value is treated as a failed attempt and retried
// without otherwise disturbing the endpoint's sequence/ack state.
func (e *Endpoint) SendAndWaitAck(ctx context.Context, dest wire.Location, flags wire.Flags, payload []byte, acknr *uint32) (*wire.Datagram, error) {
	for i := 0; i < MaxRetries; i++ {
		sent, err := e.Send(ctx, dest, flags, payload, acknr)
		if err != nil {
			return nil, err
		}

		resp, _, err := e.Receive(ctx, true)
		if err != nil {
			return nil, err
		}

		expectedAck := sent.SeqNr + uint32(sent.PayloadSize()) + 1
		if resp != nil && resp.Flags.Ack && resp.AckNr == expectedAck {
			e.mu.Lock()
			e.seqNr += uint32(sent.PayloadSize()) + 1
			e.mu.Unlock()
			return resp, nil
		}

		dlog.Debug(ctx, "nettask: ack not received, resending...")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(i)):
		}
	}
	return nil, ErrRetransmitExhausted
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}
