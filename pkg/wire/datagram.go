// Package wire implements the on-wire encoding for the NetTask transport:
// the Datagram frame and the control-message envelope carried inside its
// payload.
package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxDatagramSize is the receive buffer size mandated for the reliable
// datagram channel; an encoded Datagram must fit within it.
const MaxDatagramSize = 1024

// Location is an address+port pair, used for both the origin and the
// destination of a Datagram.
type Location struct {
	Addr string
	Port int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Addr, l.Port)
}

// Flags is the three-bit SYN/ACK/FIN flag triple carried on every datagram.
type Flags struct {
	Syn bool
	Ack bool
	Fin bool
}

func (f Flags) String() string {
	bit := func(b bool) byte {
		if b {
			return '1'
		}
		return '0'
	}
	return fmt.Sprintf("s%ca%cf%c", bit(f.Syn), bit(f.Ack), bit(f.Fin))
}

// IsSyn reports whether f is a bare SYN (open).
func (f Flags) IsSyn() bool { return f.Syn && !f.Ack }

// IsSynAck reports whether f is SYN+ACK (open-accept).
func (f Flags) IsSynAck() bool { return f.Syn && f.Ack }

// IsFin reports whether f is a bare FIN (close).
func (f Flags) IsFin() bool { return f.Fin && !f.Ack }

// IsFinAck reports whether f is FIN+ACK (close-accept).
func (f Flags) IsFinAck() bool { return f.Fin && f.Ack }

// Datagram is the unit of the reliable-datagram protocol.
type Datagram struct {
	Origin  Location
	Dest    Location
	Flags   Flags
	SeqNr   uint32
	AckNr   uint32
	Payload []byte
}

// PayloadSize returns the length of the payload, treating a nil payload as
// zero-length.
func (d *Datagram) PayloadSize() int {
	return len(d.Payload)
}

func (d *Datagram) String() string {
	return fmt.Sprintf("[Dgram %d->%d] %s - SeqNr%d AckNr%d - Payload %dB",
		d.Origin.Port, d.Dest.Port, d.Flags, d.SeqNr, d.AckNr, d.PayloadSize())
}

// wireDatagram is the self-describing, short-keyed shape that actually gets
// serialized — keys are kept to a single byte ('o','d','f','s','a','p').
type wireDatagram struct {
	Origin  [2]interface{} `msgpack:"o"`
	Dest    [2]interface{} `msgpack:"d"`
	Flags   [3]bool        `msgpack:"f"`
	SeqNr   uint32         `msgpack:"s"`
	AckNr   uint32         `msgpack:"a"`
	Payload []byte         `msgpack:"p"`
}

// Encode serializes d into its compressed, self-describing wire form.
func Encode(d *Datagram) ([]byte, error) {
	w := wireDatagram{
		Origin:  [2]interface{}{d.Origin.Addr, d.Origin.Port},
		Dest:    [2]interface{}{d.Dest.Addr, d.Dest.Port},
		Flags:   [3]bool{d.Flags.Syn, d.Flags.Ack, d.Flags.Fin},
		SeqNr:   d.SeqNr,
		AckNr:   d.AckNr,
		Payload: d.Payload,
	}
	packed, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal datagram: %w", err)
	}
	return compress(packed)
}

// Decode reverses Encode. A malformed or truncated input is surfaced as an
// error wrapping ErrDecode; callers should drop the datagram and log rather
// than propagate it further.
func Decode(data []byte) (*Datagram, error) {
	packed, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrDecode, err)
	}
	var w wireDatagram
	if err := msgpack.Unmarshal(packed, &w); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrDecode, err)
	}
	addr := func(v interface{}) string {
		s, _ := v.(string)
		return s
	}
	port := func(v interface{}) int {
		switch n := v.(type) {
		case int8:
			return int(n)
		case int16:
			return int(n)
		case int32:
			return int(n)
		case int64:
			return int(n)
		case uint8:
			return int(n)
		case uint16:
			return int(n)
		case uint32:
			return int(n)
		case uint64:
			return int(n)
		case int:
			return n
		default:
			return 0
		}
	}
	if len(w.Origin) != 2 || len(w.Dest) != 2 {
		return nil, fmt.Errorf("%w: malformed origin/dest", ErrDecode)
	}
	return &Datagram{
		Origin:  Location{Addr: addr(w.Origin[0]), Port: port(w.Origin[1])},
		Dest:    Location{Addr: addr(w.Dest[0]), Port: port(w.Dest[1])},
		Flags:   Flags{Syn: w.Flags[0], Ack: w.Flags[1], Fin: w.Flags[2]},
		SeqNr:   w.SeqNr,
		AckNr:   w.AckNr,
		Payload: w.Payload,
	}, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return out, nil
}
