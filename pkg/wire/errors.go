package wire

import "errors"

// ErrDecode is wrapped by any failure to decode a Datagram or Message from
// its wire form: truncated input, corrupt compression stream, or a
// malformed msgpack structure. This is never fatal — the
// caller drops the datagram and logs.
var ErrDecode = errors.New("wire: decode failure")
