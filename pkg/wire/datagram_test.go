package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDatagramRoundTrip(t *testing.T) {
	cases := []*Datagram{
		{
			Origin: Location{Addr: "10.0.0.1", Port: 9000},
			Dest:   Location{Addr: "10.0.0.2", Port: 51234},
			Flags:  Flags{Syn: true},
			SeqNr:  4821,
			AckNr:  0,
		},
		{
			Origin:  Location{Addr: "10.0.0.2", Port: 51234},
			Dest:    Location{Addr: "10.0.0.1", Port: 9000},
			Flags:   Flags{Syn: true, Ack: true},
			SeqNr:   1234,
			AckNr:   4822,
			Payload: []byte("hello"),
		},
		{
			Origin: Location{Addr: "10.0.0.1", Port: 9000},
			Dest:   Location{Addr: "10.0.0.2", Port: 51234},
			Flags:  Flags{Fin: true, Ack: true},
			SeqNr:  1,
			AckNr:  2,
		},
	}

	for _, d := range cases {
		encoded, err := Encode(d)
		require.NoError(t, err)
		require.LessOrEqual(t, len(encoded), MaxDatagramSize)

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		if diff := cmp.Diff(d, decoded); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte("not a valid zlib stream"))
	require.ErrorIs(t, err, ErrDecode)
}

func TestFlagClassification(t *testing.T) {
	require.True(t, Flags{Syn: true}.IsSyn())
	require.True(t, Flags{Syn: true, Ack: true}.IsSynAck())
	require.True(t, Flags{Fin: true}.IsFin())
	require.True(t, Flags{Fin: true, Ack: true}.IsFinAck())
	require.False(t, Flags{Syn: true}.IsSynAck())
}
