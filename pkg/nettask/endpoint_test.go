package nettask

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"nettaskd/pkg/wire"
)

func newPair(t *testing.T) (*Endpoint, *Endpoint) {
	t.Helper()
	a, err := NewEndpoint("127.0.0.1", 0, nil, 0)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	b, err := NewEndpoint("127.0.0.1", 0, nil, 0)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return a, b
}

func TestSendAndWaitAckSucceeds(t *testing.T) {
	ctx := context.Background()
	client, server := newPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d, _, err := server.ReceiveAndAck(ctx, true)
		require.NoError(t, err)
		require.NotNil(t, d)
		require.True(t, d.Flags.IsSyn())
	}()

	resp, err := client.SendAndWaitAck(ctx, wire.Location{Addr: "127.0.0.1", Port: server.LocalPort()}, wire.Flags{Syn: true}, nil, nil)
	require.NoError(t, err)
	require.True(t, resp.Flags.IsSynAck())
	// Final ACK of the handshake: the server's SYN+ACK waits for it.
	require.NoError(t, client.SendAck(ctx, resp))
	<-done
}

func TestSendAndWaitAckExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	client, err := NewEndpoint("127.0.0.1", 0, nil, 0)
	require.NoError(t, err)
	defer client.Close()

	// No one listens on this port, so every attempt times out.
	unused, err := NewEndpoint("127.0.0.1", 0, nil, 0)
	require.NoError(t, err)
	deadPort := unused.LocalPort()
	require.NoError(t, unused.Close())

	_, err = client.SendAndWaitAck(ctx, wire.Location{Addr: "127.0.0.1", Port: deadPort}, wire.Flags{Syn: true}, nil, nil)
	require.ErrorIs(t, err, ErrRetransmitExhausted)
}

func TestSequenceMonotonicity(t *testing.T) {
	ctx := context.Background()
	client, server := newPair(t)

	client.mu.Lock()
	seqBefore := client.seqNr
	client.mu.Unlock()

	go func() {
		d, _, _ := server.ReceiveAndAck(ctx, true)
		_ = d
	}()
	first, err := client.SendAndWaitAck(ctx, wire.Location{Addr: "127.0.0.1", Port: server.LocalPort()}, wire.Flags{Syn: true}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, seqBefore+1, first.AckNr)

	client.mu.Lock()
	seqAfterFirst := client.seqNr
	client.mu.Unlock()
	require.Equal(t, seqBefore+1, seqAfterFirst)
}
