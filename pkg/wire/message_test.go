package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []*Message{
		{Author: "r1", Tag: TagIdentify, Payload: nil},
		{Author: "r1", Tag: TagTask, Payload: []byte("task-bytes")},
		{Author: "r1", Tag: TagFinalTask, Payload: []byte("final-task-bytes")},
		{Author: "r1", Tag: TagReport, Payload: []byte("report-bytes")},
	}

	for _, m := range cases {
		encoded, err := EncodeMessage(m)
		require.NoError(t, err)

		decoded, err := DecodeMessage(encoded)
		require.NoError(t, err)
		if diff := cmp.Diff(m, decoded); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestMessageClassification(t *testing.T) {
	m := &Message{Tag: TagTask}
	isTask, isFinal := m.IsTask()
	require.True(t, isTask)
	require.False(t, isFinal)

	m = &Message{Tag: TagFinalTask}
	isTask, isFinal = m.IsTask()
	require.True(t, isTask)
	require.True(t, isFinal)

	require.True(t, (&Message{Tag: TagReport}).IsReport())
	require.True(t, (&Message{Tag: TagIdentify}).IsIdentify())
}
