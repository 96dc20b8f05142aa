package task

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func intp(i int) *int { return &i }
func strp(s string) *string { return &s }

func TestSerializeRoundTrip(t *testing.T) {
	cases := []*Task{
		{
			TaskID:          "t1",
			ReportFrequency: 5,
			MeasureCPU:      true,
			AlertCPUPercent: intp(90),
		},
		{
			TaskID:             "t2",
			ReportFrequency:    10,
			MeasureRAM:         true,
			AlertRAMPercent:    intp(80),
			Interfaces:         []string{"eth0", "eth1"},
			AlertInterfacePPS:  intp(1000),
			IperfOptions:       strp("-u -b 10M"),
			PingOptions:        strp("-c 5"),
		},
		{
			TaskID:                 "t3",
			ReportFrequency:        1,
			IperfMeasureThroughput: true,
			IperfMeasureJitter:     true,
			AlertJitterMs:          intp(20),
			IperfMeasurePacketLoss: true,
			AlertPacketLossPercent: intp(5),
			PingMeasureLatency:     true,
			AlertLatencyMs:         intp(100),
			IperfAsServer:          true,
		},
	}

	for _, tc := range cases {
		encoded, err := tc.Serialize()
		require.NoError(t, err)

		decoded, err := Deserialize(encoded)
		require.NoError(t, err)
		if diff := cmp.Diff(tc, decoded); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestActiveThresholds(t *testing.T) {
	tk := &Task{
		MeasureCPU:        true,
		AlertCPUPercent:   intp(90),
		MeasureRAM:        false,
		AlertRAMPercent:   intp(80), // ignored: RAM not measured
		Interfaces:        []string{"eth0"},
		AlertInterfacePPS: intp(500),
	}
	th := tk.ActiveThresholds()
	require.Equal(t, 90, th['c'])
	require.Equal(t, 500, th['t'])
	_, hasRAM := th['r']
	require.False(t, hasRAM)
}

func TestActiveThresholdsNoInterfaces(t *testing.T) {
	tk := &Task{AlertInterfacePPS: intp(500)}
	th := tk.ActiveThresholds()
	_, has := th['t']
	require.False(t, has, "threshold without enabled interfaces must not be active")
}
