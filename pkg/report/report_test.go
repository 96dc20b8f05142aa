package report

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestReportRoundTrip(t *testing.T) {
	r := New("dev001", "task001")
	r.AddMeasurement(KindCPU, 80.4)
	r.AddMeasurement(KindRAM, 65.3)
	r.AddInterfaceMeasurement(map[string]float64{"eth0": 1000.2, "eth1": 1500.7})

	encoded, err := r.Serialize()
	require.NoError(t, err)

	decoded, err := Deserialize(encoded)
	require.NoError(t, err)
	if diff := cmp.Diff(r, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAddInterfaceMeasurementDeepCopies(t *testing.T) {
	r := New("d", "t")
	src := map[string]float64{"eth0": 100.1}
	r.AddInterfaceMeasurement(src)
	src["eth0"] = 999.9
	require.Equal(t, 100.1, r.Interfaces["eth0"], "later mutation of source map must not affect stored Report")
}

func TestDeriveAlertSpikes(t *testing.T) {
	r := New("dev001", "task001")
	r.AddMeasurement(KindCPU, 80.4)
	r.AddMeasurement(KindRAM, 65.3)
	r.AddInterfaceMeasurement(map[string]float64{"eth0": 1000.0, "eth1": 1500.5})

	thresholds := map[byte]int{KindCPU: 70, KindRAM: 60, KindInterfaceTraffic: 1000}
	a, err := DeriveAlert(r, thresholds)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.ElementsMatch(t, []byte{KindCPU, KindRAM, KindInterfaceTraffic}, a.Spikes)
	require.ElementsMatch(t, []string{"eth0", "eth1"}, a.Interfaces)
}

func TestDeriveAlertNoSpikes(t *testing.T) {
	r := New("dev001", "task001")
	r.AddMeasurement(KindCPU, 80.4)
	r.AddMeasurement(KindRAM, 65.3)

	thresholds := map[byte]int{KindCPU: 90, KindRAM: 85}
	a, err := DeriveAlert(r, thresholds)
	require.NoError(t, err)
	require.Nil(t, a)
}

func TestDeriveAlertEmptyReport(t *testing.T) {
	r := New("dev002", "task002")
	a, err := DeriveAlert(r, map[byte]int{KindCPU: 70})
	require.NoError(t, err)
	require.Nil(t, a)
}

func TestDeriveAlertPartialInterfaceSpike(t *testing.T) {
	r := New("dev001", "task001")
	r.AddInterfaceMeasurement(map[string]float64{"eth0": 1200.3, "eth1": 800.1})

	a, err := DeriveAlert(r, map[byte]int{KindInterfaceTraffic: 1000})
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, []byte{KindInterfaceTraffic}, a.Spikes)
	require.Equal(t, []string{"eth0"}, a.Interfaces)
}

func TestNewAlertTrafficWithoutInterfaces(t *testing.T) {
	_, err := NewAlert("d", "t", []byte{KindInterfaceTraffic}, nil)
	require.ErrorIs(t, err, ErrTrafficAlertWithoutInterfaces)
}

func TestAlertRoundTrip(t *testing.T) {
	a, err := NewAlert("device456", "task002", []byte{KindCPU, KindInterfaceTraffic}, []string{"eth0", "eth1"})
	require.NoError(t, err)

	encoded, err := a.Serialize()
	require.NoError(t, err)

	decoded, err := DeserializeAlert(encoded)
	require.NoError(t, err)
	if diff := cmp.Diff(a, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
