package filesink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nettaskd/pkg/report"
)

func TestPrepareDeviceCreatesEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, sink.PrepareDevice("r1", []string{"t1"}))

	data, err := os.ReadFile(filepath.Join(dir, "r1", "t1.json"))
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "r1", "t1spikes.json"))
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(data))
}

func TestAppendReportAccumulates(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)

	r1 := report.New("r1", "t1")
	r1.AddMeasurement(report.KindCPU, 80)
	require.NoError(t, sink.AppendReport("r1", "t1", r1))

	r2 := report.New("r1", "t1")
	r2.AddMeasurement(report.KindCPU, 85)
	require.NoError(t, sink.AppendReport("r1", "t1", r2))

	data, err := os.ReadFile(filepath.Join(dir, "r1", "t1.json"))
	require.NoError(t, err)
	var parsed map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Len(t, parsed, 2, "two appends should produce two timestamp-keyed entries")
	for _, entry := range parsed {
		require.Equal(t, "r1", entry["device_id"])
		require.Equal(t, "t1", entry["task_id"])
	}
}

func TestAppendAlertIncludesInterfaces(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)

	alert, err := report.NewAlert("r1", "t1", []byte{report.KindInterfaceTraffic}, []string{"eth0"})
	require.NoError(t, err)
	require.NoError(t, sink.AppendAlert("r1", "t1", alert))

	data, err := os.ReadFile(filepath.Join(dir, "r1", "t1spikes.json"))
	require.NoError(t, err)
	var parsed map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Len(t, parsed, 1)
	for _, entry := range parsed {
		require.Equal(t, []interface{}{"eth0"}, entry["interfaces"])
	}
}
