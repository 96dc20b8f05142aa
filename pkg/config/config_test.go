package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "tasks": [
    {
      "taskID": "t1",
      "report_frequency": 5,
      "devices": ["r1", "r2"],
      "measure_cpu": true,
      "alertflow_cpu_percent": 90
    },
    {
      "taskID": "t2",
      "report_frequency": 10,
      "devices": ["r1"],
      "measure_ram": true,
      "device_interfaces": ["eth0"],
      "alertflow_interface_pps": 1500
    }
  ]
}`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAndIndex(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Tasks, 2)

	idx := f.Index()
	require.ElementsMatch(t, []string{"t1", "t2"}, idx.DeviceToTasks["r1"])
	require.ElementsMatch(t, []string{"t1"}, idx.DeviceToTasks["r2"])

	r1Tasks := idx.TasksFor("r1")
	require.Len(t, r1Tasks, 2)
	require.True(t, r1Tasks["t1"].MeasureCPU)
	require.Equal(t, 90, *r1Tasks["t1"].AlertCPUPercent)
}

func TestLoadRejectsDuplicateTaskID(t *testing.T) {
	path := writeTemp(t, `{"tasks":[
		{"taskID":"t1","report_frequency":5,"devices":["r1"]},
		{"taskID":"t1","report_frequency":5,"devices":["r2"]}
	]}`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfig)
}

func TestLoadRejectsMissingDevices(t *testing.T) {
	path := writeTemp(t, `{"tasks":[{"taskID":"t1","report_frequency":5,"devices":[]}]}`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfig)
}

func TestLoadRejectsBadFrequency(t *testing.T) {
	path := writeTemp(t, `{"tasks":[{"taskID":"t1","report_frequency":0,"devices":["r1"]}]}`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfig)
}
