// Package config loads the server's JSON task assignment file and builds
// the device/task lookup indices.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"nettaskd/pkg/task"
)

// ErrConfig wraps any failure to load or validate a config file.
var ErrConfig = errors.New("config: invalid configuration")

// TaskEntry is one task definition as it appears in the JSON file, carrying
// the device list that nettaskd/pkg/task.Task itself does not.
type TaskEntry struct {
	TaskID                 string   `json:"taskID"`
	ReportFrequency        int      `json:"report_frequency"`
	Devices                []string `json:"devices"`
	MeasureCPU             bool     `json:"measure_cpu"`
	MeasureRAM             bool     `json:"measure_ram"`
	DeviceInterfaces       []string `json:"device_interfaces"`
	IperfMeasureThroughput bool     `json:"iperf_measure_throughput"`
	IperfMeasureJitter     bool     `json:"iperf_measure_jitter"`
	IperfMeasurePacketLoss bool     `json:"iperf_measure_packet_loss"`
	PingMeasureLatency     bool     `json:"ping_measure_latency"`
	IperfAsServer          bool     `json:"iperf_as_server"`
	IperfOptions           *string  `json:"iperf_options"`
	PingOptions            *string  `json:"ping_options"`
	AlertflowCPUPercent        *int `json:"alertflow_cpu_percent"`
	AlertflowRAMPercent        *int `json:"alertflow_ram_percent"`
	AlertflowInterfacePPS      *int `json:"alertflow_interface_pps"`
	AlertflowPacketLossPercent *int `json:"alertflow_packetloss_percent"`
	AlertflowJitterMs          *int `json:"alertflow_jitter_ms"`
	AlertflowLatencyMs         *int `json:"alertflow_latency_ms"`
}

// File is the raw shape of the configuration JSON: a flat list of tasks,
// each carrying its own device assignment list.
type File struct {
	Tasks []TaskEntry `json:"tasks"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "read %s: %v", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(ErrConfig, "parse %s: %v", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	seen := map[string]bool{}
	for _, t := range f.Tasks {
		if t.TaskID == "" {
			return errors.Wrap(ErrConfig, "task with empty taskID")
		}
		if seen[t.TaskID] {
			return errors.Wrapf(ErrConfig, "duplicate taskID %q", t.TaskID)
		}
		seen[t.TaskID] = true
		if t.ReportFrequency < 1 {
			return errors.Wrapf(ErrConfig, "task %q: report_frequency must be >= 1", t.TaskID)
		}
		if len(t.Devices) == 0 {
			return errors.Wrapf(ErrConfig, "task %q: no devices assigned", t.TaskID)
		}
	}
	return nil
}

func (e *TaskEntry) toTask() *task.Task {
	return &task.Task{
		TaskID:                 e.TaskID,
		ReportFrequency:        e.ReportFrequency,
		MeasureCPU:             e.MeasureCPU,
		MeasureRAM:             e.MeasureRAM,
		Interfaces:             e.DeviceInterfaces,
		IperfMeasureThroughput: e.IperfMeasureThroughput,
		IperfMeasureJitter:     e.IperfMeasureJitter,
		IperfMeasurePacketLoss: e.IperfMeasurePacketLoss,
		PingMeasureLatency:     e.PingMeasureLatency,
		IperfAsServer:          e.IperfAsServer,
		IperfOptions:           e.IperfOptions,
		PingOptions:            e.PingOptions,
		AlertCPUPercent:        e.AlertflowCPUPercent,
		AlertRAMPercent:        e.AlertflowRAMPercent,
		AlertInterfacePPS:      e.AlertflowInterfacePPS,
		AlertPacketLossPercent: e.AlertflowPacketLossPercent,
		AlertJitterMs:          e.AlertflowJitterMs,
		AlertLatencyMs:         e.AlertflowLatencyMs,
	}
}

// Index is the pair of lookup maps the server needs at runtime: which tasks
// are assigned to a device, and the Task definitions themselves.
type Index struct {
	DeviceToTasks map[string][]string
	Tasks         map[string]*task.Task
}

// Index builds the device→taskIDs and taskID→Task maps from the flat file,
// matching Server.load_config's two dictionaries (task_to_devices is
// derivable from DeviceToTasks and is not kept separately since nothing in
// this package's callers needs it).
func (f *File) Index() *Index {
	idx := &Index{
		DeviceToTasks: map[string][]string{},
		Tasks:         map[string]*task.Task{},
	}
	for _, entry := range f.Tasks {
		idx.Tasks[entry.TaskID] = entry.toTask()
		for _, device := range entry.Devices {
			idx.DeviceToTasks[device] = append(idx.DeviceToTasks[device], entry.TaskID)
		}
	}
	return idx
}

// TasksFor returns the Task definitions assigned to deviceID.
func (idx *Index) TasksFor(deviceID string) map[string]*task.Task {
	out := map[string]*task.Task{}
	for _, taskID := range idx.DeviceToTasks[deviceID] {
		if t, ok := idx.Tasks[taskID]; ok {
			out[taskID] = t
		}
	}
	return out
}
