// Package filesink implements logsink.Sink on top of one JSON file per
// (device, task) pair, using a read-modify-write append on every write.
package filesink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nettaskd/pkg/report"
)

// measureLabels mirrors measure_labels in nettask_report.go: the report
// JSON's keys are human names, not the internal kind codes.
var measureLabels = map[byte]string{
	report.KindCPU:             "CPU",
	report.KindRAM:             "RAM",
	report.KindInterfaceTraffic: "Interface Traffic",
}

var spikeNames = map[byte]string{
	report.KindCPU:             "CPU",
	report.KindRAM:             "RAM",
	report.KindInterfaceTraffic: "IFACE_TRAFFIC",
	'b':                        "THROUGHPUT",
	'p':                        "PACKET_LOSS",
	'j':                        "JITTER",
}

// FileSink writes reports under baseDir/<deviceID>/<taskID>.json and alerts
// under baseDir/<deviceID>/<taskID>spikes.json. One mutex per device
// directory keeps concurrent appends from the same device's tasks from
// racing on disk; different devices proceed independently.
type FileSink struct {
	baseDir string

	mu     sync.Mutex
	dirMus map[string]*sync.Mutex
}

// New returns a FileSink rooted at baseDir, creating it if necessary.
func New(baseDir string) (*FileSink, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("filesink: create base dir: %w", err)
	}
	return &FileSink{baseDir: baseDir, dirMus: map[string]*sync.Mutex{}}, nil
}

func (s *FileSink) lockFor(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.dirMus[deviceID]
	if !ok {
		m = &sync.Mutex{}
		s.dirMus[deviceID] = m
	}
	return m
}

// PrepareDevice creates the device's directory and empty report/spike files
// for each of its tasks, matching Server.create_logfiles.
func (s *FileSink) PrepareDevice(deviceID string, taskIDs []string) error {
	deviceDir := filepath.Join(s.baseDir, deviceID)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		return fmt.Errorf("filesink: create device dir: %w", err)
	}
	for _, taskID := range taskIDs {
		if err := writeJSONIfAbsent(filepath.Join(deviceDir, taskID+".json")); err != nil {
			return err
		}
		if err := writeJSONIfAbsent(filepath.Join(deviceDir, taskID+"spikes.json")); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONIfAbsent(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte("{}"), 0o644)
}

// AppendReport implements logsink.Sink.
func (s *FileSink) AppendReport(deviceID, taskID string, rep *report.Report) error {
	lock := s.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	deviceDir := filepath.Join(s.baseDir, deviceID)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		return fmt.Errorf("filesink: create device dir: %w", err)
	}
	path := filepath.Join(deviceDir, taskID+".json")

	existing, err := readJSONObject(path)
	if err != nil {
		return err
	}
	existing[timestampKey()] = reportToDict(rep)
	return writeJSONObject(path, existing)
}

// AppendAlert implements logsink.Sink.
func (s *FileSink) AppendAlert(deviceID, taskID string, alert *report.Alert) error {
	lock := s.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	deviceDir := filepath.Join(s.baseDir, deviceID)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		return fmt.Errorf("filesink: create device dir: %w", err)
	}
	path := filepath.Join(deviceDir, taskID+"spikes.json")

	existing, err := readJSONObject(path)
	if err != nil {
		return err
	}
	existing[timestampKey()] = alertToDict(alert)
	return writeJSONObject(path, existing)
}

func timestampKey() string {
	return time.Now().Format("2006-01-02 15:04:05.000000")
}

func reportToDict(rep *report.Report) map[string]interface{} {
	out := map[string]interface{}{
		"device_id": rep.DeviceID,
		"task_id":   rep.TaskID,
	}
	for _, kind := range []byte{report.KindCPU, report.KindRAM} {
		if v, ok := rep.Scalars[kind]; ok {
			out[measureLabels[kind]] = v
		}
	}
	if rep.Interfaces != nil {
		out[measureLabels[report.KindInterfaceTraffic]] = rep.Interfaces
	}
	return out
}

func alertToDict(alert *report.Alert) map[string]interface{} {
	spikes := make([]string, 0, len(alert.Spikes))
	for _, s := range alert.Spikes {
		if name, ok := spikeNames[s]; ok {
			spikes = append(spikes, name)
		}
	}
	out := map[string]interface{}{
		"device_id": alert.DeviceID,
		"task_id":   alert.TaskID,
		"spikes":    spikes,
	}
	if len(alert.Interfaces) > 0 {
		out["interfaces"] = alert.Interfaces
	}
	return out
}

func readJSONObject(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("filesink: read %s: %w", path, err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]interface{}{}, nil
	}
	return out, nil
}

func writeJSONObject(path string, data map[string]interface{}) error {
	encoded, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return fmt.Errorf("filesink: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("filesink: write %s: %w", path, err)
	}
	return nil
}
