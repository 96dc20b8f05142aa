// Package report implements the measurement Report and the spike Alert
// derived from it.
package report

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Measurement kind codes, shared with pkg/task's threshold keys.
const (
	KindCPU             = 'c'
	KindRAM             = 'r'
	KindInterfaceTraffic = 't'
)

// Report is one cycle's worth of measurements for a (device, task) pair.
type Report struct {
	DeviceID string
	TaskID   string

	// Scalars holds values keyed by kind code ('c','r'). CPU is an
	// unrounded percentage; RAM is rounded to one decimal.
	Scalars map[byte]float64
	// Interfaces holds per-interface packet rates, rounded to one decimal,
	// when KindInterfaceTraffic was measured this cycle. Deep-copied on
	// AddInterfaceMeasurement so a caller's subsequent mutation of the
	// source map cannot corrupt a Report already handed off for alert
	// evaluation.
	Interfaces map[string]float64
}

// New builds an empty Report ready for AddMeasurement calls.
func New(deviceID, taskID string) *Report {
	return &Report{DeviceID: deviceID, TaskID: taskID, Scalars: map[byte]float64{}}
}

// AddMeasurement records a scalar measurement (CPU or RAM percent).
func (r *Report) AddMeasurement(kind byte, value float64) {
	r.Scalars[kind] = value
}

// AddInterfaceMeasurement records the per-interface packet rates for this
// cycle, deep-copying the map so later mutation of src has no effect here.
func (r *Report) AddInterfaceMeasurement(src map[string]float64) {
	cp := make(map[string]float64, len(src))
	for k, v := range src {
		cp[k] = v
	}
	r.Interfaces = cp
}

type wireReport struct {
	DeviceID string         `msgpack:"di"`
	TaskID   string         `msgpack:"ti"`
	Measurements map[string]interface{} `msgpack:"m"`
}

// Serialize encodes r into compressed msgpack bytes.
func (r *Report) Serialize() ([]byte, error) {
	m := map[string]interface{}{}
	for k, v := range r.Scalars {
		m[string(k)] = v
	}
	if r.Interfaces != nil {
		m[string(rune(KindInterfaceTraffic))] = r.Interfaces
	}
	w := wireReport{DeviceID: r.DeviceID, TaskID: r.TaskID, Measurements: m}
	packed, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, err
	}
	return compress(packed)
}

// Deserialize reverses Serialize.
func Deserialize(data []byte) (*Report, error) {
	packed, err := decompress(data)
	if err != nil {
		return nil, err
	}
	var w wireReport
	if err := msgpack.Unmarshal(packed, &w); err != nil {
		return nil, err
	}
	r := New(w.DeviceID, w.TaskID)
	for k, v := range w.Measurements {
		if len(k) != 1 {
			continue
		}
		kind := k[0]
		if kind == KindInterfaceTraffic {
			r.Interfaces = toFloatMap(v)
			continue
		}
		if n, ok := toFloat(v); ok {
			r.Scalars[kind] = n
		}
	}
	return r, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toFloatMap(v interface{}) map[string]float64 {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, raw := range m {
		if n, ok := toFloat(raw); ok {
			out[k] = n
		}
	}
	return out
}
