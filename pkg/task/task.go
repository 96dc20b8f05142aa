// Package task implements the task model: the immutable
// measurement-assignment structure distributed from server to agent, its
// JSON configuration shape, and the alert-threshold extraction rule.
package task

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Task describes one periodic measurement job assigned to a device.
// Immutable after distribution to a device.
type Task struct {
	TaskID          string
	ReportFrequency int // seconds, >= 1

	MeasureCPU bool
	MeasureRAM bool
	Interfaces []string // non-empty iff interface measurement enabled

	IperfMeasureThroughput  bool
	IperfMeasureJitter      bool
	IperfMeasurePacketLoss  bool
	PingMeasureLatency      bool
	IperfAsServer           bool
	IperfOptions            *string
	PingOptions             *string

	AlertCPUPercent        *int
	AlertRAMPercent        *int
	AlertInterfacePPS      *int
	AlertPacketLossPercent *int
	AlertJitterMs          *int
	AlertLatencyMs         *int
}

// MeasuresInterfaces reports whether this task has any interface measurement
// enabled.
func (t *Task) MeasuresInterfaces() bool {
	return len(t.Interfaces) > 0
}

// Thresholds is the active set of alert thresholds extracted from a Task,
// keyed by measurement kind code ('c' CPU, 'r' RAM, 't' interface traffic).
// A kind is present only if its measurement is enabled AND
// its threshold value is present; interface thresholds additionally require
// a non-empty interface list.
type Thresholds map[byte]int

// ActiveThresholds extracts the thresholds that currently apply.
func (t *Task) ActiveThresholds() Thresholds {
	th := Thresholds{}
	if t.MeasureCPU && t.AlertCPUPercent != nil {
		th['c'] = *t.AlertCPUPercent
	}
	if t.MeasureRAM && t.AlertRAMPercent != nil {
		th['r'] = *t.AlertRAMPercent
	}
	if t.MeasuresInterfaces() && t.AlertInterfacePPS != nil {
		th['t'] = *t.AlertInterfacePPS
	}
	return th
}

// wireTask mirrors the original's compact msgpack keys so the payload stays
// self-describing and small.
type wireTask struct {
	TaskID          string `msgpack:"ti"`
	ReportFrequency int    `msgpack:"rf"`

	CPU [2]interface{} `msgpack:"c"` // [measure_cpu, alert_cpu_percent]
	RAM [2]interface{} `msgpack:"r"` // [measure_ram, alert_ram_percent]
	Iface [2]interface{} `msgpack:"t"` // [interfaces, alert_interface_pps]

	IperfThroughput bool           `msgpack:"b"`
	IperfJitter     [2]interface{} `msgpack:"j"` // [measure_jitter, alert_jitter_ms]
	IperfLoss       [2]interface{} `msgpack:"p"` // [measure_loss, alert_loss_percent]
	PingLatency     [2]interface{} `msgpack:"l"` // [measure_latency, alert_latency_ms]

	IperfAsServer bool    `msgpack:"s"`
	IperfOptions  *string `msgpack:"oi"`
	PingOptions   *string `msgpack:"op"`
}

func intOrNil(v interface{}) *int {
	switch n := v.(type) {
	case nil:
		return nil
	case int:
		return &n
	case int8:
		i := int(n)
		return &i
	case int16:
		i := int(n)
		return &i
	case int32:
		i := int(n)
		return &i
	case int64:
		i := int(n)
		return &i
	case uint8:
		i := int(n)
		return &i
	case uint16:
		i := int(n)
		return &i
	case uint32:
		i := int(n)
		return &i
	case uint64:
		i := int(n)
		return &i
	default:
		return nil
	}
}

func ifacesOf(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// Serialize encodes t into msgpack bytes. Compression/transport framing is
// the caller's concern (the control-message envelope compresses the whole
// Message payload, of which this is one possible member).
func (t *Task) Serialize() ([]byte, error) {
	intOrNilToIface := func(p *int) interface{} {
		if p == nil {
			return nil
		}
		return *p
	}
	w := wireTask{
		TaskID:          t.TaskID,
		ReportFrequency: t.ReportFrequency,
		CPU:             [2]interface{}{t.MeasureCPU, intOrNilToIface(t.AlertCPUPercent)},
		RAM:             [2]interface{}{t.MeasureRAM, intOrNilToIface(t.AlertRAMPercent)},
		Iface:           [2]interface{}{t.Interfaces, intOrNilToIface(t.AlertInterfacePPS)},
		IperfThroughput: t.IperfMeasureThroughput,
		IperfJitter:     [2]interface{}{t.IperfMeasureJitter, intOrNilToIface(t.AlertJitterMs)},
		IperfLoss:       [2]interface{}{t.IperfMeasurePacketLoss, intOrNilToIface(t.AlertPacketLossPercent)},
		PingLatency:     [2]interface{}{t.PingMeasureLatency, intOrNilToIface(t.AlertLatencyMs)},
		IperfAsServer:   t.IperfAsServer,
		IperfOptions:    t.IperfOptions,
		PingOptions:     t.PingOptions,
	}
	return msgpack.Marshal(&w)
}

// Deserialize reverses Serialize.
func Deserialize(data []byte) (*Task, error) {
	var w wireTask
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	measureBool := func(v interface{}) bool {
		b, _ := v.(bool)
		return b
	}
	return &Task{
		TaskID:                 w.TaskID,
		ReportFrequency:        w.ReportFrequency,
		MeasureCPU:             measureBool(w.CPU[0]),
		AlertCPUPercent:        intOrNil(w.CPU[1]),
		MeasureRAM:             measureBool(w.RAM[0]),
		AlertRAMPercent:        intOrNil(w.RAM[1]),
		Interfaces:             ifacesOf(w.Iface[0]),
		AlertInterfacePPS:      intOrNil(w.Iface[1]),
		IperfMeasureThroughput: w.IperfThroughput,
		IperfMeasureJitter:     measureBool(w.IperfJitter[0]),
		AlertJitterMs:          intOrNil(w.IperfJitter[1]),
		IperfMeasurePacketLoss: measureBool(w.IperfLoss[0]),
		AlertPacketLossPercent: intOrNil(w.IperfLoss[1]),
		PingMeasureLatency:     measureBool(w.PingLatency[0]),
		AlertLatencyMs:         intOrNil(w.PingLatency[1]),
		IperfAsServer:          w.IperfAsServer,
		IperfOptions:           w.IperfOptions,
		PingOptions:            w.PingOptions,
	}, nil
}
