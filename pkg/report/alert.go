package report

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrTrafficAlertWithoutInterfaces is returned by NewAlert when the
// interface-traffic spike kind is present but no interfaces are given,
// mirroring the ValueError raised by the Python AlertFlow_Report
// constructor.
var ErrTrafficAlertWithoutInterfaces = errors.New("report: traffic spike alert without interfaces")

// Alert is the spike notification sent over the AlertFlow channel when a
// Report's measurements cross a Task's alert thresholds.
type Alert struct {
	DeviceID   string
	TaskID     string
	Spikes     []byte // kind codes, e.g. 'c', 'r', 't'
	Interfaces []string
}

// NewAlert validates and builds an Alert. It fails only when the traffic
// spike kind is included without interfaces to blame.
func NewAlert(deviceID, taskID string, spikes []byte, interfaces []string) (*Alert, error) {
	hasTraffic := false
	for _, s := range spikes {
		if s == KindInterfaceTraffic {
			hasTraffic = true
		}
	}
	if hasTraffic && len(interfaces) == 0 {
		return nil, fmt.Errorf("%w: %s-%s", ErrTrafficAlertWithoutInterfaces, deviceID, taskID)
	}
	return &Alert{DeviceID: deviceID, TaskID: taskID, Spikes: spikes, Interfaces: interfaces}, nil
}

// DeriveAlert implements attempt_alertflow_report: given a Report and the
// active alert thresholds for its task (pkg/task.Thresholds), it returns an
// Alert if any measurement meets or exceeds its threshold, or nil if none
// does. A threshold absent from the map is treated as +infinity (no spike
// possible for that kind).
func DeriveAlert(r *Report, thresholds map[byte]int) (*Alert, error) {
	var spikes []byte
	for _, kind := range []byte{KindCPU, KindRAM} {
		value, present := r.Scalars[kind]
		if !present {
			continue
		}
		threshold, hasThreshold := thresholds[kind]
		if hasThreshold && value >= float64(threshold) {
			spikes = append(spikes, kind)
		}
	}

	var spikedIfaces []string
	if threshold, hasThreshold := thresholds[KindInterfaceTraffic]; hasThreshold {
		for iface, rate := range r.Interfaces {
			if rate >= float64(threshold) {
				spikedIfaces = append(spikedIfaces, iface)
			}
		}
	}
	if len(spikedIfaces) > 0 {
		spikes = append(spikes, KindInterfaceTraffic)
	}

	if len(spikes) == 0 {
		return nil, nil
	}
	return NewAlert(r.DeviceID, r.TaskID, spikes, spikedIfaces)
}

type wireAlert struct {
	DeviceID   string   `msgpack:"di"`
	TaskID     string   `msgpack:"ti"`
	Spikes     []byte   `msgpack:"s"`
	Interfaces []string `msgpack:"i,omitempty"`
}

// Serialize encodes a into compressed msgpack bytes.
func (a *Alert) Serialize() ([]byte, error) {
	w := wireAlert{DeviceID: a.DeviceID, TaskID: a.TaskID, Spikes: a.Spikes, Interfaces: a.Interfaces}
	packed, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, err
	}
	return compress(packed)
}

// DeserializeAlert reverses Serialize.
func DeserializeAlert(data []byte) (*Alert, error) {
	packed, err := decompress(data)
	if err != nil {
		return nil, err
	}
	var w wireAlert
	if err := msgpack.Unmarshal(packed, &w); err != nil {
		return nil, err
	}
	return &Alert{DeviceID: w.DeviceID, TaskID: w.TaskID, Spikes: w.Spikes, Interfaces: w.Interfaces}, nil
}
