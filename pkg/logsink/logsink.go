// Package logsink persists reports and alerts to disk: one JSON object per
// (device, task), keyed by timestamp, read-modify-written on every append.
package logsink

import (
	"nettaskd/pkg/report"
)

// Sink is the destination for a device's measurement reports and spike
// alerts.
type Sink interface {
	AppendReport(deviceID, taskID string, rep *report.Report) error
	AppendAlert(deviceID, taskID string, alert *report.Alert) error
}
