// Package metrics abstracts host measurement collection behind Provider so
// the task runner can be tested without touching the real machine.
package metrics

import (
	"context"
	"time"
)

// Provider collects the host measurements a Task can ask for.
type Provider interface {
	// CPUPercent blocks for `over` and returns the average CPU utilization
	// percentage across that whole interval (original: psutil.cpu_percent
	// with interval=report_frequency).
	CPUPercent(ctx context.Context, over time.Duration) (float64, error)

	// RAMPercent returns the instantaneous memory utilization percentage
	// (original: psutil.virtual_memory().percent).
	RAMPercent(ctx context.Context) (float64, error)

	// Interfaces lists the names of network interfaces visible on the host.
	Interfaces(ctx context.Context) ([]string, error)

	// InterfaceCounters returns cumulative packet counts (sent+received)
	// for the named interfaces. Callers compute a rate by taking the
	// delta between two calls over a known elapsed time.
	InterfaceCounters(ctx context.Context, names []string) (map[string]uint64, error)
}
