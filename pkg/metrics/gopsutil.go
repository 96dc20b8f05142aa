package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// GopsutilProvider implements Provider on top of shirou/gopsutil, the Go
// analogue of the original's psutil calls.
type GopsutilProvider struct{}

// NewGopsutilProvider returns a Provider backed by the real host.
func NewGopsutilProvider() *GopsutilProvider { return &GopsutilProvider{} }

// CPUPercent blocks for the whole interval, matching
// psutil.cpu_percent(interval=duration).
func (GopsutilProvider) CPUPercent(ctx context.Context, over time.Duration) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, over, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// RAMPercent returns the instantaneous utilization percentage.
func (GopsutilProvider) RAMPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Interfaces lists every interface gopsutil can see counters for.
func (GopsutilProvider) Interfaces(ctx context.Context) ([]string, error) {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(counters))
	for _, c := range counters {
		names = append(names, c.Name)
	}
	return names, nil
}

// InterfaceCounters returns packets_recv+packets_sent per requested
// interface, matching ifaces_traffic's get_current_traffic.
func (GopsutilProvider) InterfaceCounters(ctx context.Context, names []string) (map[string]uint64, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(names))
	for _, c := range counters {
		if wanted[c.Name] {
			out[c.Name] = c.PacketsRecv + c.PacketsSent
		}
	}
	return out, nil
}
