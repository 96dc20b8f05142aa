package metrics

import (
	"context"
	"sync"
	"time"
)

// FakeProvider is a deterministic, in-memory Provider for tests. Counters
// advance by CounterStep each time InterfaceCounters is called, simulating
// steady traffic without needing a real clock or NIC.
type FakeProvider struct {
	mu sync.Mutex

	CPU        float64
	RAM        float64
	IfaceNames []string
	CounterStep uint64

	counters map[string]uint64
}

// NewFakeProvider returns a FakeProvider seeded with the given interfaces.
func NewFakeProvider(ifaces ...string) *FakeProvider {
	return &FakeProvider{IfaceNames: ifaces, counters: map[string]uint64{}}
}

func (f *FakeProvider) CPUPercent(ctx context.Context, over time.Duration) (float64, error) {
	return f.CPU, nil
}

func (f *FakeProvider) RAMPercent(ctx context.Context) (float64, error) {
	return f.RAM, nil
}

func (f *FakeProvider) Interfaces(ctx context.Context) ([]string, error) {
	return f.IfaceNames, nil
}

func (f *FakeProvider) InterfaceCounters(ctx context.Context, names []string) (map[string]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]uint64, len(names))
	for _, n := range names {
		f.counters[n] += f.CounterStep
		out[n] = f.counters[n]
	}
	return out, nil
}
