// Package runner implements the per-(device,task) measurement cycle. Each
// cycle's samplers run in parallel; cycles themselves run strictly one
// after another so a slow cycle never overlaps the next.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"

	"nettaskd/pkg/metrics"
	"nettaskd/pkg/report"
	"nettaskd/pkg/task"
)

// ErrInterfaceUnavailable is wrapped into the warning New logs for each
// interface a Task requests that Provider.Interfaces does not list on the
// local host.
var ErrInterfaceUnavailable = errors.New("runner: requested interface unavailable locally")

// Sink receives each cycle's Report and, if the cycle's measurements
// crossed an alert threshold, the derived Alert (nil otherwise).
type Sink func(ctx context.Context, rep *report.Report, alert *report.Alert)

// Runner drives one Task's repeating measurement cycle for one device.
type Runner struct {
	deviceID string
	task     *task.Task
	provider metrics.Provider
	sink     Sink
}

// New checks the task's interface list against the host's actual
// interfaces, drops the missing ones (logging a warning for each) and builds
// a Runner over the rest. It does not start the cycle; call Run for that.
func New(ctx context.Context, deviceID string, t *task.Task, provider metrics.Provider, sink Sink) (*Runner, error) {
	if t.MeasuresInterfaces() {
		available, err := provider.Interfaces(ctx)
		if err != nil {
			return nil, fmt.Errorf("runner: list interfaces: %w", err)
		}
		known := make(map[string]bool, len(available))
		for _, name := range available {
			known[name] = true
		}
		var present []string
		for _, want := range t.Interfaces {
			if known[want] {
				present = append(present, want)
				continue
			}
			dlog.Warnf(ctx, "runner: %v: task %s, interface %s", ErrInterfaceUnavailable, t.TaskID, want)
		}
		if len(present) < len(t.Interfaces) {
			narrowed := *t
			narrowed.Interfaces = present
			t = &narrowed
		}
	}
	return &Runner{deviceID: deviceID, task: t, provider: provider, sink: sink}, nil
}

// Run drives cycles until ctx is cancelled. Each cycle samples everything
// the task asks for (in parallel goroutines, joined before the cycle
// completes), evaluates the alert thresholds, and hands the result to sink.
func (r *Runner) Run(ctx context.Context) error {
	dlog.Infof(ctx, "runner: task %s is now running", r.task.TaskID)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rep, err := r.runCycleOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			dlog.Errorf(ctx, "runner: task %s cycle failed: %v", r.task.TaskID, err)
			continue
		}
		alert, err := report.DeriveAlert(rep, r.task.ActiveThresholds())
		if err != nil {
			dlog.Errorf(ctx, "runner: task %s alert derivation failed: %v", r.task.TaskID, err)
			alert = nil
		}
		r.sink(ctx, rep, alert)
	}
}

func (r *Runner) runCycleOnce(ctx context.Context) (*report.Report, error) {
	rep := report.New(r.deviceID, r.task.TaskID)
	duration := time.Duration(r.task.ReportFrequency) * time.Second

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error
	recordErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = multierror.Append(errs, err)
	}

	if r.task.MeasureCPU {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pct, err := r.provider.CPUPercent(ctx, duration)
			if err != nil {
				recordErr(fmt.Errorf("cpu: %w", err))
				return
			}
			mu.Lock()
			rep.AddMeasurement(report.KindCPU, pct)
			mu.Unlock()
		}()
	}

	if r.task.MeasureRAM {
		wg.Add(1)
		go func() {
			defer wg.Done()
			avg, err := r.averageRAM(ctx)
			if err != nil {
				recordErr(fmt.Errorf("ram: %w", err))
				return
			}
			mu.Lock()
			rep.AddMeasurement(report.KindRAM, roundToTenth(avg))
			mu.Unlock()
		}()
	}

	if r.task.MeasuresInterfaces() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rates, err := r.interfaceRates(ctx, duration)
			if err != nil {
				recordErr(fmt.Errorf("interfaces: %w", err))
				return
			}
			mu.Lock()
			rep.AddInterfaceMeasurement(rates)
			mu.Unlock()
		}()
	}

	wg.Wait()
	if errs.ErrorOrNil() != nil {
		return nil, errs.ErrorOrNil()
	}
	return rep, nil
}

// averageRAM samples RAM percent once per second across the cycle duration
// and averages, matching mem_load's per-second sampling loop.
func (r *Runner) averageRAM(ctx context.Context) (float64, error) {
	seconds := r.task.ReportFrequency
	if seconds < 1 {
		seconds = 1
	}
	var sum float64
	for i := 0; i < seconds; i++ {
		pct, err := r.provider.RAMPercent(ctx)
		if err != nil {
			return 0, err
		}
		sum += pct
		if i < seconds-1 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	return sum / float64(seconds), nil
}

// interfaceRates samples counters, sleeps the cycle duration, samples again,
// and returns the per-second packet rate delta for each interface, rounded
// to one decimal.
func (r *Runner) interfaceRates(ctx context.Context, duration time.Duration) (map[string]float64, error) {
	initial, err := r.provider.InterfaceCounters(ctx, r.task.Interfaces)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(duration):
	}
	final, err := r.provider.InterfaceCounters(ctx, r.task.Interfaces)
	if err != nil {
		return nil, err
	}

	secs := duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	rates := make(map[string]float64, len(initial))
	for iface, before := range initial {
		after := final[iface]
		rates[iface] = roundToTenth(float64(after-before) / secs)
	}
	return rates, nil
}

// roundToTenth rounds v to one decimal place, matching the original's
// round(value, 1) for RAM and interface-traffic measurements.
func roundToTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
