// Package agent implements the NetTask/AlertFlow agent state machine:
// handshake with the server, identify by deviceID, receive the assigned
// tasks, connect the AlertFlow channel, run every task's measurement cycle,
// and stream reports and alerts back.
package agent

import (
	"context"
	"fmt"
	"net"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"nettaskd/pkg/alertflow"
	"nettaskd/pkg/metrics"
	"nettaskd/pkg/nettask"
	"nettaskd/pkg/ports"
	"nettaskd/pkg/report"
	"nettaskd/pkg/runner"
	"nettaskd/pkg/task"
	"nettaskd/pkg/wire"
)

// Run drives the whole agent lifecycle until ctx is cancelled. serverHost is
// the server's well-known address; localPort 0 lets the OS assign the
// agent's own ephemeral port.
func Run(ctx context.Context, serverHost, deviceID string, localPort int) error {
	localAddr, err := localAddrTo(serverHost)
	if err != nil {
		return fmt.Errorf("agent: determine local address: %w", err)
	}

	ep, err := nettask.NewEndpoint(localAddr, localPort, nil, 0)
	if err != nil {
		return fmt.Errorf("agent: bind nettask endpoint: %w", err)
	}
	defer ep.Close()

	serverAddr := wire.Location{Addr: serverHost, Port: ports.WellKnownPort}

	dlog.Infof(ctx, "agent %s: handshaking with %s", deviceID, serverAddr)
	synack, err := ep.SendAndWaitAck(ctx, serverAddr, wire.Flags{Syn: true}, nil, nil)
	if err != nil {
		return fmt.Errorf("agent: handshake: %w", err)
	}
	// The synack arrives from the worker's own ephemeral port, not the
	// well-known port; all further traffic goes there.
	workerAddr := wire.Location{Addr: synack.Origin.Addr, Port: synack.Origin.Port}
	dlog.Infof(ctx, "agent %s: assigned worker at %s", deviceID, workerAddr)

	if err := identify(ctx, ep, workerAddr, deviceID); err != nil {
		return fmt.Errorf("agent: identify: %w", err)
	}

	tasks, err := receiveTasks(ctx, ep, workerAddr)
	if err != nil {
		return fmt.Errorf("agent: receive tasks: %w", err)
	}
	dlog.Infof(ctx, "agent %s: received %d task(s)", deviceID, len(tasks))

	afConn, err := alertflow.Dial(localAddr, ep.LocalPort(), workerAddr.Addr, workerAddr.Port)
	if err != nil {
		return fmt.Errorf("agent: connect alertflow: %w", err)
	}
	defer afConn.Close()

	provider := metrics.NewGopsutilProvider()
	reportsCh := make(chan *report.Report, 64)
	alertsCh := make(chan *report.Alert, 64)

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})

	g.Go("reports-sender", func(ctx context.Context) error {
		return sendReports(ctx, ep, workerAddr, deviceID, reportsCh)
	})
	g.Go("alertflow-writer", func(ctx context.Context) error {
		return writeAlerts(ctx, afConn, alertsCh)
	})

	for taskID, t := range tasks {
		t := t
		taskID := taskID
		r, err := runner.New(ctx, deviceID, t, provider, func(ctx context.Context, rep *report.Report, alert *report.Alert) {
			select {
			case reportsCh <- rep:
			case <-ctx.Done():
				return
			}
			if alert != nil {
				select {
				case alertsCh <- alert:
				case <-ctx.Done():
				}
			}
		})
		if err != nil {
			dlog.Errorf(ctx, "agent %s: task %s cannot run: %v", deviceID, taskID, err)
			continue
		}
		g.Go("runner-"+taskID, r.Run)
	}

	err = g.Wait()
	closeErr := closeHandshake(ctx, ep, workerAddr)
	if err != nil {
		return err
	}
	return closeErr
}

func localAddrTo(dest string) (string, error) {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:80", dest))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func identify(ctx context.Context, ep *nettask.Endpoint, dest wire.Location, deviceID string) error {
	msg := &wire.Message{Author: deviceID, Tag: wire.TagIdentify}
	payload, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = ep.SendAndWaitAck(ctx, dest, wire.Flags{Ack: true}, payload, nil)
	return err
}

func receiveTasks(ctx context.Context, ep *nettask.Endpoint, dest wire.Location) (map[string]*task.Task, error) {
	tasks := map[string]*task.Task{}
	for {
		d, _, err := ep.Receive(ctx, false)
		if err != nil {
			return nil, err
		}
		if d == nil || d.PayloadSize() == 0 {
			continue
		}
		msg, err := wire.DecodeMessage(d.Payload)
		if err != nil {
			dlog.Errorf(ctx, "agent: dropping malformed message: %v", err)
			continue
		}
		isTask, isFinal := msg.IsTask()
		if !isTask {
			continue
		}
		if err := ep.SendAck(ctx, d); err != nil {
			return nil, err
		}
		if isFinal && len(msg.Payload) == 0 {
			return tasks, nil
		}
		t, err := task.Deserialize(msg.Payload)
		if err != nil {
			dlog.Errorf(ctx, "agent: dropping malformed task: %v", err)
			continue
		}
		tasks[t.TaskID] = t
		if isFinal {
			return tasks, nil
		}
	}
}

func sendReports(ctx context.Context, ep *nettask.Endpoint, dest wire.Location, deviceID string, reports <-chan *report.Report) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rep := <-reports:
			payload, err := rep.Serialize()
			if err != nil {
				dlog.Errorf(ctx, "agent: serialize report: %v", err)
				continue
			}
			msg := &wire.Message{Author: deviceID, Tag: wire.TagReport, Payload: payload}
			encoded, err := wire.EncodeMessage(msg)
			if err != nil {
				dlog.Errorf(ctx, "agent: encode report message: %v", err)
				continue
			}
			if _, err := ep.SendAndWaitAck(ctx, dest, wire.Flags{Ack: true}, encoded, nil); err != nil {
				return fmt.Errorf("agent: send report: %w", err)
			}
		}
	}
}

func writeAlerts(ctx context.Context, conn *alertflow.Conn, alerts <-chan *report.Alert) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case alert := <-alerts:
			if err := conn.WriteAlert(alert); err != nil {
				dlog.Errorf(ctx, "agent: write alert: %v", err)
			}
		}
	}
}

func closeHandshake(ctx context.Context, ep *nettask.Endpoint, dest wire.Location) error {
	_, err := ep.SendAndWaitAck(ctx, dest, wire.Flags{Fin: true}, nil, nil)
	return err
}
