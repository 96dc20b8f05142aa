// Package server implements the NetTask/AlertFlow server: the well-known
// entry listener that accepts SYNs and spawns a per-device worker.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"

	"nettaskd/pkg/alertflow"
	"nettaskd/pkg/config"
	"nettaskd/pkg/logsink"
	"nettaskd/pkg/nettask"
	"nettaskd/pkg/report"
	"nettaskd/pkg/task"
	"nettaskd/pkg/wire"
)

// worker handles one device's full session after the entry listener hands
// off its SYN: handshake, identify, task distribution, AlertFlow accept,
// and the report/alert receive loop.
type worker struct {
	ep        *nettask.Endpoint
	agent     wire.Location
	deviceID  string
	sessionID uuid.UUID
	idx       *config.Index
	sink      logsink.Sink

	metricsOnAlert func(taskID string)
	metricsOnReport func(taskID string)
}

func newWorker(localAddr string, port int, idx *config.Index, sink logsink.Sink, onReport, onAlert func(taskID string)) (*worker, error) {
	ep, err := nettask.NewEndpoint(localAddr, port, nil, 0)
	if err != nil {
		return nil, err
	}
	return &worker{ep: ep, sessionID: uuid.New(), idx: idx, sink: sink, metricsOnReport: onReport, metricsOnAlert: onAlert}, nil
}

// serve runs the worker's full lifecycle for one accepted SYN until the
// agent sends a FIN or ctx is cancelled.
func (w *worker) serve(ctx context.Context, syn *wire.Datagram) error {
	w.agent = syn.Origin
	ctx = dlog.WithField(ctx, "session_id", w.sessionID)
	dlog.Infof(ctx, "server worker %d: new session with %s", w.ep.LocalPort(), w.agent)

	if err := w.ep.SendAck(ctx, syn); err != nil {
		return fmt.Errorf("server worker: handshake ack: %w", err)
	}

	deviceID, err := w.receiveIdentify(ctx)
	if err != nil {
		return fmt.Errorf("server worker: identify: %w", err)
	}
	w.deviceID = deviceID
	dlog.Infof(ctx, "server worker %d: device identified as %s", w.ep.LocalPort(), deviceID)

	tasks := w.idx.TasksFor(deviceID)
	if err := w.sendTasks(ctx, tasks); err != nil {
		return fmt.Errorf("server worker: send tasks: %w", err)
	}

	return w.acceptAlertflowAndServe(ctx, tasks)
}

func (w *worker) receiveIdentify(ctx context.Context) (string, error) {
	for {
		d, _, err := w.ep.Receive(ctx, false)
		if err != nil {
			return "", err
		}
		if d == nil || d.PayloadSize() == 0 {
			continue
		}
		msg, err := wire.DecodeMessage(d.Payload)
		if err != nil {
			dlog.Errorf(ctx, "server worker: dropping malformed message: %v", err)
			continue
		}
		if !msg.IsIdentify() {
			dlog.Debug(ctx, "server worker: received something other than identify, ignored")
			continue
		}
		if err := w.ep.SendAck(ctx, d); err != nil {
			return "", err
		}
		return msg.Author, nil
	}
}

func (w *worker) sendTasks(ctx context.Context, tasks map[string]*task.Task) error {
	idx := 0
	for _, t := range tasks {
		idx++
		isLast := idx == len(tasks)
		payload, err := t.Serialize()
		if err != nil {
			return err
		}
		tag := wire.TagTask
		if isLast {
			tag = wire.TagFinalTask
		}
		msg := &wire.Message{Author: w.agent.Addr, Tag: tag, Payload: payload}
		encoded, err := wire.EncodeMessage(msg)
		if err != nil {
			return err
		}
		if _, err := w.ep.SendAndWaitAck(ctx, w.agent, wire.Flags{Ack: true}, encoded, nil); err != nil {
			return err
		}
	}
	if len(tasks) == 0 {
		// Nothing assigned: still must send one final (empty) batch so
		// the agent's receiveTasks loop is not left hanging.
		msg := &wire.Message{Author: w.agent.Addr, Tag: wire.TagFinalTask}
		encoded, err := wire.EncodeMessage(msg)
		if err != nil {
			return err
		}
		_, err = w.ep.SendAndWaitAck(ctx, w.agent, wire.Flags{Ack: true}, encoded, nil)
		return err
	}
	return nil
}

func (w *worker) acceptAlertflowAndServe(ctx context.Context, tasks map[string]*task.Task) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", w.ep.LocalPort()))
	if err != nil {
		return fmt.Errorf("server worker: listen alertflow: %w", err)
	}
	defer listener.Close()

	dlog.Infof(ctx, "server worker %d: awaiting AlertFlow connection from %s", w.ep.LocalPort(), w.agent.Addr)
	nc, err := w.acceptFromAgent(ctx, listener)
	if err != nil {
		return fmt.Errorf("server worker: accept alertflow: %w", err)
	}
	afConn := alertflow.NewConn(nc)
	defer afConn.Close()
	dlog.Infof(ctx, "server worker %d: AlertFlow connection achieved", w.ep.LocalPort())

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: false})
	g.Go("alertflow-reader", func(ctx context.Context) error {
		return w.readAlerts(ctx, afConn)
	})
	g.Go("control-loop", func(ctx context.Context) error {
		return w.readReports(ctx)
	})
	return g.Wait()
}

// acceptFromAgent accepts connections until one arrives from the agent's
// known NetTask address and port, closing and retrying anything else. The
// agent binds its AlertFlow socket's local port to the same port as its
// NetTask endpoint before dialing, so a matching peer address+port is the
// agent handing off its AlertFlow channel rather than a stray connection.
func (w *worker) acceptFromAgent(ctx context.Context, listener net.Listener) (net.Conn, error) {
	for {
		nc, err := listener.Accept()
		if err != nil {
			return nil, err
		}
		host, portStr, err := net.SplitHostPort(nc.RemoteAddr().String())
		if err != nil {
			dlog.Errorf(ctx, "server worker %d: unparseable AlertFlow peer address %s, closing", w.ep.LocalPort(), nc.RemoteAddr())
			nc.Close()
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || host != w.agent.Addr || port != w.agent.Port {
			dlog.Infof(ctx, "server worker %d: AlertFlow connection from %s:%s does not match expected agent %s, closing", w.ep.LocalPort(), host, portStr, w.agent)
			nc.Close()
			continue
		}
		return nc, nil
	}
}

func (w *worker) readReports(ctx context.Context) error {
	for {
		d, _, err := w.ep.Receive(ctx, false)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		if d.Flags.IsFin() {
			dlog.Infof(ctx, "server worker %d: received FIN from %s", w.ep.LocalPort(), w.agent.Addr)
			return w.ep.SendAck(ctx, d)
		}
		if d.PayloadSize() == 0 {
			continue
		}
		msg, err := wire.DecodeMessage(d.Payload)
		if err != nil {
			dlog.Errorf(ctx, "server worker: dropping malformed message: %v", err)
			continue
		}
		if !msg.IsReport() {
			continue
		}
		if err := w.ep.SendAck(ctx, d); err != nil {
			return err
		}
		rep, err := report.Deserialize(msg.Payload)
		if err != nil {
			dlog.Errorf(ctx, "server worker: dropping malformed report: %v", err)
			continue
		}
		if err := w.sink.AppendReport(rep.DeviceID, rep.TaskID, rep); err != nil {
			dlog.Errorf(ctx, "server worker: persist report: %v", err)
		}
		if w.metricsOnReport != nil {
			w.metricsOnReport(rep.TaskID)
		}
	}
}

func (w *worker) readAlerts(ctx context.Context, conn *alertflow.Conn) error {
	for {
		alert, err := conn.ReadAlert()
		if err != nil {
			return fmt.Errorf("server worker: read alert: %w", err)
		}
		if err := w.sink.AppendAlert(alert.DeviceID, alert.TaskID, alert); err != nil {
			dlog.Errorf(ctx, "server worker: persist alert: %v", err)
		}
		if w.metricsOnAlert != nil {
			w.metricsOnAlert(alert.TaskID)
		}
	}
}
