package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/sethvargo/go-envconfig"

	"nettaskd/pkg/config"
	"nettaskd/pkg/logsink/filesink"
	"nettaskd/pkg/nettask"
	"nettaskd/pkg/ports"
	"nettaskd/pkg/wire"
)

// Config is the server's environment-derived runtime configuration.
type Config struct {
	LogLevel       string `env:"NETTASK_LOG_LEVEL,default=info"`
	LogsDir        string `env:"NETTASK_LOGS_DIR,default=logs"`
	PrometheusAddr string `env:"NETTASK_PROMETHEUS_PORT,default="`
}

// Server owns the well-known entry listener and spawns a worker per device
// session.
type Server struct {
	entry *nettask.Endpoint
	idx   *config.Index
	sink  *filesink.FileSink
	pool  *ports.Pool
	host  string

	metrics *serverMetrics

	mu      sync.Mutex
	workers map[string]*worker // by agent address
}

// New loads configPath and binds the well-known entry listener at host.
func New(host, configPath, logsDir string) (*Server, error) {
	file, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	idx := file.Index()

	sink, err := filesink.New(logsDir)
	if err != nil {
		return nil, err
	}
	for device, taskIDs := range idx.DeviceToTasks {
		if err := sink.PrepareDevice(device, taskIDs); err != nil {
			return nil, err
		}
	}

	ep, err := nettask.NewEndpoint(host, ports.WellKnownPort, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("server: bind entry listener: %w", err)
	}

	return &Server{
		entry:   ep,
		idx:     idx,
		sink:    sink,
		pool:    ports.NewPool(),
		host:    host,
		metrics: newServerMetrics(),
		workers: map[string]*worker{},
	}, nil
}

// Close releases the entry listener.
func (s *Server) Close() error { return s.entry.Close() }

// Run drives the entry listener until ctx is cancelled: every SYN spawns a
// new worker goroutine, every FIN on the entry socket stops the listener.
func (s *Server) Run(ctx context.Context) error {
	dlog.Infof(ctx, "server listening on %s:%d", s.host, ports.WellKnownPort)

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})
	g.Go("entry-listener", func(ctx context.Context) error {
		for {
			d, addr, err := s.entry.Receive(ctx, false)
			if err != nil {
				return err
			}
			if d == nil {
				continue
			}
			switch {
			case d.Flags.IsSyn():
				dlog.Infof(ctx, "server: received SYN from %s", addr)
				if err := s.spawnWorker(ctx, g, d); err != nil {
					dlog.Errorf(ctx, "server: spawn worker: %v", err)
				}
			case d.Flags.IsFin():
				dlog.Infof(ctx, "server: received FIN from %s", addr)
				return s.entry.SendAck(ctx, d)
			case d.PayloadSize() > 0:
				dlog.Infof(ctx, "server: received message from %s on the entry port, which isn't for data", addr)
			}
		}
	})

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err == nil && cfg.PrometheusAddr != "" && cfg.PrometheusAddr != "0" {
		g.Go("prometheus", func(ctx context.Context) error {
			return serveMetricsHTTP(ctx, ":"+cfg.PrometheusAddr)
		})
	}

	return g.Wait()
}

func (s *Server) spawnWorker(ctx context.Context, g *dgroup.Group, syn *wire.Datagram) error {
	port, err := s.pool.Allocate()
	if err != nil {
		return err
	}

	w, err := newWorker(s.host, port, s.idx, s.sink, s.onReport, s.onAlert)
	if err != nil {
		s.pool.Release(port)
		return err
	}

	s.mu.Lock()
	s.workers[syn.Origin.String()] = w
	s.mu.Unlock()
	s.metrics.activeWorkers.Inc()

	g.Go(fmt.Sprintf("worker-%d", port), func(ctx context.Context) error {
		defer func() {
			s.mu.Lock()
			delete(s.workers, syn.Origin.String())
			s.mu.Unlock()
			s.pool.Release(port)
			s.metrics.activeWorkers.Dec()
			w.ep.Close()
		}()
		return w.serve(ctx, syn)
	})
	return nil
}

func (s *Server) onReport(taskID string) {
	s.metrics.reportsTotal.WithLabelValues(taskID).Inc()
}

func (s *Server) onAlert(taskID string) {
	s.metrics.alertsTotal.WithLabelValues(taskID).Inc()
}
