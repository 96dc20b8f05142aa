package server

import (
	"context"
	"net"
	"net/http"

	"github.com/datawire/dlib/dlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// serverMetrics holds the Prometheus instrumentation the server exposes on
// /metrics. retransmissionsTotal is registered with the others, but no code
// path increments it, so it always reads zero.
type serverMetrics struct {
	activeWorkers       prometheus.Gauge
	reportsTotal        *prometheus.CounterVec
	alertsTotal         *prometheus.CounterVec
	retransmissionsTotal *prometheus.CounterVec
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{
		activeWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nettask_active_workers",
			Help: "Number of device sessions currently being served.",
		}),
		reportsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nettask_reports_total",
			Help: "Total number of NetTask reports received, by task.",
		}, []string{"task_id"}),
		alertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nettask_alerts_total",
			Help: "Total number of AlertFlow alerts received, by task.",
		}, []string{"task_id"}),
		retransmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nettask_retransmissions_total",
			Help: "Total number of NetTask retransmission attempts, by role.",
		}, []string{"role"}),
	}
}

// serveMetricsHTTP runs the /metrics endpoint until ctx is cancelled.
func serveMetricsHTTP(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:        addr,
		ErrorLog:    dlog.StdLogger(ctx, dlog.LogLevelError),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
		Handler:     promhttp.Handler(),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return server.Close()
	case err := <-errCh:
		return err
	}
}
