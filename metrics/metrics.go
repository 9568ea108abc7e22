// Package metrics exports benchmark measurements as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weiihann/kubebench/harness"
)

const namespace = "kubebench"

// Recorder collects per-operation and per-phase measurements. It implements
// harness.Observer.
type Recorder struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	phaseDuration   *prometheus.GaugeVec
	phaseThroughput *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Backend operations by phase and result.",
		}, []string{"backend", "phase", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of single backend operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"backend", "phase"}),
		phaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of the last completed phase.",
		}, []string{"backend", "phase"}),
		phaseThroughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_throughput",
			Help:      "Objects per second of the last completed phase.",
		}, []string{"backend", "phase"}),
	}

	r.registry.MustRegister(
		r.operations,
		r.opDuration,
		r.phaseDuration,
		r.phaseThroughput,
	)

	return r
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveOperation implements harness.Observer.
func (r *Recorder) ObserveOperation(backend string, phase harness.Phase, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	r.operations.WithLabelValues(backend, string(phase), result).Inc()
	r.opDuration.WithLabelValues(backend, string(phase)).Observe(d.Seconds())
}

// ObservePhase implements harness.Observer.
func (r *Recorder) ObservePhase(backend string, res harness.PhaseResult) {
	r.phaseDuration.WithLabelValues(backend, string(res.Phase)).Set(res.Seconds())
	r.phaseThroughput.WithLabelValues(backend, string(res.Phase)).Set(res.Throughput())
}

// Server serves the recorder's metrics over HTTP.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger

	done     chan struct{}
	serveErr error
}

// Listen starts serving /metrics on addr. A serve failure is logged when it
// happens and returned by Shutdown.
func (r *Recorder) Listen(addr string, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: logger,
		done:   make(chan struct{}),
	}

	go s.serve()

	return s, nil
}

func (s *Server) serve() {
	defer close(s.done)

	err := s.srv.Serve(s.ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}

	s.serveErr = err
	s.logger.Error("metrics server stopped",
		slog.String("addr", s.ln.Addr().String()),
		slog.Any("error", err),
	)
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server. It also reports a failure that stopped the
// server earlier.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown metrics server: %w", ctx.Err())
	}

	if s.serveErr != nil {
		return fmt.Errorf("serve metrics: %w", s.serveErr)
	}

	return nil
}
