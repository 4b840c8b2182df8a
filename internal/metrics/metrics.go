// Package metrics exposes mindtype engine counters through Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mindtype"

// EngineMetrics holds the engine and boundary metrics. It implements
// engine.Observer and boundary.Observer.
type EngineMetrics struct {
	registry *prometheus.Registry

	InitializeTotal     *prometheus.CounterVec
	ConfigWarningsTotal prometheus.Counter
	RequestsTotal       *prometheus.CounterVec
	CorrectionsTotal    prometheus.Counter
	TruncatedTotal      prometheus.Counter
	PartialTotal        prometheus.Counter
	OutstandingBuffers  prometheus.Gauge
	ProcessDuration     prometheus.Histogram
}

// New creates EngineMetrics registered on a fresh registry, together with
// the Go runtime and process collectors.
func New() *EngineMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates EngineMetrics registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *EngineMetrics {
	m := &EngineMetrics{
		registry: reg,

		InitializeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "initialize_total",
			Help:      "Initialize calls by result.",
		}, []string{"result"}),
		ConfigWarningsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_warnings_total",
			Help:      "Configuration keys replaced with defaults during initialize.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Process calls by outcome (ok or the error kind).",
		}, []string{"outcome"}),
		CorrectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_total",
			Help:      "Corrections returned to the host.",
		}),
		TruncatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_requests_total",
			Help:      "Requests whose text exceeded maxTextLength.",
		}),
		PartialTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latency_budget_exhausted_total",
			Help:      "Requests answered with a partial result because the latency budget ran out.",
		}),
		OutstandingBuffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outstanding_buffers",
			Help:      "Response buffers handed to the host and not yet freed.",
		}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Engine-internal time per successful process call.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .02, .05, .1},
		}),
	}

	reg.MustRegister(
		m.InitializeTotal,
		m.ConfigWarningsTotal,
		m.RequestsTotal,
		m.CorrectionsTotal,
		m.TruncatedTotal,
		m.PartialTotal,
		m.OutstandingBuffers,
		m.ProcessDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *EngineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveInitialize records an initialize call.
func (m *EngineMetrics) ObserveInitialize(ok bool, warnings int) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.InitializeTotal.WithLabelValues(result).Inc()
	if warnings > 0 {
		m.ConfigWarningsTotal.Add(float64(warnings))
	}
}

// ObserveProcess records a process call. An empty kind means success.
func (m *EngineMetrics) ObserveProcess(kind string, latency time.Duration, corrections int, truncated, partial bool) {
	if kind != "" {
		m.RequestsTotal.WithLabelValues(kind).Inc()
		return
	}
	m.RequestsTotal.WithLabelValues("ok").Inc()
	m.CorrectionsTotal.Add(float64(corrections))
	m.ProcessDuration.Observe(latency.Seconds())
	if truncated {
		m.TruncatedTotal.Inc()
	}
	if partial {
		m.PartialTotal.Inc()
	}
}

// ObserveOutstanding records the number of live boundary buffers.
func (m *EngineMetrics) ObserveOutstanding(n int) {
	m.OutstandingBuffers.Set(float64(n))
}

// Handler returns an HTTP handler serving the registry.
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	srv *http.Server
	mux *http.ServeMux
	ln  net.Listener
}

// Listen binds addr and returns a server ready to Serve.
func (m *EngineMetrics) Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		mux: mux,
		ln:  ln,
	}, nil
}

// Handle mounts an additional handler. Call it before Serve.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks until ctx is done or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
