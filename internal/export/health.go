package export

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/edgeprof/internal/profile"
)

const namespace = "edgeprof"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Enabled starts the metrics server for the duration of the run.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for a profiling run.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Recording.
	OpsRecorded   *prometheus.CounterVec // op
	BlocksTracked prometheus.Gauge

	// Replay.
	ReplayEvents   prometheus.Counter
	ReplayThreads  prometheus.Gauge
	ReplayDuration prometheus.Gauge
	ReplayErrors   prometheus.Counter

	// Report.
	ReportRows          prometheus.Gauge
	ReportWriteDuration prometheus.Histogram
	ReportErrors        prometheus.Counter

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		OpsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_recorded_total",
				Help:      "Total recording operations by operation type.",
			},
			[]string{"op"},
		),
		BlocksTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocks_tracked",
			Help:      "Number of distinct basic blocks recorded.",
		}),
		ReplayEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_events_total",
			Help:      "Total trace events replayed.",
		}),
		ReplayThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replay_threads",
			Help:      "Number of distinct threads in the replayed trace.",
		}),
		ReplayDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replay_duration_seconds",
			Help:      "Wall time spent replaying the trace.",
		}),
		ReplayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_errors_total",
			Help:      "Total replays aborted by an error.",
		}),
		ReportRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_rows",
			Help:      "Number of rows in the last written report.",
		}),
		ReportWriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_write_duration_seconds",
			Help:      "Time to rank and write the report.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		ReportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_errors_total",
			Help:      "Total report write failures.",
		}),
	}

	reg.MustRegister(
		h.OpsRecorded,
		h.BlocksTracked,
		h.ReplayEvents,
		h.ReplayThreads,
		h.ReplayDuration,
		h.ReplayErrors,
		h.ReportRows,
		h.ReportWriteDuration,
		h.ReportErrors,
	)

	return h
}

// ObserveOps adds drained store counters to OpsRecorded.
func (h *HealthMetrics) ObserveOps(ops map[profile.Op]uint64) {
	for op, n := range ops {
		h.OpsRecorded.WithLabelValues(op.String()).Add(float64(n))
	}
}

// Registry returns the registry holding all metrics.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
