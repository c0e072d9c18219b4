package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netprobe"

// Store owns the Prometheus collectors for the daemon and hands out the
// narrow recorder interfaces the other packages depend on.
type Store struct {
	registry *prometheus.Registry

	rounds         *prometheus.CounterVec
	roundDuration  *prometheus.HistogramVec
	parseMisses    *prometheus.CounterVec
	firingsDropped *prometheus.CounterVec
	recovered      prometheus.Counter
	queueDepthG    prometheus.Gauge
	queueDrops     prometheus.Counter
	recordsSent    *prometheus.CounterVec
	sinkFailures   *prometheus.CounterVec
	ready          prometheus.Gauge

	queueDepth    atomic.Int64
	lastEmittedNs atomic.Int64
}

// NewStore registers every collector on a private registry.
func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Probe rounds by probe type and outcome.",
		}, []string{"probe_type", "outcome"}),
		roundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Wall time of a probe round including tool execution.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"probe_type"}),
		parseMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_misses_total",
			Help:      "Expected output lines that were not found.",
		}, []string{"probe_type"}),
		firingsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firings_dropped_total",
			Help:      "Scheduler firings dropped because the job buffer was full.",
		}, []string{"probe"}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_panics_total",
			Help:      "Rounds aborted by a recovered panic.",
		}),
		queueDepthG: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth_number",
			Help:      "Records buffered in memory awaiting the sink.",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Records dropped due to queue pressure.",
		}),
		recordsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_sent_total",
			Help:      "Records accepted by each sink.",
		}, []string{"sink"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Failed sink deliveries.",
		}, []string{"sink"}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "Whether the daemon considers itself ready (1=ready).",
		}),
	}
	s.registry.MustRegister(
		s.rounds, s.roundDuration, s.parseMisses, s.firingsDropped, s.recovered,
		s.queueDepthG, s.queueDrops, s.recordsSent, s.sinkFailures, s.ready,
	)
	return s
}

// Registry exposes the underlying registry, mainly for tests.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// Snapshot is the subset of state the readiness checker consults.
type Snapshot struct {
	QueueDepth  int64
	LastEmitted time.Time
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{QueueDepth: s.queueDepth.Load()}
	if ns := s.lastEmittedNs.Load(); ns > 0 {
		snap.LastEmitted = time.Unix(0, ns).UTC()
	}
	return snap
}

func (s *Store) ObserveReadiness(ready bool) {
	if ready {
		s.ready.Set(1)
		return
	}
	s.ready.Set(0)
}

func (s *Store) QueueRecorder() QueueRecorder { return queueRecorder{store: s} }
func (s *Store) ProbeRecorder() ProbeRecorder { return probeRecorder{store: s} }
func (s *Store) RoundRecorder() RoundRecorder { return roundRecorder{store: s} }
func (s *Store) SinkRecorder() SinkRecorder   { return sinkRecorder{store: s} }

type queueRecorder struct{ store *Store }

func (r queueRecorder) ObserveQueueDepth(depth int) {
	r.store.queueDepth.Store(int64(depth))
	r.store.queueDepthG.Set(float64(depth))
}

func (r queueRecorder) IncQueueDrops() { r.store.queueDrops.Inc() }

type probeRecorder struct{ store *Store }

func (r probeRecorder) IncParseMiss(probeType string) {
	r.store.parseMisses.WithLabelValues(probeType).Inc()
}

type roundRecorder struct{ store *Store }

func (r roundRecorder) ObserveRound(probeType, outcome string, elapsed time.Duration) {
	r.store.rounds.WithLabelValues(probeType, outcome).Inc()
	r.store.roundDuration.WithLabelValues(probeType).Observe(elapsed.Seconds())
	if outcome == OutcomeEmitted {
		r.store.lastEmittedNs.Store(time.Now().UnixNano())
	}
}

func (r roundRecorder) IncFiringDropped(probeID string) {
	r.store.firingsDropped.WithLabelValues(probeID).Inc()
}

func (r roundRecorder) IncRecovered() { r.store.recovered.Inc() }

type sinkRecorder struct{ store *Store }

func (r sinkRecorder) AddRecordsSent(sink string, n int) {
	r.store.recordsSent.WithLabelValues(sink).Add(float64(n))
}

func (r sinkRecorder) IncSinkFailures(sink string) {
	r.store.sinkFailures.WithLabelValues(sink).Inc()
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return promhttp.HandlerFor(store.registry, promhttp.HandlerOpts{})
}
