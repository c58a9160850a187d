package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source label values for forwarded buffers.
const (
	SourceLive = "live"
	SourceClip = "clip"
)

// Metrics holds Prometheus counters and gauges for the playout engine.
// All methods are no-ops on a nil *Metrics so components can run without it.
type Metrics struct {
	registry *prometheus.Registry

	buffersForwarded *prometheus.CounterVec
	bytesForwarded   *prometheus.CounterVec
	buffersDropped   prometheus.Counter
	liveSwitches     prometheus.Counter
	ingestRestarts   prometheus.Counter
	clipsStarted     prometheus.Counter
	resumeRestarts   prometheus.Counter
	liveActive       prometheus.Gauge
	queueDepth       prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
	errorsTotal      prometheus.Counter
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		buffersForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_buffers_forwarded_total",
			Help: "Raw buffers written to the encoder, by source (live or clip)",
		}, []string{"source"}),
		bytesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_bytes_forwarded_total",
			Help: "Bytes written to the encoder, by source (live or clip)",
		}, []string{"source"}),
		buffersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playout_buffers_dropped_total",
			Help: "Clip decoder buffers discarded because live data pre-empted them",
		}),
		liveSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playout_live_switches_total",
			Help: "Number of transitions from scheduled content to live ingest",
		}),
		ingestRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playout_ingest_restarts_total",
			Help: "Number of times the ingest decoder was restarted",
		}),
		clipsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playout_clips_started_total",
			Help: "Number of clip decoders started",
		}),
		resumeRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playout_resume_restarts_total",
			Help: "Number of schedule re-deliveries requested after live ended",
		}),
		liveActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playout_live_active",
			Help: "1 while live ingest data is being forwarded, else 0",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playout_live_queue_depth",
			Help: "Buffers waiting in the live queue at scrape time",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_http_requests_total",
			Help: "Control API requests received, by route pattern",
		}, []string{"route"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playout_http_errors_total",
			Help: "Total number of control API responses with status >= 400",
		}),
	}

	registry.MustRegister(
		m.buffersForwarded,
		m.bytesForwarded,
		m.buffersDropped,
		m.liveSwitches,
		m.ingestRestarts,
		m.clipsStarted,
		m.resumeRestarts,
		m.liveActive,
		m.queueDepth,
		m.requestsTotal,
		m.errorsTotal,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// AddForwarded records one buffer of n bytes written to the encoder from source.
func (m *Metrics) AddForwarded(source string, n int) {
	if m == nil {
		return
	}
	m.buffersForwarded.WithLabelValues(source).Inc()
	m.bytesForwarded.WithLabelValues(source).Add(float64(n))
}

// IncDropped increments the pre-empted buffer counter.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.buffersDropped.Inc()
}

// IncLiveSwitches increments the live switch counter.
func (m *Metrics) IncLiveSwitches() {
	if m == nil {
		return
	}
	m.liveSwitches.Inc()
}

// IncIngestRestarts increments the ingest restart counter.
func (m *Metrics) IncIngestRestarts() {
	if m == nil {
		return
	}
	m.ingestRestarts.Inc()
}

// IncClipsStarted increments the clip decoder counter.
func (m *Metrics) IncClipsStarted() {
	if m == nil {
		return
	}
	m.clipsStarted.Inc()
}

// IncResumeRestarts increments the re-delivery counter.
func (m *Metrics) IncResumeRestarts() {
	if m == nil {
		return
	}
	m.resumeRestarts.Inc()
}

// SetLiveActive sets the live gauge.
func (m *Metrics) SetLiveActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.liveActive.Set(1)
	} else {
		m.liveActive.Set(0)
	}
}

// SetQueueDepth sets the live queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// IncRequests counts a control request for route.
func (m *Metrics) IncRequests(route string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. queue depth).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
