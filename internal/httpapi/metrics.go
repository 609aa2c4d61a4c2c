package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the HTTP API and the ingest
// pipeline. A custom registry keeps the default Go collectors out of the
// scrape.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	wsClients       prometheus.Gauge
	sseClients      prometheus.Gauge
	broadcastDrops  *prometheus.CounterVec
	rateLimited     prometheus.Counter

	linesSeen      prometheus.Counter
	parseDrops     prometheus.Counter
	eventsRecorded *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	playbacks      prometheus.Counter
	archiveErrors  prometheus.Counter
	webhookFails   prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "companion",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "companion",
			Name:      "ws_clients",
			Help:      "Current connected WebSocket clients",
		}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "companion",
			Name:      "sse_clients",
			Help:      "Current connected SSE clients",
		}),
		broadcastDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "broadcast_drops_total",
			Help:      "Number of pushes dropped due to slow clients",
		}, []string{"transport"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
		linesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "log_lines_total",
			Help:      "Log lines handed to the parser",
		}),
		parseDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "parse_drops_total",
			Help:      "Log lines the parser could not turn into events",
		}),
		eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "events_recorded_total",
			Help:      "Events folded into the aggregate, by kind",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "companion",
			Name:      "announce_queue_depth",
			Help:      "Entries waiting in the announcement queue",
		}),
		playbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "playbacks_total",
			Help:      "Announcements played to completion",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "archive_write_errors_total",
			Help:      "Event archive write errors reported",
		}),
		webhookFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "webhook_failures_total",
			Help:      "Webhook triggers that did not complete",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.wsClients,
		m.sseClients,
		m.broadcastDrops,
		m.rateLimited,
		m.linesSeen,
		m.parseDrops,
		m.eventsRecorded,
		m.queueDepth,
		m.playbacks,
		m.archiveErrors,
		m.webhookFails,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// IncWSClients adjusts the WebSocket client gauge by delta.
func (m *Metrics) IncWSClients(delta float64) {
	if m == nil {
		return
	}
	m.wsClients.Add(delta)
}

// IncSSEClients adjusts the SSE client gauge by delta.
func (m *Metrics) IncSSEClients(delta float64) {
	if m == nil {
		return
	}
	m.sseClients.Add(delta)
}

// IncBroadcastDrops increments the drop counter.
func (m *Metrics) IncBroadcastDrops(transport string) {
	if m == nil {
		return
	}
	m.broadcastDrops.WithLabelValues(transport).Inc()
}

// IncRateLimited increments the rate limit counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// IncLinesSeen counts a raw log line entering the pipeline.
func (m *Metrics) IncLinesSeen() {
	if m == nil {
		return
	}
	m.linesSeen.Inc()
}

// IncParseDrops counts a line the parser rejected.
func (m *Metrics) IncParseDrops() {
	if m == nil {
		return
	}
	m.parseDrops.Inc()
}

// IncEventsRecorded counts a recorded event by kind.
func (m *Metrics) IncEventsRecorded(kind string) {
	if m == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(kind).Inc()
}

// SetQueueDepth mirrors the announcement queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// IncPlaybacks counts a completed announcement playback.
func (m *Metrics) IncPlaybacks() {
	if m == nil {
		return
	}
	m.playbacks.Inc()
}

// IncArchiveErrors increments the archive write error counter.
func (m *Metrics) IncArchiveErrors() {
	if m == nil {
		return
	}
	m.archiveErrors.Inc()
}

// IncWebhookFailures increments the webhook failure counter.
func (m *Metrics) IncWebhookFailures() {
	if m == nil {
		return
	}
	m.webhookFails.Inc()
}
