// Package metrics exposes Prometheus metrics for the voice session and the
// gateway. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soyeahso/voxlink/internal/domain"
)

const namespace = "voxlink"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionStatus    prometheus.Gauge
	ConnectsTotal    *prometheus.CounterVec
	ConnectDuration  prometheus.Histogram
	SessionDuration  prometheus.Histogram
	UpstreamEvents   *prometheus.CounterVec
	HandoffsTotal    *prometheus.CounterVec
	TranscriptItems  prometheus.Gauge
	AudioBytesTotal  *prometheus.CounterVec
	GatewayClients   prometheus.Gauge
	RPCTotal         *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionStatus: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_status",
			Help:      "Current session status (0 disconnected, 1 connecting, 2 connected)",
		}),
		ConnectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Connect attempts by outcome",
		}, []string{"result"}),
		ConnectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time from connect request to CONNECTED",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Length of connected sessions",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		UpstreamEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_events_total",
			Help:      "Inbound realtime events by class",
		}, []string{"class"}),
		HandoffsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Agent switches by outcome",
		}, []string{"result"}),
		TranscriptItems: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcript_items",
			Help:      "Items in the current transcript",
		}),
		AudioBytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes by direction",
		}, []string{"direction"}),
		GatewayClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_clients",
			Help:      "Connected gateway websocket clients",
		}),
		RPCTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_rpc_total",
			Help:      "Gateway RPC calls by method and outcome",
		}, []string{"method", "result"}),
		RateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter",
		}, []string{"limiter"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Gateway HTTP requests by path and status code",
		}, []string{"path", "code"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordStatus(s domain.SessionStatus) {
	if m == nil {
		return
	}
	m.SessionStatus.Set(float64(s))
}

// RecordConnect records a connect attempt. Successful attempts also observe
// their duration.
func (m *Metrics) RecordConnect(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectsTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		m.ConnectDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) RecordSessionEnd(d time.Duration) {
	if m == nil {
		return
	}
	m.SessionDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordUpstreamEvent(class string) {
	if m == nil {
		return
	}
	m.UpstreamEvents.WithLabelValues(class).Inc()
}

func (m *Metrics) RecordHandoff(result string) {
	if m == nil {
		return
	}
	m.HandoffsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetTranscriptItems(n int) {
	if m == nil {
		return
	}
	m.TranscriptItems.Set(float64(n))
}

func (m *Metrics) RecordAudio(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.GatewayClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.GatewayClients.Dec()
}

func (m *Metrics) RecordRPC(method, result string) {
	if m == nil {
		return
	}
	m.RPCTotal.WithLabelValues(method, result).Inc()
}

func (m *Metrics) RecordRateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(limiter).Inc()
}

func (m *Metrics) RecordHTTP(path string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(path, strconv.Itoa(code)).Inc()
}
