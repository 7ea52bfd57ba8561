package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the OTA client.
type Metrics struct {
	// Update lifecycle metrics
	UpdatesTotal          *prometheus.CounterVec
	UpdatesActive         prometheus.Gauge
	UpdateDuration        prometheus.Histogram
	BytesTransferredTotal *prometheus.CounterVec
	ChunksWrittenTotal    prometheus.Counter
	ChunksRejectedTotal   *prometheus.CounterVec

	// Remote gateway connection metrics
	QUICConnectionsTotal   *prometheus.CounterVec
	QUICConnectionsActive  prometheus.Gauge
	QUICConnectionDuration prometheus.Histogram

	// Auth metrics
	AuthAttemptsTotal *prometheus.CounterVec

	// Backend HTTP metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration prometheus.Histogram

	activeUpdates int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		UpdatesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_updates_total",
				Help: "Total updates accepted for install",
			},
			[]string{"status"},
		),

		UpdatesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ota_updates_active",
				Help: "Currently installing updates",
			},
		),

		UpdateDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ota_update_duration_seconds",
				Help:    "Update install duration distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),

		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_bytes_transferred_total",
				Help: "Total package bytes received",
			},
			[]string{"direction"},
		),

		ChunksWrittenTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ota_chunks_written_total",
				Help: "Total chunks written to a transfer",
			},
		),

		ChunksRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_chunks_rejected_total",
				Help: "Chunks rejected (unknown transfer, bad encoding)",
			},
			[]string{"reason"},
		),

		QUICConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_quic_connections_total",
				Help: "Remote gateway connection attempts",
			},
			[]string{"result"},
		),

		QUICConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ota_quic_connections_active",
				Help: "Active remote gateway connections",
			},
		),

		QUICConnectionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ota_quic_connection_duration_seconds",
				Help:    "Remote gateway connection lifetime",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),

		AuthAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_auth_attempts_total",
				Help: "OAuth2 authentication attempts",
			},
			[]string{"result"},
		),

		BackendRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ota_backend_requests_total",
				Help: "Backend HTTP requests",
			},
			[]string{"method", "result"},
		),

		BackendRequestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ota_backend_request_duration_seconds",
				Help:    "Backend HTTP request latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
		),
	}
}

// RecordUpdateStart increments active-update counters.
func (m *Metrics) RecordUpdateStart() {
	atomic.AddInt64(&m.activeUpdates, 1)
	m.UpdatesActive.Set(float64(atomic.LoadInt64(&m.activeUpdates)))
}

// RecordUpdateComplete records update completion metrics.
func (m *Metrics) RecordUpdateComplete(success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeUpdates, -1)
	m.UpdatesActive.Set(float64(atomic.LoadInt64(&m.activeUpdates)))

	status := "success"
	if !success {
		status = "failure"
	}
	m.UpdatesTotal.WithLabelValues(status).Inc()
	m.UpdateDuration.Observe(durationSeconds)
}

// RecordChunkWritten updates metrics for a chunk written to a transfer.
func (m *Metrics) RecordChunkWritten(bytes int) {
	m.ChunksWrittenTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("received").Add(float64(bytes))
}

// RecordChunkRejected increments the rejected-chunk counter.
func (m *Metrics) RecordChunkRejected(reason string) {
	m.ChunksRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordQUICConnection logs remote gateway connection attempts.
func (m *Metrics) RecordQUICConnection(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.QUICConnectionsTotal.WithLabelValues(result).Inc()
	if success {
		m.QUICConnectionsActive.Inc()
	}
}

// RecordQUICConnectionClose updates metrics for a closed remote gateway
// connection.
func (m *Metrics) RecordQUICConnectionClose(durationSeconds float64) {
	m.QUICConnectionsActive.Dec()
	m.QUICConnectionDuration.Observe(durationSeconds)
}

// RecordAuthAttempt records the outcome of an authentication attempt.
func (m *Metrics) RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.AuthAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordBackendRequest records one backend HTTP call.
func (m *Metrics) RecordBackendRequest(method string, success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.BackendRequestsTotal.WithLabelValues(method, result).Inc()
	m.BackendRequestDuration.Observe(durationSeconds)
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
