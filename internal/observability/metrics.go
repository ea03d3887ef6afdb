package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type gatewayMetrics struct {
	inboundTotal  *prometheus.CounterVec
	outboundTotal *prometheus.CounterVec
	sendErrors    *prometheus.CounterVec
	decodeErrors  *prometheus.CounterVec
	adapterUp     *prometheus.GaugeVec
	reconnects    *prometheus.CounterVec

	activeSessions    prometheus.Gauge
	sessionsCreated   prometheus.Counter
	sessionsEvicted   prometheus.Counter
	sessionsExpired   prometheus.Counter
	tokenRefreshTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *gatewayMetrics
)

func getMetrics() *gatewayMetrics {
	metricsOnce.Do(func() {
		m := &gatewayMetrics{
			inboundTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "kurir_inbound_messages_total",
					Help: "Total normalized inbound messages by channel.",
				},
				[]string{"channel"},
			),
			outboundTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "kurir_outbound_messages_total",
					Help: "Total platform sends by channel.",
				},
				[]string{"channel"},
			),
			sendErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "kurir_send_errors_total",
					Help: "Total failed platform sends by channel.",
				},
				[]string{"channel"},
			),
			decodeErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "kurir_decode_errors_total",
					Help: "Total dropped events failing verification or decode, by channel.",
				},
				[]string{"channel"},
			),
			adapterUp: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "kurir_adapter_healthy",
					Help: "Adapter transport health (1 ready, 0 down).",
				},
				[]string{"channel"},
			),
			reconnects: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "kurir_reconnects_total",
					Help: "Total transport reconnect attempts by channel.",
				},
				[]string{"channel"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "kurir_sessions_active",
					Help: "Current live session count.",
				},
			),
			sessionsCreated: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "kurir_sessions_created_total",
					Help: "Total sessions created.",
				},
			),
			sessionsEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "kurir_sessions_evicted_total",
					Help: "Total sessions evicted by the concurrency cap.",
				},
			),
			sessionsExpired: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "kurir_sessions_expired_total",
					Help: "Total sessions removed by TTL cleanup.",
				},
			),
			tokenRefreshTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "kurir_token_refresh_total",
					Help: "Total credential refreshes by channel and status.",
				},
				[]string{"channel", "status"},
			),
		}

		prometheus.MustRegister(
			m.inboundTotal,
			m.outboundTotal,
			m.sendErrors,
			m.decodeErrors,
			m.adapterUp,
			m.reconnects,
			m.activeSessions,
			m.sessionsCreated,
			m.sessionsEvicted,
			m.sessionsExpired,
			m.tokenRefreshTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordInbound(channel string) {
	getMetrics().inboundTotal.WithLabelValues(channel).Inc()
}

func RecordOutbound(channel string) {
	getMetrics().outboundTotal.WithLabelValues(channel).Inc()
}

func RecordSendError(channel string) {
	getMetrics().sendErrors.WithLabelValues(channel).Inc()
}

func RecordDecodeError(channel string) {
	getMetrics().decodeErrors.WithLabelValues(channel).Inc()
}

func SetAdapterHealthy(channel string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	getMetrics().adapterUp.WithLabelValues(channel).Set(v)
}

func RecordReconnect(channel string) {
	getMetrics().reconnects.WithLabelValues(channel).Inc()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionCreated() {
	getMetrics().sessionsCreated.Inc()
}

func RecordSessionEvicted() {
	getMetrics().sessionsEvicted.Inc()
}

func RecordSessionsExpired(count int) {
	getMetrics().sessionsExpired.Add(float64(count))
}

func RecordTokenRefresh(channel string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().tokenRefreshTotal.WithLabelValues(channel, status).Inc()
}
