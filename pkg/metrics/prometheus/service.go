package prometheus

import (
	"time"

	"github.com/marmos91/gridauth/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serviceMetrics is the Prometheus implementation of metrics.ServiceMetrics.
type serviceMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeConnections   prometheus.Gauge
	handshakes          *prometheus.CounterVec
	sessions            *prometheus.CounterVec
	sessionDuration     *prometheus.HistogramVec
}

// NewServiceMetrics creates Prometheus-backed ServiceMetrics on the process
// registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewServiceMetrics() metrics.ServiceMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return NewServiceMetricsWithRegistry(metrics.GetRegistry())
}

// NewServiceMetricsWithRegistry registers the collectors on reg.
func NewServiceMetricsWithRegistry(reg prometheus.Registerer) metrics.ServiceMetrics {
	return &serviceMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gridauth_connections_accepted_total",
				Help: "Total number of accepted connections",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gridauth_connections_closed_total",
				Help: "Total number of closed connections",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gridauth_active_connections",
				Help: "Number of sessions currently being served",
			},
		),
		handshakes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridauth_handshakes_total",
				Help: "Handshakes by mechanism and result",
			},
			[]string{"mechanism", "result"}, // result: "accepted", "rejected"
		),
		sessions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridauth_sessions_total",
				Help: "Finished sessions by outcome",
			},
			[]string{"outcome", "anonymous"},
		),
		sessionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gridauth_session_duration_milliseconds",
				Help: "Time from accept to close in milliseconds",
				Buckets: []float64{
					1,     // local handshake
					5,     // 5ms
					25,    // 25ms
					100,   // 100ms - KDC round trip
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s
					30000, // 30s - stalled peers
				},
			},
			[]string{"outcome"},
		),
	}
}

func (m *serviceMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serviceMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *serviceMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *serviceMetrics) RecordHandshake(mechanism string, err error) {
	if mechanism == "" {
		mechanism = "unknown"
	}
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	m.handshakes.WithLabelValues(mechanism, result).Inc()
}

func (m *serviceMetrics) RecordSession(outcome string, anonymous bool, duration time.Duration) {
	anon := "false"
	if anonymous {
		anon = "true"
	}
	m.sessions.WithLabelValues(outcome, anon).Inc()
	m.sessionDuration.WithLabelValues(outcome).Observe(float64(duration.Microseconds()) / 1000.0)
}
