package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the counters netplay components record.
type Metrics interface {
	MessageSent(msgType string, bytes int)
	MessageReceived(msgType string, bytes int)
	MessageRejected(reason string)
	ConnectionOpened()
	ConnectionClosed()
	ConnectionRejected()
	Migration(outcome string)
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "netplay").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: a private registry so parallel peers in one process do not collide.
	Registry prometheus.Registerer
}

// PrometheusMetrics records netplay activity as Prometheus collectors.
type PrometheusMetrics struct {
	messagesSent       *prometheus.CounterVec
	bytesSent          *prometheus.CounterVec
	messagesReceived   *prometheus.CounterVec
	bytesReceived      *prometheus.CounterVec
	messagesRejected   *prometheus.CounterVec
	activeConnections  prometheus.Gauge
	connectionsRefused prometheus.Counter
	migrations         *prometheus.CounterVec
}

// NewPrometheusMetrics registers the netplay collectors with cfg.Registry.
func NewPrometheusMetrics(cfg MetricsConfig) *PrometheusMetrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "netplay"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &PrometheusMetrics{
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "messages_sent_total",
			Help:        "Total number of protocol messages written to links",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "bytes_sent_total",
			Help:        "Total encoded bytes written to links",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "messages_received_total",
			Help:        "Total number of protocol messages decoded from links",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "bytes_received_total",
			Help:        "Total encoded bytes read from links",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
		messagesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "messages_rejected_total",
			Help:        "Inbound frames dropped because they failed to decode or route",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "active_connections",
			Help:        "Number of open peer links",
			ConstLabels: cfg.ConstLabels,
		}),
		connectionsRefused: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "connections_rejected_total",
			Help:        "Inbound links closed because the host was full",
			ConstLabels: cfg.ConstLabels,
		}),
		migrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "host_migrations_total",
			Help:        "Host takeover attempts by outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"outcome"}),
	}
}

func (m *PrometheusMetrics) MessageSent(msgType string, bytes int) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
	m.bytesSent.WithLabelValues(msgType).Add(float64(bytes))
}

func (m *PrometheusMetrics) MessageReceived(msgType string, bytes int) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
	m.bytesReceived.WithLabelValues(msgType).Add(float64(bytes))
}

func (m *PrometheusMetrics) MessageRejected(reason string) {
	if m == nil {
		return
	}
	m.messagesRejected.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *PrometheusMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *PrometheusMetrics) ConnectionRejected() {
	if m == nil {
		return
	}
	m.connectionsRefused.Inc()
}

func (m *PrometheusMetrics) Migration(outcome string) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues(outcome).Inc()
}

type nopMetrics struct{}

func (nopMetrics) MessageSent(string, int)     {}
func (nopMetrics) MessageReceived(string, int) {}
func (nopMetrics) MessageRejected(string)      {}
func (nopMetrics) ConnectionOpened()           {}
func (nopMetrics) ConnectionClosed()           {}
func (nopMetrics) ConnectionRejected()         {}
func (nopMetrics) Migration(string)            {}

// NopMetrics discards every observation.
func NopMetrics() Metrics {
	return nopMetrics{}
}
