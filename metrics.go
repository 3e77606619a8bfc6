package sigsock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors of a Metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "sigsock").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Metrics records frame traffic and dispatch outcomes. A nil *Metrics is valid
// and records nothing, so connections without MetricsOption pay no cost.
type Metrics struct {
	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	protocolErrors  *prometheus.CounterVec
	dispatched      *prometheus.CounterVec
	handlerDuration prometheus.Histogram
	connects        *prometheus.CounterVec
}

// NewMetrics registers the collectors on cfg.Registry.
// Registering twice on the same registry panics, as promauto does.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "sigsock"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_sent_total",
			Help:        "Frames written, by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_received_total",
			Help:        "Frames read, by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "bytes_sent_total",
			Help:        "Bytes written including headers",
			ConstLabels: cfg.ConstLabels,
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "bytes_received_total",
			Help:        "Bytes of complete frames read including headers",
			ConstLabels: cfg.ConstLabels,
		}),

		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "protocol_errors_total",
			Help:        "Receive failures that ended a session, by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),

		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "signals_dispatched_total",
			Help:        "Signals handled by the receive loop, by outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"outcome"}),

		handlerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "handler_duration_seconds",
			Help:        "Time spent inside signal handlers",
			ConstLabels: cfg.ConstLabels,
			Buckets:     prometheus.DefBuckets,
		}),

		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "connect_attempts_total",
			Help:        "Client connect attempts, by result",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),
	}
}

func (m *Metrics) frameSent(kind Kind, size int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(kind.String()).Inc()
	m.bytesSent.Add(float64(size))
}

func (m *Metrics) frameReceived(kind Kind, size int64) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind.String()).Inc()
	m.bytesReceived.Add(float64(size))
}

func (m *Metrics) protocolError(reason string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) dispatch(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.handlerDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) connectAttempt(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}
