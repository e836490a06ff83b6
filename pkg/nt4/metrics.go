package nt4

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "nt4").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collector.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) { c.ConstLabels = labels }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = registry }
}

// Metrics is a per-client Prometheus collector. Each client owns its own
// instance (pass distinct ConstLabels or registries when running several
// clients in one process). All record methods are nil-safe, so an
// uninstrumented client carries a nil *Metrics.
//
// Metrics collected:
//   - nt4_frames_sent_total / nt4_frames_received_total by kind
//     (control, value, clocksync)
//   - nt4_decode_errors_total by kind (control, value)
//   - nt4_values_received_total, nt4_values_dropped_total
//   - nt4_announced_topics
//   - nt4_clock_offset_microseconds, nt4_clock_latency_microseconds
//   - nt4_connects_total, nt4_disconnects_total
type Metrics struct {
	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec
	valuesReceived  prometheus.Counter
	valuesDropped   prometheus.Counter
	announcedTopics prometheus.Gauge
	clockOffsetUs   prometheus.Gauge
	clockLatencyUs  prometheus.Gauge
	connects        prometheus.Counter
	disconnects     prometheus.Counter
}

// NewMetrics creates and registers the collector.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "nt4",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "frames_sent_total",
			Help:        "Total frames sent, by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "frames_received_total",
			Help:        "Total frames received, by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "decode_errors_total",
			Help:        "Total frame decode failures, by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		valuesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "values_received_total",
			Help:        "Total value updates delivered to the value sink",
			ConstLabels: config.ConstLabels,
		}),

		valuesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "values_dropped_total",
			Help:        "Total value updates dropped for an unknown topic id",
			ConstLabels: config.ConstLabels,
		}),

		announcedTopics: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "announced_topics",
			Help:        "Number of server-announced topics currently known",
			ConstLabels: config.ConstLabels,
		}),

		clockOffsetUs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "clock_offset_microseconds",
			Help:        "Last estimated server-minus-client clock offset",
			ConstLabels: config.ConstLabels,
		}),

		clockLatencyUs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "clock_latency_microseconds",
			Help:        "Last estimated one-way network latency",
			ConstLabels: config.ConstLabels,
		}),

		connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "connects_total",
			Help:        "Total successful connection establishments",
			ConstLabels: config.ConstLabels,
		}),

		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "disconnects_total",
			Help:        "Total transitions to the disconnected state",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Frame kind labels.
const (
	frameKindControl   = "control"
	frameKindValue     = "value"
	frameKindClockSync = "clocksync"
)

func (m *Metrics) recordFrameSent(kind string) {
	if m != nil {
		m.framesSent.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordFrameReceived(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordDecodeError(kind string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordValueReceived() {
	if m != nil {
		m.valuesReceived.Inc()
	}
}

func (m *Metrics) recordValueDropped() {
	if m != nil {
		m.valuesDropped.Inc()
	}
}

func (m *Metrics) setAnnouncedTopics(n int) {
	if m != nil {
		m.announcedTopics.Set(float64(n))
	}
}

func (m *Metrics) setClockEstimate(offsetUs, latencyUs int64) {
	if m != nil {
		m.clockOffsetUs.Set(float64(offsetUs))
		m.clockLatencyUs.Set(float64(latencyUs))
	}
}

func (m *Metrics) recordConnect() {
	if m != nil {
		m.connects.Inc()
	}
}

func (m *Metrics) recordDisconnect() {
	if m != nil {
		m.disconnects.Inc()
	}
}
