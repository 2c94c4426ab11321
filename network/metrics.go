package network

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors of the engine.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "gpnet").
	Namespace string

	// Subsystem is the metrics subsystem (default: "network").
	Subsystem string

	// ConstLabels are added to every collector.
	ConstLabels prometheus.Labels

	// Registry receives the collectors. Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all collectors.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the registerer the collectors are created in.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	connsActive  prometheus.Gauge
	connsTotal   *prometheus.CounterVec
	packetsIn    *prometheus.CounterVec
	packetsOut   *prometheus.CounterVec
	bytesIn      prometheus.Counter
	bytesOut     prometheus.Counter
	packetErrors *prometheus.CounterVec
	buffersTaken *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "gpnet",
		Subsystem: "network",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		connsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_active",
			Help:        "Number of open connections",
			ConstLabels: config.ConstLabels,
		}),
		connsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Connections opened, by origin",
			ConstLabels: config.ConstLabels,
		}, []string{"origin"}),
		packetsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_received_total",
			Help:        "Packets decoded, by packet id",
			ConstLabels: config.ConstLabels,
		}, []string{"id"}),
		packetsOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_sent_total",
			Help:        "Packets fully written, by packet id",
			ConstLabels: config.ConstLabels,
		}, []string{"id"}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "received_bytes_total",
			Help:        "Bytes read from channels",
			ConstLabels: config.ConstLabels,
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sent_bytes_total",
			Help:        "Bytes written to channels",
			ConstLabels: config.ConstLabels,
		}),
		packetErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packet_errors_total",
			Help:        "Contained per-packet failures, by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),
		buffersTaken: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "buffers_taken_total",
			Help:        "Buffer regions handed out, by source",
			ConstLabels: config.ConstLabels,
		}, []string{"source"}),
	}
}

// Error kinds reported by packet_errors_total.
const (
	errKindDecode    = "decode"
	errKindUnknown   = "unknown_id"
	errKindEncode    = "encode"
	errKindWrite     = "write"
	errKindHandler   = "handler"
	errKindHandshake = "handshake"
)

func (m *Metrics) connOpened(origin string) {
	if m == nil {
		return
	}
	m.connsActive.Inc()
	m.connsTotal.WithLabelValues(origin).Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connsActive.Dec()
}

func (m *Metrics) packetReceived(id uint16) {
	if m == nil {
		return
	}
	m.packetsIn.WithLabelValues(strconv.Itoa(int(id))).Inc()
}

func (m *Metrics) packetSent(id uint16, n int) {
	if m == nil {
		return
	}
	m.packetsOut.WithLabelValues(strconv.Itoa(int(id))).Inc()
	m.bytesOut.Add(float64(n))
}

func (m *Metrics) bytesRead(n int) {
	if m == nil {
		return
	}
	m.bytesIn.Add(float64(n))
}

func (m *Metrics) packetError(kind string) {
	if m == nil {
		return
	}
	m.packetErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) bufferTaken(reused bool) {
	if m == nil {
		return
	}
	if reused {
		m.buffersTaken.WithLabelValues("pool").Inc()
	} else {
		m.buffersTaken.WithLabelValues("alloc").Inc()
	}
}
