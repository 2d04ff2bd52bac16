package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AlertMetrics covers alert dispatch and the outbound sinks. Methods are safe
// on a nil receiver.
type AlertMetrics struct {
	Raised         *prometheus.CounterVec
	Suppressed     *prometheus.CounterVec
	SinkDeliveries *prometheus.CounterVec
	SinkLatency    *prometheus.HistogramVec
	MQTTConnected  prometheus.Gauge
	registry       *prometheus.Registry
}

// NewAlertMetrics creates and registers the alert collectors.
func NewAlertMetrics(registry *prometheus.Registry) (*AlertMetrics, error) {
	m := &AlertMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize alert metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register alert metrics: %w", err)
	}
	return m, nil
}

func (m *AlertMetrics) initMetrics() error {
	m.Raised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_alerts_raised_total",
		Help: "Alerts dispatched to sinks partitioned by category",
	}, []string{"category"})
	m.Suppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_alerts_suppressed_total",
		Help: "Alerts not dispatched partitioned by category and reason",
	}, []string{"category", "reason"})
	m.SinkDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_alert_deliveries_total",
		Help: "Sink deliveries partitioned by sink and outcome",
	}, []string{"sink", "status"})
	m.SinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threatwatch_alert_delivery_seconds",
		Help:    "Latency of sink deliveries",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"sink"})
	m.MQTTConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "threatwatch_mqtt_connected",
		Help: "MQTT connection status (1 for connected, 0 for disconnected)",
	})
	return nil
}

// RecordRaised counts a dispatched alert.
func (m *AlertMetrics) RecordRaised(category string) {
	if m == nil {
		return
	}
	m.Raised.WithLabelValues(category).Inc()
}

// RecordSuppressed counts an alert held back by cooldown or rate limiting.
func (m *AlertMetrics) RecordSuppressed(category, reason string) {
	if m == nil {
		return
	}
	m.Suppressed.WithLabelValues(category, reason).Inc()
}

// RecordDelivery records one sink delivery.
func (m *AlertMetrics) RecordDelivery(sink string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.SinkDeliveries.WithLabelValues(sink, status).Inc()
	m.SinkLatency.WithLabelValues(sink).Observe(d.Seconds())
}

// SetMQTTConnected updates the MQTT connection gauge.
func (m *AlertMetrics) SetMQTTConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.MQTTConnected.Set(1)
	} else {
		m.MQTTConnected.Set(0)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *AlertMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Raised.Describe(ch)
	m.Suppressed.Describe(ch)
	m.SinkDeliveries.Describe(ch)
	m.SinkLatency.Describe(ch)
	ch <- m.MQTTConnected.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *AlertMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Raised.Collect(ch)
	m.Suppressed.Collect(ch)
	m.SinkDeliveries.Collect(ch)
	m.SinkLatency.Collect(ch)
	ch <- m.MQTTConnected
}
