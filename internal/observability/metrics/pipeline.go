package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics covers model loading, inference and capture. All methods
// are safe on a nil receiver so components can run without metrics.
type PipelineMetrics struct {
	InferenceDuration prometheus.Histogram
	InferenceTotal    *prometheus.CounterVec
	DroppedTasks      prometheus.Counter
	ModelLoadTotal    *prometheus.CounterVec
	ModelLoadDuration prometheus.Histogram
	State             *prometheus.GaugeVec
	CategoryScore     *prometheus.GaugeVec
	FlaggedCycles     *prometheus.CounterVec
	CaptureChunks     prometheus.Counter
	InputLevel        prometheus.Gauge
	registry          *prometheus.Registry
}

// NewPipelineMetrics creates and registers the pipeline collectors.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() error {
	m.InferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "threatwatch_inference_duration_seconds",
		Help:    "Time taken by one classifier inference and scoring cycle",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
	})
	m.InferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_inference_total",
		Help: "Inference cycles partitioned by outcome",
	}, []string{"status"})
	m.DroppedTasks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "threatwatch_inference_dropped_total",
		Help: "Inference tasks dropped because the queue was full",
	})
	m.ModelLoadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_model_load_total",
		Help: "Model load attempts partitioned by outcome",
	}, []string{"status"})
	m.ModelLoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "threatwatch_model_load_duration_seconds",
		Help:    "Time taken to fetch and initialize the classifier",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	m.State = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "threatwatch_pipeline_state",
		Help: "Current controller state (1 for the active state)",
	}, []string{"state"})
	m.CategoryScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "threatwatch_category_score",
		Help: "Most recent fused score per threat category",
	}, []string{"category"})
	m.FlaggedCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_flagged_cycles_total",
		Help: "Inference cycles where a category reached the alert threshold",
	}, []string{"category"})
	m.CaptureChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "threatwatch_capture_chunks_total",
		Help: "Audio chunks received from the capture source",
	})
	m.InputLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "threatwatch_input_level",
		Help: "RMS level of the most recent capture chunk",
	})
	return nil
}

// RecordInference records one inference cycle.
func (m *PipelineMetrics) RecordInference(d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.InferenceTotal.WithLabelValues(StatusError).Inc()
		return
	}
	m.InferenceTotal.WithLabelValues(StatusSuccess).Inc()
	m.InferenceDuration.Observe(d.Seconds())
}

// RecordDropped counts a task dropped at the queue.
func (m *PipelineMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.DroppedTasks.Inc()
	m.InferenceTotal.WithLabelValues(StatusDropped).Inc()
}

// RecordModelLoad records a model load attempt.
func (m *PipelineMetrics) RecordModelLoad(d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ModelLoadTotal.WithLabelValues(StatusError).Inc()
		return
	}
	m.ModelLoadTotal.WithLabelValues(StatusSuccess).Inc()
	m.ModelLoadDuration.Observe(d.Seconds())
}

// SetState marks state as the active controller state.
func (m *PipelineMetrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range pipelineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// RecordScore sets the latest score for a category.
func (m *PipelineMetrics) RecordScore(category string, score float64, flagged bool) {
	if m == nil {
		return
	}
	m.CategoryScore.WithLabelValues(category).Set(score)
	if flagged {
		m.FlaggedCycles.WithLabelValues(category).Inc()
	}
}

// RecordChunk counts one capture chunk and sets the input level to its RMS.
func (m *PipelineMetrics) RecordChunk(level float64) {
	if m == nil {
		return
	}
	m.CaptureChunks.Inc()
	m.InputLevel.Set(level)
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.InferenceDuration.Desc()
	m.InferenceTotal.Describe(ch)
	ch <- m.DroppedTasks.Desc()
	m.ModelLoadTotal.Describe(ch)
	ch <- m.ModelLoadDuration.Desc()
	m.State.Describe(ch)
	m.CategoryScore.Describe(ch)
	m.FlaggedCycles.Describe(ch)
	ch <- m.CaptureChunks.Desc()
	ch <- m.InputLevel.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.InferenceDuration
	m.InferenceTotal.Collect(ch)
	ch <- m.DroppedTasks
	m.ModelLoadTotal.Collect(ch)
	ch <- m.ModelLoadDuration
	m.State.Collect(ch)
	m.CategoryScore.Collect(ch)
	m.FlaggedCycles.Collect(ch)
	ch <- m.CaptureChunks
	ch <- m.InputLevel
}
