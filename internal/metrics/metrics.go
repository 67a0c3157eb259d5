// Package metrics provides the Prometheus collectors the engine facade
// updates on every request and on a periodic registry scrape. Grounded on
// the teacher's internal/realtime.NewRealtimeMetrics (promauto collectors
// grouped under one namespace/subsystem struct); reshaped from dashboard
// connection/event counters to model-serving request/reshape/registry
// gauges. Library: prometheus/client_golang.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds every metric the engine touches. Register once per
// process; pass the same instance into pkg/engine.Options.
type Collectors struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ReshapeTotal       *prometheus.CounterVec
	PipelineTotal      *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	ModelsLoaded       prometheus.Gauge
	PipelinesAvailable prometheus.Gauge
}

// New registers a fresh Collectors set under namespace (e.g. "modelmesh")
// against reg. Pass prometheus.DefaultRegisterer for the global registry.
func New(reg prometheus.Registerer, namespace string) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "requests_total",
			Help:      "Total single-model predict requests, by model and outcome.",
		}, []string{"model", "outcome"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "duration_seconds",
			Help:      "Single-model predict latency, by model.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"model"}),

		ReshapeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "reshape_total",
			Help:      "Total reshape-then-retry dispatches, by model.",
		}, []string{"model"}),

		PipelineTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Total pipeline execution requests, by definition and outcome.",
		}, []string{"pipeline", "outcome"}),

		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline create+execute latency, by definition.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"pipeline"}),

		ModelsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "models_with_available_version",
			Help:      "Number of registered models with at least one AVAILABLE version.",
		}),

		PipelinesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "pipelines_available",
			Help:      "Number of registered pipeline definitions currently AVAILABLE.",
		}),
	}
}

// ObserveRequest records one Predict call's outcome and latency.
func (c *Collectors) ObserveRequest(model string, start time.Time, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.RequestsTotal.WithLabelValues(model, outcome).Inc()
	c.RequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
}

// ObserveReshape records one reshape-then-retry dispatch for model.
func (c *Collectors) ObserveReshape(model string) {
	if c == nil {
		return
	}
	c.ReshapeTotal.WithLabelValues(model).Inc()
}

// ObservePipeline records one PredictPipeline call's outcome and latency.
func (c *Collectors) ObservePipeline(name string, start time.Time, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.PipelineTotal.WithLabelValues(name, outcome).Inc()
	c.PipelineDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// SetRegistryGauges sets the point-in-time registry size gauges.
func (c *Collectors) SetRegistryGauges(modelsLoaded, pipelinesAvailable int) {
	if c == nil {
		return
	}
	c.ModelsLoaded.Set(float64(modelsLoaded))
	c.PipelinesAvailable.Set(float64(pipelinesAvailable))
}
