// Package metrics backs ports.MetricsCollector with Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

// Label names used by the engine metrics.
const (
	LabelStatus     = "status"
	LabelStrategy   = "strategy"
	LabelPhase      = "phase"
	LabelActionType = "action_type"
)

// LatencyBuckets covers strategy phases that range from sub-millisecond
// dummies to minute-long consolidations (seconds).
var LatencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Collector implements ports.MetricsCollector on a private registry.
type Collector struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

// NewCollector registers the engine metric families.
func NewCollector() *Collector {
	c := &Collector{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
	}

	c.counter(ports.MetricAuditExecutions, "Audit executions by outcome.", LabelStatus)
	c.counter(ports.MetricPhaseFailures, "Strategy lifecycle phase failures.", LabelStrategy, LabelPhase)
	c.counter(ports.MetricActionsPlanned, "Actions written to action plans.", LabelActionType)
	c.gauge(ports.MetricActiveExecutions, "Audits currently executing.")
	c.histogram(ports.MetricExecutionDuration, "Wall time of audit executions in seconds.")
	c.histogram(ports.MetricPhaseDuration, "Wall time of strategy lifecycle phases in seconds.", LabelStrategy, LabelPhase)

	c.registry.MustRegister(prometheus.NewGoCollector())
	return c
}

func (c *Collector) counter(name, help string, labels ...string) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	c.registry.MustRegister(vec)
	c.counters[name] = vec
	c.labels[name] = labels
}

func (c *Collector) gauge(name, help string, labels ...string) {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	c.registry.MustRegister(vec)
	c.gauges[name] = vec
	c.labels[name] = labels
}

func (c *Collector) histogram(name, help string, labels ...string) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: LatencyBuckets}, labels)
	c.registry.MustRegister(vec)
	c.histograms[name] = vec
	c.labels[name] = labels
}

// values orders label values as declared; missing labels become "".
func (c *Collector) values(name string, labels map[string]string) []string {
	names := c.labels[name]
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = labels[n]
	}
	return out
}

// IncCounter implements ports.MetricsCollector. Unknown names are ignored.
func (c *Collector) IncCounter(_ context.Context, name string, labels map[string]string) {
	if vec, ok := c.counters[name]; ok {
		vec.WithLabelValues(c.values(name, labels)...).Inc()
	}
}

// AddGauge implements ports.MetricsCollector.
func (c *Collector) AddGauge(_ context.Context, name string, delta float64, labels map[string]string) {
	if vec, ok := c.gauges[name]; ok {
		vec.WithLabelValues(c.values(name, labels)...).Add(delta)
	}
}

// ObserveHistogram implements ports.MetricsCollector.
func (c *Collector) ObserveHistogram(_ context.Context, name string, value float64, labels map[string]string) {
	if vec, ok := c.histograms[name]; ok {
		vec.WithLabelValues(c.values(name, labels)...).Observe(value)
	}
}

// Registry exposes the underlying registry for scraping and tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Names lists the registered engine metric names.
func (c *Collector) Names() []string {
	names := make([]string, 0, len(c.labels))
	for name := range c.labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NoOp discards all measurements.
type NoOp struct{}

func (NoOp) IncCounter(context.Context, string, map[string]string)                {}
func (NoOp) AddGauge(context.Context, string, float64, map[string]string)         {}
func (NoOp) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var (
	_ ports.MetricsCollector = (*Collector)(nil)
	_ ports.MetricsCollector = NoOp{}
)
