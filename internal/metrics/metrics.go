// Package metrics counts validation outcomes and writes them as a Prometheus
// text file for the node exporter textfile collector.
package metrics

import (
	"bytes"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Collector holds the waypoint metrics in a private registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry    *prometheus.Registry
	validations *prometheus.CounterVec
	relocations prometheus.Counter
	reused      prometheus.Counter
	duration    prometheus.Histogram
	nodes       *prometheus.GaugeVec
}

// NewCollector initializes a new metrics registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "waypoint_validations_total", Help: "Node validations by confidence"},
			[]string{"confidence"},
		),
		relocations: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "waypoint_relocations_total", Help: "Nodes moved to a suggested line"},
		),
		reused: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "waypoint_cached_verdicts_total", Help: "Validations answered from the verdict cache"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "waypoint_validation_duration_seconds",
				Help:    "Time spent validating a single node",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		nodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "waypoint_graph_nodes", Help: "Nodes per graph at the last validation pass"},
			[]string{"graph"},
		),
	}

	registry.MustRegister(c.validations, c.relocations, c.reused, c.duration, c.nodes)
	return c
}

// ObserveValidation records one verdict.
func (c *Collector) ObserveValidation(confidence string, duration time.Duration) {
	if c == nil {
		return
	}
	c.validations.WithLabelValues(confidence).Inc()
	c.duration.Observe(duration.Seconds())
}

// ObserveRelocation records a node moved to a new line.
func (c *Collector) ObserveRelocation() {
	if c == nil {
		return
	}
	c.relocations.Inc()
}

// ObserveCached records a verdict served from cache.
func (c *Collector) ObserveCached() {
	if c == nil {
		return
	}
	c.reused.Inc()
}

// SetGraphSize records the node count of a graph.
func (c *Collector) SetGraphSize(graph string, n int) {
	if c == nil {
		return
	}
	c.nodes.WithLabelValues(graph).Set(float64(n))
}

// Write writes all metrics to a Prometheus text file.
func (c *Collector) Write(path string) error {
	if c == nil {
		return nil
	}
	metricFamilies, err := c.registry.Gather()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range metricFamilies {
		if err := enc.Encode(family); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
