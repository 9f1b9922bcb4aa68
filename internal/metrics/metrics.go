// Package metrics collects deploy and destroy measurements and can write
// them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "vmspawner"

// Operation outcomes used as the result label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector is a prometheus.Collector for one vmspawner process. A nil
// *Collector discards everything.
type Collector struct {
	operations    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	uploadedBytes prometheus.Counter
	ipResolve     prometheus.Histogram
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Deploy and destroy operations by outcome.",
			}, []string{"operation", "result"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each deploy or destroy stage.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			}, []string{"stage"},
		),
		uploadedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "volume_upload_bytes_total",
				Help:      "Bytes streamed into base volumes.",
			},
		),
		ipResolve: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "ip_resolve_seconds",
				Help:      "Time from install to a DHCP lease being found.",
				Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 120},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.operations.Describe(ch)
	c.stageDuration.Describe(ch)
	c.uploadedBytes.Describe(ch)
	c.ipResolve.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.operations.Collect(ch)
	c.stageDuration.Collect(ch)
	c.uploadedBytes.Collect(ch)
	c.ipResolve.Collect(ch)
}

// ObserveOperation counts one finished deploy or destroy.
func (c *Collector) ObserveOperation(operation string, err error) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.operations.WithLabelValues(operation, result).Inc()
}

// StartStage returns a func that records the stage's duration when called.
func (c *Collector) StartStage(stage string) func() {
	if c == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		c.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// AddUploaded counts bytes streamed into a volume.
func (c *Collector) AddUploaded(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.uploadedBytes.Add(float64(n))
}

// ObserveIPResolve records how long address discovery took.
func (c *Collector) ObserveIPResolve(d time.Duration) {
	if c == nil {
		return
	}
	c.ipResolve.Observe(d.Seconds())
}

// WriteTextfile registers c in a fresh registry and writes it to path,
// atomically, in the textfile-collector format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
