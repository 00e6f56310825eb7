package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var promLabels = []string{"OperationType", "TriggerType", "Reason", "SnapshotType", "ErrorType", "AgentId", "Model"}

// Prometheus publishes metrics as counter and histogram vectors, scraped
// from the /metrics endpoint.
type Prometheus struct {
	counters  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewPrometheus registers the metric vectors on the given registerer; pass
// nil to use the default registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Prometheus{
		counters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "opx",
				Name:      "operation_events_total",
				Help:      "Raw operation event counters by metric name and dimensions",
			},
			append([]string{"metric"}, promLabels...),
		),
		durations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "opx",
				Name:      "operation_duration_milliseconds",
				Help:      "Operation durations in milliseconds",
				Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
			},
			append([]string{"metric"}, promLabels...),
		),
	}
}

func (p *Prometheus) Count(_ context.Context, name Metric, value float64, dims Dimensions) error {
	p.counters.With(p.labels(name, dims)).Add(value)
	return nil
}

func (p *Prometheus) Duration(_ context.Context, name Metric, d time.Duration, dims Dimensions) error {
	p.durations.With(p.labels(name, dims)).Observe(float64(d.Milliseconds()))
	return nil
}

func (p *Prometheus) labels(name Metric, dims Dimensions) prometheus.Labels {
	labels := prometheus.Labels{"metric": string(name)}
	for key, val := range dims.labels() {
		labels[key] = val
	}
	return labels
}
