// Package monitoring publishes operational metrics. The taxonomy is
// deliberately narrow: raw counters and durations only, with a closed
// dimension set. Rates and percentages are derived by the dashboards,
// never at emit time, and per-incident dimensions are forbidden so
// cardinality stays bounded.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/opx/automation/internal/core"
)

// Metric names the emittable series.
type Metric string

const (
	MetricSuccess             Metric = "Success"
	MetricFailure             Metric = "Failure"
	MetricDuration            Metric = "Duration"
	MetricRecordsProcessed    Metric = "RecordsProcessed"
	MetricFailedServices      Metric = "FailedServices"
	MetricCalibrationSkipped  Metric = "CalibrationSkipped"
	MetricDriftDetected       Metric = "DriftDetected"
	MetricKillSwitchBlocked   Metric = "KillSwitchBlocked"
	MetricSnapshotRecordCount Metric = "SnapshotRecordCount"
	MetricInvocationCount     Metric = "InvocationCount"
	MetricValidationDrop      Metric = "ValidationDrop"
)

// Dimensions is the closed set of allowed metric dimensions. Empty fields
// are omitted from the emitted series.
type Dimensions struct {
	OperationType core.OperationType
	TriggerType   core.TriggerType
	Reason        string
	SnapshotType  core.SnapshotType
	ErrorType     string
	AgentID       string
	Model         string
}

// labels renders the dimensions in a fixed order, empty values included so
// vector backends see a stable label arity.
func (d Dimensions) labels() map[string]string {
	return map[string]string{
		"OperationType": string(d.OperationType),
		"TriggerType":   string(d.TriggerType),
		"Reason":        d.Reason,
		"SnapshotType":  string(d.SnapshotType),
		"ErrorType":     d.ErrorType,
		"AgentId":       d.AgentID,
		"Model":         d.Model,
	}
}

// Publisher emits metrics. Emission is best-effort everywhere: callers log
// and swallow errors, and no code path fails because a metric did not land.
type Publisher interface {
	Count(ctx context.Context, name Metric, value float64, dims Dimensions) error
	Duration(ctx context.Context, name Metric, d time.Duration, dims Dimensions) error
}

// Sample is one recorded emission, kept by the memory recorder.
type Sample struct {
	Name       Metric
	Value      float64
	DurationMs float64
	Dims       Dimensions
}

// Memory records emissions for tests and local runs.
type Memory struct {
	mu      sync.Mutex
	samples []Sample
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Count(_ context.Context, name Metric, value float64, dims Dimensions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, Sample{Name: name, Value: value, Dims: dims})
	return nil
}

func (m *Memory) Duration(_ context.Context, name Metric, d time.Duration, dims Dimensions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, Sample{Name: name, DurationMs: float64(d.Milliseconds()), Dims: dims})
	return nil
}

// Samples returns a copy of everything recorded so far.
func (m *Memory) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

// CountOf sums recorded values for a metric name.
func (m *Memory) CountOf(name Metric) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, s := range m.samples {
		if s.Name == name {
			total += s.Value
		}
	}
	return total
}
