// Package analytics counts agent-assisted invocations of the automation
// surface. It emits raw counters over the shared metric publisher; all
// aggregation happens downstream.
package analytics

import (
	"context"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/monitoring"
)

// Invocation is one agent-assisted call. AgentID and Model identify the
// calling agent, never the incident it acted on.
type Invocation struct {
	AgentID string
	Model   string
}

// Recorder emits InvocationCount samples. It is an emitter over the
// monitoring publisher, nothing more.
type Recorder struct {
	metrics monitoring.Publisher
	logger  *zap.Logger
}

func NewRecorder(metrics monitoring.Publisher, logger *zap.Logger) *Recorder {
	return &Recorder{metrics: metrics, logger: logger.Named("analytics")}
}

// Record counts one invocation. Emission is best-effort: a metrics outage
// never fails the caller.
func (r *Recorder) Record(ctx context.Context, inv Invocation) {
	if inv.AgentID == "" {
		return
	}
	dims := monitoring.Dimensions{AgentID: inv.AgentID, Model: inv.Model}
	if err := r.metrics.Count(ctx, monitoring.MetricInvocationCount, 1, dims); err != nil {
		r.logger.Warn("invocation count emission failed",
			zap.String("agentId", inv.AgentID), zap.Error(err))
	}
}
