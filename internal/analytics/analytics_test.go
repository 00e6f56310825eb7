package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/monitoring"
)

func TestRecordEmitsAgentDimensions(t *testing.T) {
	mem := monitoring.NewMemory()
	rec := NewRecorder(mem, zap.NewNop())

	rec.Record(context.Background(), Invocation{AgentID: "runbook-agent", Model: "gpt-sre-1"})

	samples := mem.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, monitoring.MetricInvocationCount, samples[0].Name)
	assert.Equal(t, float64(1), samples[0].Value)
	assert.Equal(t, "runbook-agent", samples[0].Dims.AgentID)
	assert.Equal(t, "gpt-sre-1", samples[0].Dims.Model)
}

func TestRecordSkipsAnonymousInvocations(t *testing.T) {
	mem := monitoring.NewMemory()
	rec := NewRecorder(mem, zap.NewNop())

	rec.Record(context.Background(), Invocation{Model: "gpt-sre-1"})

	assert.Empty(t, mem.Samples())
}
