package confidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opx/automation/internal/core"
)

func mustTime(t *testing.T, s string) core.Time {
	t.Helper()
	ts, err := core.ParseTime(s)
	require.NoError(t, err)
	return ts
}

func bundle(t *testing.T, detections int, rules int, signalCount int, windowMinutes int) *core.EvidenceBundle {
	t.Helper()
	start := mustTime(t, "2026-01-20T10:00:00.000Z")
	dets := make([]core.Detection, 0, detections)
	for i := 0; i < detections; i++ {
		rule := "rule-" + string(rune('a'+i%rules))
		dets = append(dets, core.Detection{
			DetectionID: "det-" + string(rune('a'+i)),
			RuleID:      rule,
			Service:     "payments",
			Severity:    core.SeveritySEV2,
			DetectedAt:  start.Add(time.Duration(i) * time.Minute),
		})
	}
	return &core.EvidenceBundle{
		EvidenceID:  "e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0",
		Service:     "payments",
		Detections:  dets,
		WindowStart: start,
		WindowEnd:   start.Add(time.Duration(windowMinutes) * time.Minute),
		BundledAt:   mustTime(t, "2026-01-20T10:30:00.000Z"),
		SignalSummary: core.SignalSummary{
			SignalCount: signalCount,
			UniqueRules: rules,
		},
	}
}

func TestAssessIsDeterministic(t *testing.T) {
	m := NewModel()
	ev := bundle(t, 4, 2, 25, 30)

	first := m.Assess(ev)
	second := m.Assess(ev)
	assert.Equal(t, first, second, "replay must be byte-identical")
	assert.Equal(t, ev.BundledAt, first.AssessedAt, "assessedAt is the decision clock")
	assert.Equal(t, core.ModelVersion, first.ModelVersion)
}

func TestAssessWeightsSumToOne(t *testing.T) {
	m := NewModel()
	a := m.Assess(bundle(t, 4, 2, 25, 30))
	assert.InDelta(t, 1.0, a.Factors.WeightSum(), 0.001)
}

func TestAssessFactorValues(t *testing.T) {
	m := NewModel()
	a := m.Assess(bundle(t, 4, 2, 25, 30))

	assert.InDelta(t, 0.4, a.Factors.DetectionCount.Value, 1e-9, "4/10 detections")
	assert.InDelta(t, 0.75, a.Factors.SeverityScore.Value, 1e-9, "all SEV2")
	assert.InDelta(t, 0.5, a.Factors.RuleDiversity.Value, 1e-9, "2 rules / 4 detections")
	assert.InDelta(t, 0.1333, a.Factors.TemporalDensity.Value, 1e-9, "4 per 30 minutes, rounded")
	assert.InDelta(t, 0.5, a.Factors.SignalVolume.Value, 1e-9, "25/50 signals")

	sum := a.Factors.DetectionCount.Contribution + a.Factors.SeverityScore.Contribution +
		a.Factors.RuleDiversity.Contribution + a.Factors.TemporalDensity.Contribution +
		a.Factors.SignalVolume.Contribution
	assert.InDelta(t, sum, a.ConfidenceScore, 1e-9)
}

func TestBandMatchesScoreRange(t *testing.T) {
	m := NewModel()
	tests := []struct {
		name string
		ev   *core.EvidenceBundle
	}{
		{"sparse", bundle(t, 1, 1, 2, 60)},
		{"moderate", bundle(t, 4, 2, 25, 30)},
		{"dense", bundle(t, 10, 5, 50, 5)},
		{"empty", bundle(t, 0, 1, 0, 30)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := m.Assess(tc.ev)
			assert.Equal(t, core.BandFromScore(a.ConfidenceScore), a.ConfidenceBand)
			assert.GreaterOrEqual(t, a.ConfidenceScore, 0.0)
			assert.LessOrEqual(t, a.ConfidenceScore, 1.0)
			assert.NotEmpty(t, a.Reasons, "at least one reason, always")
		})
	}
}

func TestEmptyWindowCountsAsDense(t *testing.T) {
	m := NewModel()
	ev := bundle(t, 3, 2, 10, 0)
	a := m.Assess(ev)
	assert.InDelta(t, 1.0, a.Factors.TemporalDensity.Value, 1e-9)
}
