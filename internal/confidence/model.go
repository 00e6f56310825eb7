// Package confidence maps an evidence bundle to a score, a band, and an
// explanation. The model is deterministic: fixed weights, fixed
// normalizations, and 4-decimal rounding, so replaying the same evidence
// is byte-identical.
package confidence

import (
	"fmt"
	"math"

	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/identity"
)

// Fixed factor weights (model v1.0.0). They sum to 1.0 by construction.
const (
	weightDetectionCount  = 0.30
	weightSeverityScore   = 0.25
	weightRuleDiversity   = 0.20
	weightTemporalDensity = 0.15
	weightSignalVolume    = 0.10
)

// Normalization ceilings: factor values saturate at these input sizes.
const (
	detectionSaturation = 10
	signalSaturation    = 50
)

// Model is the confidence assessor. It is stateless; the version string
// participates in the candidate identity.
type Model struct {
	version string
}

func NewModel() *Model {
	return &Model{version: core.ModelVersion}
}

// Assess scores an evidence bundle. assessedAt is the evidence's bundledAt,
// never the wall clock.
func (m *Model) Assess(ev *core.EvidenceBundle) core.CandidateAssessment {
	n := len(ev.Detections)

	factors := core.FactorSet{
		DetectionCount:  factor(math.Min(float64(n)/detectionSaturation, 1), weightDetectionCount),
		SeverityScore:   factor(severityScore(ev.Detections), weightSeverityScore),
		RuleDiversity:   factor(ruleDiversity(ev), weightRuleDiversity),
		TemporalDensity: factor(temporalDensity(ev), weightTemporalDensity),
		SignalVolume:    factor(math.Min(float64(ev.SignalSummary.SignalCount)/signalSaturation, 1), weightSignalVolume),
	}

	score := round4(factors.DetectionCount.Contribution +
		factors.SeverityScore.Contribution +
		factors.RuleDiversity.Contribution +
		factors.TemporalDensity.Contribution +
		factors.SignalVolume.Contribution)
	band := core.BandFromScore(score)

	return core.CandidateAssessment{
		CandidateID:     identity.CandidateID(ev.EvidenceID, m.version),
		EvidenceID:      ev.EvidenceID,
		ConfidenceScore: score,
		ConfidenceBand:  band,
		Reasons:         reasons(ev, factors, score, band),
		Factors:         factors,
		AssessedAt:      ev.BundledAt,
		ModelVersion:    m.version,
	}
}

func factor(value, weight float64) core.Factor {
	v := round4(value)
	return core.Factor{Value: v, Contribution: round4(v * weight), Weight: weight}
}

// severityScore averages detection severities mapped SEV1=1.0, SEV2=0.75,
// SEV3=0.5, SEV4=0.25.
func severityScore(detections []core.Detection) float64 {
	if len(detections) == 0 {
		return 0
	}
	var sum float64
	for _, d := range detections {
		sum += float64(d.Severity.Rank()) * 0.25
	}
	return sum / float64(len(detections))
}

// ruleDiversity is distinct rules over detection count; 0 with no
// detections.
func ruleDiversity(ev *core.EvidenceBundle) float64 {
	n := len(ev.Detections)
	if n == 0 {
		return 0
	}
	return float64(ev.UniqueRuleCount()) / float64(n)
}

// temporalDensity is detections per window minute, saturating at 1. An
// empty window counts as maximally dense.
func temporalDensity(ev *core.EvidenceBundle) float64 {
	minutes := ev.WindowEnd.Sub(ev.WindowStart).Minutes()
	if minutes <= 0 {
		return 1
	}
	return math.Min(float64(len(ev.Detections))/minutes, 1)
}

// reasons produces the human-readable explanation; there is always at
// least one entry.
func reasons(ev *core.EvidenceBundle, f core.FactorSet, score float64, band core.ConfidenceBand) []string {
	out := []string{
		fmt.Sprintf("confidence %.4f places the candidate in band %s", score, band),
	}
	if len(ev.Detections) > 0 {
		out = append(out, fmt.Sprintf("%d detections across %d distinct rules for service %s",
			len(ev.Detections), ev.UniqueRuleCount(), ev.Service))
	} else {
		out = append(out, "evidence bundle contains no detections")
	}
	if f.SeverityScore.Value >= 0.75 {
		out = append(out, fmt.Sprintf("mean detection severity %.2f indicates a high-severity cluster", f.SeverityScore.Value))
	}
	if f.SignalVolume.Value >= 1 {
		out = append(out, fmt.Sprintf("signal volume saturated the model ceiling of %d", signalSaturation))
	}
	return out
}

// round4 rounds half away from zero to 4 decimals; math.Round gives the
// half-away-from-zero tie-break.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
