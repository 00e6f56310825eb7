package signals

import (
	"time"

	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/identity"
)

// Bundler assembles detections into immutable evidence bundles. The
// bundle's bundledAt is the canonical decision clock for everything
// downstream: assessment, promotion, and incident creation all derive
// their timestamps from it.
type Bundler struct {
	now func() time.Time
}

func NewBundler(now func() time.Time) *Bundler {
	if now == nil {
		now = time.Now
	}
	return &Bundler{now: now}
}

// Bundle builds the evidence for one service over a window. The evidence
// id covers the sorted detection ids, so the same detections always name
// the same bundle.
func (b *Bundler) Bundle(service string, detections []core.Detection, windowStart, windowEnd core.Time) core.EvidenceBundle {
	if detections == nil {
		detections = []core.Detection{}
	}
	ids := make([]string, 0, len(detections))
	for _, d := range detections {
		ids = append(ids, d.DetectionID)
	}

	return core.EvidenceBundle{
		EvidenceID:    identity.EvidenceID(service, windowStart, windowEnd, ids),
		Service:       service,
		Detections:    detections,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		BundledAt:     core.NewTime(b.now()),
		SignalSummary: summarize(detections),
	}
}

// summarize aggregates the signals behind the detections: distinct signal
// count, severity distribution, detection time spread, and rule diversity.
func summarize(detections []core.Detection) core.SignalSummary {
	severities := make(map[core.Severity]int)
	rules := make(map[string]struct{})
	signals := make(map[string]struct{})
	var earliest, latest core.Time

	for _, d := range detections {
		severities[d.Severity]++
		rules[d.RuleID] = struct{}{}
		for _, id := range d.SignalIDs {
			signals[id] = struct{}{}
		}
		if earliest.IsZero() || d.DetectedAt.Before(earliest) {
			earliest = d.DetectedAt
		}
		if latest.IsZero() || d.DetectedAt.After(latest) {
			latest = d.DetectedAt
		}
	}

	var spread int64
	if !earliest.IsZero() {
		spread = latest.Sub(earliest).Milliseconds()
	}
	return core.SignalSummary{
		SignalCount:          len(signals),
		SeverityDistribution: severities,
		TimeSpreadMs:         spread,
		UniqueRules:          len(rules),
	}
}
