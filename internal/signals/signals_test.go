package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opx/automation/internal/core"
)

func fixedClock(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func mustTime(t *testing.T, s string) core.Time {
	t.Helper()
	ts, err := core.ParseTime(s)
	require.NoError(t, err)
	return ts
}

func firingEvent(t *testing.T, name string) VendorEvent {
	t.Helper()
	return VendorEvent{
		AlarmName:  name,
		State:      "firing",
		Source:     "alarm",
		ObservedAt: mustTime(t, "2026-01-20T10:03:12.345Z"),
		Metadata:   map[string]string{"region": "us-east-1"},
	}
}

func TestNormalizeParsesCanonicalAlarmName(t *testing.T) {
	n := NewNormalizer(fixedClock("2026-01-20T10:04:00Z"))

	sig, ok := n.Normalize(firingEvent(t, "opx-payments-sev2-errorrate"))
	require.True(t, ok)
	assert.Equal(t, "payments", sig.Service)
	assert.Equal(t, core.SeveritySEV2, sig.Severity)
	assert.Equal(t, core.SeverityHigh, sig.NormalizedSeverity)
	assert.Equal(t, "2026-01-20T10:00Z", sig.IdentityWindow, "floored to the 5-minute grid")
	assert.Len(t, sig.SignalID, 64)
}

func TestNormalizeDropsWithoutDefaults(t *testing.T) {
	n := NewNormalizer(fixedClock("2026-01-20T10:04:00Z"))

	tests := []struct {
		name   string
		mutate func(*VendorEvent)
	}{
		{"not firing", func(ev *VendorEvent) { ev.State = "resolved" }},
		{"unparsable service", func(ev *VendorEvent) { ev.AlarmName = "payments-sev2" }},
		{"unparsable severity", func(ev *VendorEvent) { ev.AlarmName = "opx-payments-critical" }},
		{"sev out of range", func(ev *VendorEvent) { ev.AlarmName = "opx-payments-sev5" }},
		{"missing observedAt", func(ev *VendorEvent) { ev.ObservedAt = core.Time{} }},
		{"unknown source", func(ev *VendorEvent) { ev.Source = "webhook" }},
		{"missing source", func(ev *VendorEvent) { ev.Source = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev := firingEvent(t, "opx-payments-sev2")
			tc.mutate(&ev)
			_, ok := n.Normalize(ev)
			assert.False(t, ok)
		})
	}
}

func TestNormalizeFoldsSourceCasing(t *testing.T) {
	n := NewNormalizer(fixedClock("2026-01-20T10:04:00Z"))

	upper := firingEvent(t, "opx-payments-sev2")
	upper.Source = "ALARM"
	sigUpper, ok := n.Normalize(upper)
	require.True(t, ok)
	assert.Equal(t, core.SourceAlarm, sigUpper.Source)

	lower, ok := n.Normalize(firingEvent(t, "opx-payments-sev2"))
	require.True(t, ok)
	assert.Equal(t, lower.SignalID, sigUpper.SignalID, "casing never splits identity")
}

func TestNormalizeCollapsesWithinIdentityWindow(t *testing.T) {
	n := NewNormalizer(fixedClock("2026-01-20T10:04:00Z"))

	a := firingEvent(t, "opx-payments-sev2")
	b := firingEvent(t, "opx-payments-sev2")
	b.ObservedAt = mustTime(t, "2026-01-20T10:04:59.999Z") // same 5-minute cell

	sigA, ok := n.Normalize(a)
	require.True(t, ok)
	sigB, ok := n.Normalize(b)
	require.True(t, ok)
	assert.Equal(t, sigA.SignalID, sigB.SignalID, "equal inputs in one window collapse")

	c := firingEvent(t, "opx-payments-sev2")
	c.ObservedAt = mustTime(t, "2026-01-20T10:05:00.000Z") // next cell
	sigC, ok := n.Normalize(c)
	require.True(t, ok)
	assert.NotEqual(t, sigA.SignalID, sigC.SignalID)
}

func testDetections(t *testing.T) []core.Detection {
	t.Helper()
	return []core.Detection{
		{
			DetectionID: "det-1", RuleID: "rule-error-rate", Service: "payments",
			Severity: core.SeveritySEV2, SignalIDs: []string{"s1", "s2"},
			DetectedAt: mustTime(t, "2026-01-20T10:00:00.000Z"),
		},
		{
			DetectionID: "det-2", RuleID: "rule-latency", Service: "payments",
			Severity: core.SeveritySEV3, SignalIDs: []string{"s2", "s3"},
			DetectedAt: mustTime(t, "2026-01-20T10:04:00.000Z"),
		},
	}
}

func TestBundleSummarizesDetections(t *testing.T) {
	b := NewBundler(fixedClock("2026-01-20T10:05:00Z"))
	start := mustTime(t, "2026-01-20T10:00:00.000Z")
	end := mustTime(t, "2026-01-20T10:05:00.000Z")

	ev := b.Bundle("payments", testDetections(t), start, end)
	assert.Equal(t, 3, ev.SignalSummary.SignalCount, "distinct signal ids")
	assert.Equal(t, 2, ev.SignalSummary.UniqueRules)
	assert.EqualValues(t, 240000, ev.SignalSummary.TimeSpreadMs)
	assert.Equal(t, map[core.Severity]int{core.SeveritySEV2: 1, core.SeveritySEV3: 1}, ev.SignalSummary.SeverityDistribution)
	assert.Equal(t, mustTime(t, "2026-01-20T10:05:00.000Z"), ev.BundledAt)
}

func TestBundleIdentityIgnoresDetectionOrder(t *testing.T) {
	b := NewBundler(fixedClock("2026-01-20T10:05:00Z"))
	start := mustTime(t, "2026-01-20T10:00:00.000Z")
	end := mustTime(t, "2026-01-20T10:05:00.000Z")

	dets := testDetections(t)
	forward := b.Bundle("payments", dets, start, end)
	reversed := b.Bundle("payments", []core.Detection{dets[1], dets[0]}, start, end)
	assert.Equal(t, forward.EvidenceID, reversed.EvidenceID)
}
