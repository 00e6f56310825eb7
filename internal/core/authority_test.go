package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorityLevels(t *testing.T) {
	assert.Equal(t, 0, AuthorityAutoEngine.Level())
	assert.Equal(t, 1, AuthorityHumanOperator.Level())
	assert.Equal(t, 2, AuthorityOnCallSRE.Level())
	assert.Equal(t, 999, AuthorityEmergencyOverride.Level())
	assert.Equal(t, -1, AuthorityType("ROOT").Level())
}

func TestAuthoritySatisfies(t *testing.T) {
	tests := []struct {
		name     string
		actual   AuthorityType
		required AuthorityType
		want     bool
	}{
		{"human meets human", AuthorityHumanOperator, AuthorityHumanOperator, true},
		{"sre exceeds human", AuthorityOnCallSRE, AuthorityHumanOperator, true},
		{"human below sre", AuthorityHumanOperator, AuthorityOnCallSRE, false},
		{"engine below human", AuthorityAutoEngine, AuthorityHumanOperator, false},
		{"override satisfies sre", AuthorityEmergencyOverride, AuthorityOnCallSRE, true},
		{"override satisfies override", AuthorityEmergencyOverride, AuthorityEmergencyOverride, true},
		{"sre below override", AuthorityOnCallSRE, AuthorityEmergencyOverride, false},
		{"unknown satisfies nothing", AuthorityType("ROOT"), AuthorityAutoEngine, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := Authority{Type: tc.actual, Principal: "p"}
			assert.Equal(t, tc.want, a.Satisfies(tc.required))
		})
	}
}

func TestSystemAuthority(t *testing.T) {
	sys := SystemAuthority()
	assert.Equal(t, AuthorityAutoEngine, sys.Type)
	assert.Equal(t, "SYSTEM", sys.Principal)
}

func TestSeverityDerivation(t *testing.T) {
	assert.Equal(t, SeveritySEV1, MaxSeverity([]Severity{SeveritySEV3, SeveritySEV1, SeveritySEV2}))
	assert.Equal(t, SeveritySEV4, MaxSeverity([]Severity{SeveritySEV4}))
	assert.Equal(t, Severity(""), MaxSeverity(nil))

	assert.Equal(t, SeverityCritical, SeveritySEV1.Normalized())
	assert.Equal(t, SeverityHigh, SeveritySEV2.Normalized())
	assert.Equal(t, SeverityMedium, SeveritySEV3.Normalized())
	assert.Equal(t, SeverityLow, SeveritySEV4.Normalized())
	assert.Equal(t, SeverityInfo, Severity("SEV9").Normalized())
}

func TestBandFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  ConfidenceBand
	}{
		{0.0, BandLow},
		{0.39, BandLow},
		{0.4, BandMedium},
		{0.59, BandMedium},
		{0.6, BandHigh},
		{0.79, BandHigh},
		{0.8, BandCritical},
		{1.0, BandCritical},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, BandFromScore(tc.score), "score %.2f", tc.score)
	}
}

func TestBandOrdering(t *testing.T) {
	assert.True(t, BandHigh.AtLeast(BandHigh))
	assert.True(t, BandCritical.AtLeast(BandHigh))
	assert.False(t, BandMedium.AtLeast(BandHigh))
	assert.False(t, ConfidenceBand("BOGUS").AtLeast(BandLow))
}

func TestIncidentStatusTerminal(t *testing.T) {
	assert.True(t, StatusClosed.Terminal())
	for _, s := range []IncidentStatus{StatusPending, StatusOpen, StatusMitigating, StatusResolved} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestSnapshotRetention(t *testing.T) {
	assert.Equal(t, 30, SnapshotDaily.RetentionDays())
	assert.Equal(t, 84, SnapshotWeekly.RetentionDays())
	assert.Equal(t, 0, SnapshotMonthly.RetentionDays())
	assert.Equal(t, 0, SnapshotCustom.RetentionDays())
}
