package core

// ConfidenceBand buckets a confidence score. Bands are ordered; the
// promotion gate requires at least HIGH.
type ConfidenceBand string

const (
	BandLow      ConfidenceBand = "LOW"
	BandMedium   ConfidenceBand = "MEDIUM"
	BandHigh     ConfidenceBand = "HIGH"
	BandCritical ConfidenceBand = "CRITICAL"
)

// Band score thresholds: LOW [0,0.4), MEDIUM [0.4,0.6), HIGH [0.6,0.8),
// CRITICAL [0.8,1.0].
func BandFromScore(score float64) ConfidenceBand {
	switch {
	case score >= 0.8:
		return BandCritical
	case score >= 0.6:
		return BandHigh
	case score >= 0.4:
		return BandMedium
	default:
		return BandLow
	}
}

func (b ConfidenceBand) order() int {
	switch b {
	case BandLow:
		return 0
	case BandMedium:
		return 1
	case BandHigh:
		return 2
	case BandCritical:
		return 3
	default:
		return -1
	}
}

func (b ConfidenceBand) Valid() bool { return b.order() >= 0 }

// AtLeast reports whether b meets or exceeds the given band.
func (b ConfidenceBand) AtLeast(min ConfidenceBand) bool {
	return b.order() >= 0 && b.order() >= min.order()
}

// Midpoint is the expected accuracy of predictions in this band, the
// baseline drift is measured against.
func (b ConfidenceBand) Midpoint() float64 {
	switch b {
	case BandLow:
		return 0.2
	case BandMedium:
		return 0.5
	case BandHigh:
		return 0.7
	case BandCritical:
		return 0.9
	default:
		return 0
	}
}

// Factor is one scored input to the confidence model.
type Factor struct {
	// Value is the normalized factor input in [0,1].
	Value float64 `json:"value"`
	// Contribution is value*weight, rounded to 4 decimals.
	Contribution float64 `json:"contribution"`
	Weight       float64 `json:"weight"`
}

// FactorSet carries the five fixed model factors.
type FactorSet struct {
	DetectionCount  Factor `json:"detectionCount"`
	SeverityScore   Factor `json:"severityScore"`
	RuleDiversity   Factor `json:"ruleDiversity"`
	TemporalDensity Factor `json:"temporalDensity"`
	SignalVolume    Factor `json:"signalVolume"`
}

// WeightSum adds the factor weights; it must equal 1.0 within ±0.001.
func (f FactorSet) WeightSum() float64 {
	return f.DetectionCount.Weight + f.SeverityScore.Weight +
		f.RuleDiversity.Weight + f.TemporalDensity.Weight + f.SignalVolume.Weight
}

// CandidateAssessment is the confidence model's verdict on an evidence
// bundle. AssessedAt always equals the evidence's bundledAt so replays are
// byte-identical.
type CandidateAssessment struct {
	CandidateID     string         `json:"candidateId"`
	EvidenceID      string         `json:"evidenceId"`
	ConfidenceScore float64        `json:"confidenceScore"`
	ConfidenceBand  ConfidenceBand `json:"confidenceBand"`
	Reasons         []string       `json:"reasons"`
	Factors         FactorSet      `json:"factors"`
	AssessedAt      Time           `json:"assessedAt"`
	ModelVersion    string         `json:"modelVersion"`
}
