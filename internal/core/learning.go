package core

// PatternCount is one (value, count) pair in a resolution summary; top-10
// lists break count ties by lexicographic value so output is stable.
type PatternCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// SummaryMetrics aggregates outcomes in a window. Only raw counts and
// averages are stored; percentages are derived at read time.
type SummaryMetrics struct {
	TotalIncidents    int     `json:"totalIncidents"`
	TruePositives     int     `json:"truePositives"`
	FalsePositives    int     `json:"falsePositives"`
	AverageTTDMs      float64 `json:"averageTTD"`
	AverageTTRMs      float64 `json:"averageTTR"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// SummaryPatterns carries the extracted regularities.
type SummaryPatterns struct {
	CommonRootCauses  []PatternCount `json:"commonRootCauses"`
	CommonResolutions []PatternCount `json:"commonResolutions"`
	// DetectionWarnings names services whose false-positive rate exceeded
	// the warning threshold. Informational only.
	DetectionWarnings []string `json:"detectionWarnings"`
}

// ResolutionSummary is the pattern extractor's output for one
// (service-or-ALL, window) scope. summaryId = digest(scope:start:end:version).
type ResolutionSummary struct {
	SummaryID   string          `json:"summaryId"`
	Service     string          `json:"service"`
	WindowStart Time            `json:"windowStart"`
	WindowEnd   Time            `json:"windowEnd"`
	Metrics     SummaryMetrics  `json:"metrics"`
	Patterns    SummaryPatterns `json:"patterns"`
	GeneratedAt Time            `json:"generatedAt"`
	Version     string          `json:"version"`
}

// BandCalibration measures one confidence band against observed outcomes.
type BandCalibration struct {
	Band           ConfidenceBand `json:"band"`
	TotalIncidents int            `json:"totalIncidents"`
	TruePositives  int            `json:"truePositives"`
	FalsePositives int            `json:"falsePositives"`
	// Accuracy = TP / (TP+FP).
	Accuracy float64 `json:"accuracy"`
	// ExpectedAccuracy is the band midpoint.
	ExpectedAccuracy float64 `json:"expectedAccuracy"`
	// Drift = accuracy - expectedAccuracy.
	Drift float64 `json:"drift"`
	// SampleSizeSufficient gates the band into drift aggregates
	// (total >= 20).
	SampleSizeSufficient bool `json:"sampleSizeSufficient"`
}

// DriftAnalysis aggregates band drift over bands with sufficient samples.
type DriftAnalysis struct {
	Overconfident    []ConfidenceBand `json:"overconfident"`
	Underconfident   []ConfidenceBand `json:"underconfident"`
	WellCalibrated   []ConfidenceBand `json:"wellCalibrated"`
	InsufficientData []ConfidenceBand `json:"insufficientData"`
	AverageDrift     float64          `json:"averageDrift"`
	MaxDrift         float64          `json:"maxDrift"`
}

// RecommendationSeverity grades calibration advisories.
type RecommendationSeverity string

const (
	RecommendationInfo     RecommendationSeverity = "INFO"
	RecommendationWarning  RecommendationSeverity = "WARNING"
	RecommendationCritical RecommendationSeverity = "CRITICAL"
)

// CalibrationRecommendation is always advisory: Actionable is false by
// contract and the text carries the mandatory advisory language.
type CalibrationRecommendation struct {
	Band       ConfidenceBand         `json:"band"`
	Text       string                 `json:"text"`
	Severity   RecommendationSeverity `json:"severity"`
	Actionable bool                   `json:"actionable"`
}

// ConfidenceCalibration compares predicted bands against recorded outcomes
// for a window. calibrationId = digest(start:end:version).
type ConfidenceCalibration struct {
	CalibrationID    string                      `json:"calibrationId"`
	WindowStart      Time                        `json:"windowStart"`
	WindowEnd        Time                        `json:"windowEnd"`
	BandCalibrations []BandCalibration           `json:"bandCalibrations"`
	DriftAnalysis    DriftAnalysis               `json:"driftAnalysis"`
	Recommendations  []CalibrationRecommendation `json:"recommendations"`
	OutcomeCount     int                         `json:"outcomeCount"`
	GeneratedAt      Time                        `json:"generatedAt"`
	Version          string                      `json:"version"`
}

// SnapshotType selects the snapshot window shape and retention.
type SnapshotType string

const (
	SnapshotDaily   SnapshotType = "DAILY"
	SnapshotWeekly  SnapshotType = "WEEKLY"
	SnapshotMonthly SnapshotType = "MONTHLY"
	SnapshotCustom  SnapshotType = "CUSTOM"
)

func (t SnapshotType) Valid() bool {
	switch t {
	case SnapshotDaily, SnapshotWeekly, SnapshotMonthly, SnapshotCustom:
		return true
	}
	return false
}

// RetentionDays returns how long snapshots of this type are kept; 0 means
// no expiry. Enforcement belongs to the store's TTL machinery, never to
// application code.
func (t SnapshotType) RetentionDays() int {
	switch t {
	case SnapshotDaily:
		return 30
	case SnapshotWeekly:
		return 84
	default:
		return 0
	}
}

// DateRange is a closed window rendered with canonical timestamps.
type DateRange struct {
	Start Time `json:"start"`
	End   Time `json:"end"`
}

// SnapshotData is the aggregate stored inside a snapshot.
type SnapshotData struct {
	TotalOutcomes     int       `json:"totalOutcomes"`
	TotalSummaries    int       `json:"totalSummaries"`
	TotalCalibrations int       `json:"totalCalibrations"`
	Services          []string  `json:"services"`
	DateRange         DateRange `json:"dateRange"`
}

// LearningSnapshot is an immutable, dated archive of learning artifacts.
// snapshotId = digest(type:start:end:version).
type LearningSnapshot struct {
	SnapshotID     string       `json:"snapshotId"`
	SnapshotType   SnapshotType `json:"snapshotType"`
	WindowStart    Time         `json:"windowStart"`
	WindowEnd      Time         `json:"windowEnd"`
	Data           SnapshotData `json:"data"`
	OutcomeIDs     []string     `json:"outcomeIds"`
	SummaryIDs     []string     `json:"summaryIds"`
	CalibrationIDs []string     `json:"calibrationIds"`
	CreatedAt      Time         `json:"createdAt"`
	ExpiresAt      Time         `json:"expiresAt,omitzero"`
	Version        string       `json:"version"`
}
