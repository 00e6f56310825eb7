package core

// OutcomeClassification is the human verdict on a closed incident. Exactly
// one of TruePositive/FalsePositive is set.
type OutcomeClassification struct {
	TruePositive   bool           `json:"truePositive"`
	FalsePositive  bool           `json:"falsePositive"`
	RootCause      string         `json:"rootCause"`
	ResolutionType ResolutionType `json:"resolutionType"`
}

// OutcomeTiming is derived from the incident record, never supplied by the
// caller. TTD and TTR are milliseconds and never negative.
type OutcomeTiming struct {
	DetectedAt Time  `json:"detectedAt"`
	ResolvedAt Time  `json:"resolvedAt"`
	ClosedAt   Time  `json:"closedAt"`
	TTDMs      int64 `json:"ttd"`
	TTRMs      int64 `json:"ttr"`
}

// HumanAssessment is the recorder's qualitative judgment.
type HumanAssessment struct {
	ConfidenceRating float64 `json:"confidenceRating"`
	SeverityAccuracy string  `json:"severityAccuracy"`
	DetectionQuality string  `json:"detectionQuality"`
	Notes            string  `json:"notes,omitempty"`
}

// OutcomePrediction snapshots what the system predicted at promotion time,
// captured from the incident so calibration never re-reads incidents.
type OutcomePrediction struct {
	ConfidenceScore float64        `json:"confidenceScore"`
	ConfidenceBand  ConfidenceBand `json:"confidenceBand"`
}

// IncidentOutcome is the immutable closure record for an incident:
// outcomeId = digest(incidentId | closedAt). Append-only; no update or
// delete, ever.
type IncidentOutcome struct {
	OutcomeID      string                `json:"outcomeId"`
	IncidentID     string                `json:"incidentId"`
	Service        string                `json:"service"`
	RecordedAt     Time                  `json:"recordedAt"`
	ValidatedAt    Time                  `json:"validatedAt"`
	RecordedBy     Authority             `json:"recordedBy"`
	Classification OutcomeClassification `json:"classification"`
	Timing         OutcomeTiming         `json:"timing"`
	HumanAssessment HumanAssessment      `json:"humanAssessment"`
	Prediction     OutcomePrediction     `json:"prediction"`
	Version        string                `json:"version"`
}
