package core

// SignalSource classifies where a raw observation came from.
type SignalSource string

const (
	SourceAlarm  SignalSource = "alarm"
	SourceMetric SignalSource = "metric"
	SourceLog    SignalSource = "log"
	SourceCustom SignalSource = "custom"
	SourceEvent  SignalSource = "event"
)

func (s SignalSource) Valid() bool {
	switch s {
	case SourceAlarm, SourceMetric, SourceLog, SourceCustom, SourceEvent:
		return true
	}
	return false
}

// Signal is one normalized vendor observation. Created once by the
// normalizer, never mutated; duplicates collapse by id because the id is a
// digest over the identity-relevant fields and the identity window.
type Signal struct {
	SignalID           string             `json:"signalId"`
	Source             SignalSource       `json:"source"`
	SignalType         string             `json:"signalType"`
	Service            string             `json:"service"`
	Severity           Severity           `json:"severity"`
	NormalizedSeverity NormalizedSeverity `json:"normalizedSeverity"`
	ObservedAt         Time               `json:"observedAt"`
	IdentityWindow     string             `json:"identityWindow"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
	IngestedAt         Time               `json:"ingestedAt"`
}

// Detection is one rule firing over a set of signals, produced by the
// detection layer upstream of evidence bundling.
type Detection struct {
	DetectionID string   `json:"detectionId"`
	RuleID      string   `json:"ruleId"`
	Service     string   `json:"service"`
	Severity    Severity `json:"severity"`
	SignalIDs   []string `json:"signalIds"`
	DetectedAt  Time     `json:"detectedAt"`
}

// SignalSummary aggregates the signals behind an evidence bundle.
type SignalSummary struct {
	SignalCount          int              `json:"signalCount"`
	SeverityDistribution map[Severity]int `json:"severityDistribution"`
	// TimeSpreadMs is the span between the earliest and latest detection, in
	// milliseconds.
	TimeSpreadMs int64 `json:"timeSpread"`
	UniqueRules  int   `json:"uniqueRules"`
}

// EvidenceBundle is an immutable set of detections over a window. BundledAt
// is the sole authoritative decision clock: assessment, promotion, and
// incident creation timestamps all derive from it.
type EvidenceBundle struct {
	EvidenceID    string        `json:"evidenceId"`
	Service       string        `json:"service"`
	Detections    []Detection   `json:"detections"`
	WindowStart   Time          `json:"windowStart"`
	WindowEnd     Time          `json:"windowEnd"`
	BundledAt     Time          `json:"bundledAt"`
	SignalSummary SignalSummary `json:"signalSummary"`
}

// MaxDetectionSeverity returns the most severe detection severity in the
// bundle, the value an incident inherits on promotion.
func (e *EvidenceBundle) MaxDetectionSeverity() Severity {
	severities := make([]Severity, 0, len(e.Detections))
	for _, d := range e.Detections {
		severities = append(severities, d.Severity)
	}
	return MaxSeverity(severities)
}

// UniqueRuleCount counts distinct rule ids across detections.
func (e *EvidenceBundle) UniqueRuleCount() int {
	rules := make(map[string]struct{}, len(e.Detections))
	for _, d := range e.Detections {
		rules[d.RuleID] = struct{}{}
	}
	return len(rules)
}
