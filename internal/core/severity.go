package core

// Severity is the raw paging severity attached to signals and detections.
type Severity string

const (
	SeveritySEV1 Severity = "SEV1"
	SeveritySEV2 Severity = "SEV2"
	SeveritySEV3 Severity = "SEV3"
	SeveritySEV4 Severity = "SEV4"
)

// NormalizedSeverity is the cross-vendor severity vocabulary.
type NormalizedSeverity string

const (
	SeverityCritical NormalizedSeverity = "CRITICAL"
	SeverityHigh     NormalizedSeverity = "HIGH"
	SeverityMedium   NormalizedSeverity = "MEDIUM"
	SeverityLow      NormalizedSeverity = "LOW"
	SeverityInfo     NormalizedSeverity = "INFO"
)

// Rank orders severities for max() derivation; SEV1 is highest. Unknown
// severities rank 0 and lose every comparison.
func (s Severity) Rank() int {
	switch s {
	case SeveritySEV1:
		return 4
	case SeveritySEV2:
		return 3
	case SeveritySEV3:
		return 2
	case SeveritySEV4:
		return 1
	default:
		return 0
	}
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// Normalized maps a paging severity to the cross-vendor vocabulary.
func (s Severity) Normalized() NormalizedSeverity {
	switch s {
	case SeveritySEV1:
		return SeverityCritical
	case SeveritySEV2:
		return SeverityHigh
	case SeveritySEV3:
		return SeverityMedium
	case SeveritySEV4:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// MaxSeverity returns the most severe of the given severities, or the zero
// value when the slice is empty.
func MaxSeverity(severities []Severity) Severity {
	var max Severity
	for _, s := range severities {
		if s.Rank() > max.Rank() {
			max = s
		}
	}
	return max
}
