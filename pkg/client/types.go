package client

import "fmt"

// TriggerRequest is the body for the manual automation endpoints. Dates
// accept YYYY-MM-DD or full RFC 3339 timestamps.
type TriggerRequest struct {
	Service      string `json:"service,omitempty"`
	TimeWindow   string `json:"timeWindow,omitempty"`
	SnapshotType string `json:"snapshotType,omitempty"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	Emergency    bool   `json:"emergency,omitempty"`
}

// TriggerAccepted is the 202 receipt. Poll the audit for the outcome.
type TriggerAccepted struct {
	AuditID string `json:"auditId"`
	Status  string `json:"status"`
}

// KillSwitchStatus mirrors GET /automation/kill-switch/status.
type KillSwitchStatus struct {
	Active       bool   `json:"active"`
	Enabled      bool   `json:"enabled"`
	DisabledAt   string `json:"disabledAt,omitempty"`
	DisabledBy   string `json:"disabledBy,omitempty"`
	Reason       string `json:"reason,omitempty"`
	LastModified string `json:"lastModified"`
}

// Resolution is the closure summary attached when resolving an incident.
type Resolution struct {
	Summary string `json:"summary"`
	Type    string `json:"type"`
}

// TransitionRequest is the body for the incident mutation endpoints.
type TransitionRequest struct {
	Reason        string      `json:"reason,omitempty"`
	Resolution    *Resolution `json:"resolution,omitempty"`
	Justification string      `json:"justification,omitempty"`
}

// Incident is the server's incident record, as returned by reads and
// mutations.
type Incident struct {
	IncidentID      string             `json:"incidentId"`
	Service         string             `json:"service"`
	Severity        string             `json:"severity"`
	Status          string             `json:"status"`
	EvidenceID      string             `json:"evidenceId"`
	ConfidenceScore float64            `json:"confidenceScore"`
	Timestamps      IncidentTimestamps `json:"timestamps"`
	Resolution      *Resolution        `json:"resolution,omitempty"`
	IncidentVersion int64              `json:"incidentVersion"`
}

type IncidentTimestamps struct {
	CreatedAt      string `json:"createdAt"`
	OpenedAt       string `json:"openedAt,omitempty"`
	MitigatingAt   string `json:"mitigatingAt,omitempty"`
	ResolvedAt     string `json:"resolvedAt,omitempty"`
	ClosedAt       string `json:"closedAt,omitempty"`
	LastModifiedAt string `json:"lastModifiedAt"`
}

// OutcomeRequest is the body for POST /incidents/{id}/outcome.
type OutcomeRequest struct {
	Classification  OutcomeClassification `json:"classification"`
	HumanAssessment HumanAssessment       `json:"humanAssessment"`
	ValidatedAt     string                `json:"validatedAt,omitempty"`
}

type OutcomeClassification struct {
	TruePositive   bool   `json:"truePositive"`
	FalsePositive  bool   `json:"falsePositive"`
	RootCause      string `json:"rootCause"`
	ResolutionType string `json:"resolutionType"`
}

type HumanAssessment struct {
	ConfidenceRating float64 `json:"confidenceRating"`
	SeverityAccuracy string  `json:"severityAccuracy,omitempty"`
	DetectionQuality string  `json:"detectionQuality,omitempty"`
	Notes            string  `json:"notes,omitempty"`
}

// Outcome is the stored closure record.
type Outcome struct {
	OutcomeID      string                `json:"outcomeId"`
	IncidentID     string                `json:"incidentId"`
	Service        string                `json:"service"`
	Classification OutcomeClassification `json:"classification"`
	Timing         OutcomeTiming         `json:"timing"`
}

type OutcomeTiming struct {
	DetectedAt string `json:"detectedAt"`
	ResolvedAt string `json:"resolvedAt"`
	ClosedAt   string `json:"closedAt"`
	TTDMs      int64  `json:"ttd"`
	TTRMs      int64  `json:"ttr"`
}

// Audit is one automation audit record.
type Audit struct {
	AuditID       string         `json:"auditId"`
	OperationType string         `json:"operationType"`
	TriggerType   string         `json:"triggerType"`
	StartTime     string         `json:"startTime"`
	EndTime       string         `json:"endTime,omitempty"`
	Status        string         `json:"status"`
	Results       map[string]any `json:"results,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
}

// APIError is the server's error body. RetryAfterMs is populated from the
// details on 429 responses.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"error"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("opx: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}
