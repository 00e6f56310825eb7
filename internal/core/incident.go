package core

// IncidentStatus is the lifecycle state of an incident. Transitions are
// governed by the lifecycle engine's rule table; CLOSED is terminal.
type IncidentStatus string

const (
	StatusPending    IncidentStatus = "PENDING"
	StatusOpen       IncidentStatus = "OPEN"
	StatusMitigating IncidentStatus = "MITIGATING"
	StatusResolved   IncidentStatus = "RESOLVED"
	StatusClosed     IncidentStatus = "CLOSED"
)

func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOpen, StatusMitigating, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s IncidentStatus) Terminal() bool { return s == StatusClosed }

// ResolutionType classifies how an incident was resolved.
type ResolutionType string

const (
	ResolutionFixed         ResolutionType = "FIXED"
	ResolutionFalsePositive ResolutionType = "FALSE_POSITIVE"
	ResolutionDuplicate     ResolutionType = "DUPLICATE"
	ResolutionWontFix       ResolutionType = "WONT_FIX"
)

func (r ResolutionType) Valid() bool {
	switch r {
	case ResolutionFixed, ResolutionFalsePositive, ResolutionDuplicate, ResolutionWontFix:
		return true
	}
	return false
}

// Resolution is set exactly once when an incident enters RESOLVED and is
// immutable afterward.
type Resolution struct {
	Summary    string         `json:"summary"`
	Type       ResolutionType `json:"type"`
	ResolvedBy string         `json:"resolvedBy"`
}

// IncidentTimestamps records when each state was entered. CreatedAt is
// derived from the promotion decision (= evidence bundledAt); the state
// entry timestamps are wall-clock at transition time.
type IncidentTimestamps struct {
	CreatedAt      Time `json:"createdAt"`
	OpenedAt       Time `json:"openedAt,omitzero"`
	MitigatingAt   Time `json:"mitigatingAt,omitzero"`
	ResolvedAt     Time `json:"resolvedAt,omitzero"`
	ClosedAt       Time `json:"closedAt,omitzero"`
	LastModifiedAt Time `json:"lastModifiedAt"`
}

// Incident is the operational record. The incident store is its source of
// truth; the event log is secondary.
type Incident struct {
	IncidentID         string             `json:"incidentId"`
	Service            string             `json:"service"`
	Severity           Severity           `json:"severity"`
	Status             IncidentStatus     `json:"status"`
	EvidenceID         string             `json:"evidenceId"`
	CandidateID        string             `json:"candidateId"`
	ConfidenceScore    float64            `json:"confidenceScore"`
	Timestamps         IncidentTimestamps `json:"timestamps"`
	Resolution         *Resolution        `json:"resolution,omitempty"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	Tags               []string           `json:"tags"`
	CreatedBy          Authority          `json:"createdBy"`
	LastModifiedBy     Authority          `json:"lastModifiedBy"`
	IncidentVersion    int64              `json:"incidentVersion"`
	BlastRadiusScope   string             `json:"blastRadiusScope"`
	DetectionCount     int                `json:"detectionCount"`
	EvidenceGraphCount int                `json:"evidenceGraphCount"`
}

// Active reports whether the incident blocks a new promotion with the same
// identity: any non-terminal status counts as active.
func (i *Incident) Active() bool { return !i.Status.Terminal() }

// IncidentEventType tags entries in the append-only incident event log.
type IncidentEventType string

const (
	EventIncidentCreated   IncidentEventType = "IncidentCreated"
	EventStateTransitioned IncidentEventType = "StateTransitioned"
)

// IncidentEvent is one append-only log entry, ordered by
// (incidentId, createdAt, eventId).
type IncidentEvent struct {
	EventID    string            `json:"eventId"`
	IncidentID string            `json:"incidentId"`
	EventType  IncidentEventType `json:"eventType"`
	CreatedAt  Time              `json:"createdAt"`
	Payload    map[string]any    `json:"payload"`
}

// IdempotencyStatus mirrors the request lifecycle on stored idempotency
// records.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
)

// RequestFingerprint pins which request fields participated in the hash.
type RequestFingerprint struct {
	Fields []string `json:"fields"`
	Hash   string   `json:"hash"`
}

// IdempotencyRecord makes repeated mutations with the same key replay the
// first response. Records are permanent: no TTL, no overwrite.
type IdempotencyRecord struct {
	IdempotencyKey     string             `json:"idempotencyKey"`
	RequestHash        string             `json:"requestHash"`
	Status             IdempotencyStatus  `json:"status"`
	Principal          string             `json:"principal"`
	CreatedAt          Time               `json:"createdAt"`
	CompletedAt        Time               `json:"completedAt,omitzero"`
	RequestFingerprint RequestFingerprint `json:"requestFingerprint"`
	IncidentID         string             `json:"incidentId,omitempty"`
	Response           []byte             `json:"response,omitempty"`
}
