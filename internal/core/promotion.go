package core

// PromotionDecision is the gate's binary verdict.
type PromotionDecision string

const (
	DecisionPromote PromotionDecision = "PROMOTE"
	DecisionReject  PromotionDecision = "REJECT"
)

// RejectionCode names the first gate condition that failed.
type RejectionCode string

const (
	RejectConfidenceTooLow       RejectionCode = "CONFIDENCE_TOO_LOW"
	RejectInsufficientDetections RejectionCode = "INSUFFICIENT_DETECTIONS"
	RejectActiveIncidentExists   RejectionCode = "ACTIVE_INCIDENT_EXISTS"
	RejectEvidenceNotFound       RejectionCode = "EVIDENCE_NOT_FOUND"
	RejectServiceNotAllowed      RejectionCode = "SERVICE_NOT_ALLOWED"
	RejectGateInternalError      RejectionCode = "GATE_INTERNAL_ERROR"
)

// EvidenceWindow is the time bounds of the evidence behind a decision.
type EvidenceWindow struct {
	Start Time `json:"start"`
	End   Time `json:"end"`
}

// PromotionResult is the gate's persisted decision. PROMOTE carries the
// deterministic incident identity; REJECT carries the first failing
// condition. EvaluatedAt equals the evidence's bundledAt.
type PromotionResult struct {
	Decision        PromotionDecision `json:"decision"`
	IncidentID      string            `json:"incidentId,omitempty"`
	RejectionReason string            `json:"rejectionReason,omitempty"`
	RejectionCode   RejectionCode     `json:"rejectionCode,omitempty"`
	CandidateID     string            `json:"candidateId"`
	EvidenceID      string            `json:"evidenceId"`
	ConfidenceScore float64           `json:"confidenceScore"`
	ConfidenceBand  ConfidenceBand    `json:"confidenceBand"`
	EvidenceWindow  EvidenceWindow    `json:"evidenceWindow"`
	EvaluatedAt     Time              `json:"evaluatedAt"`
	GateVersion     string            `json:"gateVersion"`
}

func (p *PromotionResult) Promoted() bool { return p.Decision == DecisionPromote }
