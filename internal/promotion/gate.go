// Package promotion implements the gate that decides whether an assessed
// candidate becomes an incident. The decision is deterministic in its
// inputs, checked in a fixed order with the first failing condition
// winning, and persisted exactly once per key.
package promotion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/kvstore"
	"github.com/opx/automation/internal/stores"
)

// Gate rule constants (v1.0.0).
const (
	minConfidenceScore = 0.6
	minDetections      = 2
	minUniqueRules     = 1
)

var minConfidenceBand = core.BandHigh

// Gate evaluates candidates. It is stateless apart from its store handles
// and the service allowlist fixed at construction.
type Gate struct {
	evidence   *stores.EvidenceStore
	promotions *stores.PromotionStore
	incidents  *stores.IncidentStore
	events     *stores.IncidentEventStore
	allowlist  map[string]struct{}
	now        func() time.Time
	logger     *zap.Logger
}

// Config wires the gate's collaborators.
type Config struct {
	Evidence   *stores.EvidenceStore
	Promotions *stores.PromotionStore
	Incidents  *stores.IncidentStore
	Events     *stores.IncidentEventStore
	// Allowlist names the services eligible for promotion.
	Allowlist []string
	// Now stamps incident event creation times; defaults to time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

func NewGate(cfg Config) *Gate {
	allow := make(map[string]struct{}, len(cfg.Allowlist))
	for _, s := range cfg.Allowlist {
		allow[s] = struct{}{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		evidence:   cfg.Evidence,
		promotions: cfg.Promotions,
		incidents:  cfg.Incidents,
		events:     cfg.Events,
		allowlist:  allow,
		now:        now,
		logger:     cfg.Logger.Named("gate"),
	}
}

// Evaluate runs the decision rule for an assessed candidate. PROMOTE
// persists the decision under the incident identity and creates the
// PENDING incident; REJECT persists under the candidate. Either way,
// create-if-absent makes the first decision authoritative: a replay
// returns the stored decision verbatim.
//
// A store failure mid-evaluation returns an unpersisted GATE_INTERNAL_ERROR
// result alongside the error; transient faults never pin a rejection.
func (g *Gate) Evaluate(ctx context.Context, evidenceID string, assessment core.CandidateAssessment) (*core.PromotionResult, error) {
	ev, err := g.evidence.Get(ctx, evidenceID)
	if err != nil {
		return g.internalError(evidenceID, assessment, err), err
	}
	if ev == nil {
		return g.persist(ctx, g.reject(nil, assessment, core.RejectEvidenceNotFound,
			fmt.Sprintf("evidence %s does not exist", evidenceID)))
	}

	if !assessment.ConfidenceBand.AtLeast(minConfidenceBand) {
		return g.persist(ctx, g.reject(ev, assessment, core.RejectConfidenceTooLow,
			fmt.Sprintf("confidence band %s is below required %s", assessment.ConfidenceBand, minConfidenceBand)))
	}
	if assessment.ConfidenceScore < minConfidenceScore {
		return g.persist(ctx, g.reject(ev, assessment, core.RejectConfidenceTooLow,
			fmt.Sprintf("confidence %.4f is below promotion threshold %.2f", assessment.ConfidenceScore, minConfidenceScore)))
	}
	if len(ev.Detections) < minDetections {
		return g.persist(ctx, g.reject(ev, assessment, core.RejectInsufficientDetections,
			fmt.Sprintf("%d detections, promotion requires at least %d", len(ev.Detections), minDetections)))
	}
	if ev.UniqueRuleCount() < minUniqueRules {
		return g.persist(ctx, g.reject(ev, assessment, core.RejectInsufficientDetections,
			fmt.Sprintf("%d distinct rules, promotion requires at least %d", ev.UniqueRuleCount(), minUniqueRules)))
	}
	if _, ok := g.allowlist[ev.Service]; !ok {
		return g.persist(ctx, g.reject(ev, assessment, core.RejectServiceNotAllowed,
			fmt.Sprintf("service %s is not on the promotion allowlist", ev.Service)))
	}

	incidentID := identity.IncidentID(ev.Service, ev.EvidenceID)
	existing, err := g.incidents.Get(ctx, incidentID)
	if err != nil {
		return g.internalError(evidenceID, assessment, err), err
	}
	if existing != nil && existing.Active() {
		return g.persist(ctx, g.reject(ev, assessment, core.RejectActiveIncidentExists,
			fmt.Sprintf("incident %s is already active in status %s", incidentID, existing.Status)))
	}

	result := &core.PromotionResult{
		Decision:        core.DecisionPromote,
		IncidentID:      incidentID,
		CandidateID:     assessment.CandidateID,
		EvidenceID:      ev.EvidenceID,
		ConfidenceScore: assessment.ConfidenceScore,
		ConfidenceBand:  assessment.ConfidenceBand,
		EvidenceWindow:  core.EvidenceWindow{Start: ev.WindowStart, End: ev.WindowEnd},
		EvaluatedAt:     ev.BundledAt,
		GateVersion:     core.GateVersion,
	}
	res, stored, err := g.promotions.Put(ctx, result)
	if err != nil {
		return g.internalError(evidenceID, assessment, err), err
	}
	if res == kvstore.AlreadyExists {
		return stored, nil
	}

	if err := g.createIncident(ctx, ev, assessment, result); err != nil {
		// The decision is durable; incident creation replays on the next
		// evaluation of the same evidence.
		return result, err
	}
	g.logger.Info("candidate promoted",
		zap.String("incidentId", incidentID),
		zap.String("service", ev.Service),
		zap.Float64("confidence", assessment.ConfidenceScore))
	return result, nil
}

func (g *Gate) reject(ev *core.EvidenceBundle, assessment core.CandidateAssessment, code core.RejectionCode, reason string) *core.PromotionResult {
	result := &core.PromotionResult{
		Decision:        core.DecisionReject,
		RejectionReason: reason,
		RejectionCode:   code,
		CandidateID:     assessment.CandidateID,
		EvidenceID:      assessment.EvidenceID,
		ConfidenceScore: assessment.ConfidenceScore,
		ConfidenceBand:  assessment.ConfidenceBand,
		EvaluatedAt:     assessment.AssessedAt,
		GateVersion:     core.GateVersion,
	}
	if ev != nil {
		result.EvidenceWindow = core.EvidenceWindow{Start: ev.WindowStart, End: ev.WindowEnd}
		result.EvaluatedAt = ev.BundledAt
	}
	return result
}

func (g *Gate) persist(ctx context.Context, result *core.PromotionResult) (*core.PromotionResult, error) {
	_, stored, err := g.promotions.Put(ctx, result)
	if err != nil {
		return result, err
	}
	return stored, nil
}

func (g *Gate) internalError(evidenceID string, assessment core.CandidateAssessment, err error) *core.PromotionResult {
	g.logger.Error("gate evaluation failed", zap.String("evidenceId", evidenceID), zap.Error(err))
	result := g.reject(nil, assessment, core.RejectGateInternalError,
		opxerr.AsError(err).Message)
	result.RejectionReason = "store lookup failed during gate evaluation"
	return result
}

// createIncident materializes the PENDING incident and its creation event.
// Timestamps derive from the promotion decision, which derives from the
// evidence's bundledAt; only the event log carries a wall-clock stamp.
func (g *Gate) createIncident(ctx context.Context, ev *core.EvidenceBundle, assessment core.CandidateAssessment, result *core.PromotionResult) error {
	inc := &core.Incident{
		IncidentID:      result.IncidentID,
		Service:         ev.Service,
		Severity:        ev.MaxDetectionSeverity(),
		Status:          core.StatusPending,
		EvidenceID:      ev.EvidenceID,
		CandidateID:     assessment.CandidateID,
		ConfidenceScore: assessment.ConfidenceScore,
		Timestamps: core.IncidentTimestamps{
			CreatedAt:      result.EvaluatedAt,
			LastModifiedAt: result.EvaluatedAt,
		},
		Title: fmt.Sprintf("[%s] %s: %d detections across %d rules",
			ev.MaxDetectionSeverity(), ev.Service, len(ev.Detections), ev.UniqueRuleCount()),
		Description: fmt.Sprintf("Promoted from evidence %s with confidence %.4f (%s).",
			ev.EvidenceID, assessment.ConfidenceScore, assessment.ConfidenceBand),
		Tags:               []string{"auto-promoted", ev.Service},
		CreatedBy:          core.SystemAuthority(),
		LastModifiedBy:     core.SystemAuthority(),
		BlastRadiusScope:   ev.Service,
		DetectionCount:     len(ev.Detections),
		EvidenceGraphCount: ev.SignalSummary.SignalCount,
	}
	res, _, err := g.incidents.Create(ctx, inc)
	if err != nil {
		return fmt.Errorf("create incident %s: %w", inc.IncidentID, err)
	}
	if res == kvstore.AlreadyExists {
		return nil
	}

	event := &core.IncidentEvent{
		EventID:    uuid.NewString(),
		IncidentID: inc.IncidentID,
		EventType:  core.EventIncidentCreated,
		CreatedAt:  core.NewTime(g.now()),
		Payload: map[string]any{
			"service":         inc.Service,
			"severity":        string(inc.Severity),
			"evidenceId":      inc.EvidenceID,
			"candidateId":     inc.CandidateID,
			"confidenceScore": inc.ConfidenceScore,
		},
	}
	if _, err := g.events.Append(ctx, event); err != nil {
		// The operational record is the source of truth; a missing log
		// entry is logged, not fatal.
		g.logger.Warn("incident event append failed",
			zap.String("incidentId", inc.IncidentID), zap.Error(err))
	}
	return nil
}
