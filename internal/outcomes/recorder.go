// Package outcomes records the human verdict on closed incidents. An
// outcome is the bridge between operations and learning: once written it
// is immutable, and the calibrator and pattern extractor read outcomes
// without ever going back to the incident table.
package outcomes

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/stores"
)

const (
	maxRootCauseLen = 500
	maxNotesLen     = 2000
)

// RecordRequest is one attempt to record an incident's closure outcome.
type RecordRequest struct {
	IncidentID      string
	Authority       core.Authority
	Classification  core.OutcomeClassification
	HumanAssessment core.HumanAssessment
	// RecordedAt defaults to the recorder's clock when zero; ValidatedAt
	// must not precede it.
	RecordedAt  core.Time
	ValidatedAt core.Time
}

// Recorder validates and persists outcomes.
type Recorder struct {
	incidents *stores.IncidentStore
	outcomes  *stores.OutcomeStore
	now       func() time.Time
	logger    *zap.Logger
}

type Config struct {
	Incidents *stores.IncidentStore
	Outcomes  *stores.OutcomeStore
	Now       func() time.Time
	Logger    *zap.Logger
}

func NewRecorder(cfg Config) *Recorder {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		incidents: cfg.Incidents,
		outcomes:  cfg.Outcomes,
		now:       now,
		logger:    cfg.Logger.Named("outcomes"),
	}
}

// Record runs the validation gate and writes the outcome. The id derives
// from (incidentId, closedAt), so recording the same closure twice replays
// the stored outcome instead of duplicating it.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (*core.IncidentOutcome, error) {
	if !identity.ValidID(req.IncidentID) {
		return nil, opxerr.Newf(opxerr.CodeInvalidIncidentID,
			"incident id %q is not a 64-character lowercase hex digest", req.IncidentID)
	}
	if err := r.validateAuthority(req.Authority); err != nil {
		return nil, err
	}
	if err := validateRequest(&req, core.NewTime(r.now())); err != nil {
		return nil, err
	}

	inc, err := r.incidents.Get(ctx, req.IncidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, opxerr.Newf(opxerr.CodeNotFound, "incident %s does not exist", req.IncidentID)
	}
	if inc.Status != core.StatusClosed {
		return nil, opxerr.Newf(opxerr.CodeValidation,
			"outcome recording requires status CLOSED, incident is %s", inc.Status)
	}

	outcome := &core.IncidentOutcome{
		OutcomeID:       identity.OutcomeID(inc.IncidentID, inc.Timestamps.ClosedAt),
		IncidentID:      inc.IncidentID,
		Service:         inc.Service,
		RecordedAt:      req.RecordedAt,
		ValidatedAt:     req.ValidatedAt,
		RecordedBy:      req.Authority,
		Classification:  req.Classification,
		Timing:          deriveTiming(inc),
		HumanAssessment: req.HumanAssessment,
		Prediction: core.OutcomePrediction{
			ConfidenceScore: inc.ConfidenceScore,
			ConfidenceBand:  core.BandFromScore(inc.ConfidenceScore),
		},
		Version: core.RecordVersion,
	}
	_, stored, err := r.outcomes.Put(ctx, outcome)
	if err != nil {
		return nil, err
	}
	r.logger.Info("outcome recorded",
		zap.String("outcomeId", stored.OutcomeID),
		zap.String("incidentId", inc.IncidentID),
		zap.Bool("truePositive", stored.Classification.TruePositive))
	return stored, nil
}

func (r *Recorder) validateAuthority(a core.Authority) error {
	switch a.Type {
	case core.AuthorityHumanOperator, core.AuthorityOnCallSRE, core.AuthorityEmergencyOverride:
		return nil
	case core.AuthorityAutoEngine:
		return opxerr.New(opxerr.CodeInsufficientAuthority,
			"outcome recording requires a human authority, got AUTO_ENGINE")
	default:
		return opxerr.Newf(opxerr.CodeInvalidAuthority, "authority type %q is not recognized", a.Type)
	}
}

func validateRequest(req *RecordRequest, now core.Time) error {
	if req.RecordedAt.IsZero() {
		req.RecordedAt = now
	}
	if req.ValidatedAt.IsZero() {
		req.ValidatedAt = req.RecordedAt
	}
	if req.ValidatedAt.Before(req.RecordedAt) {
		return opxerr.New(opxerr.CodeValidation, "validatedAt precedes recordedAt")
	}
	c := req.Classification
	if c.TruePositive == c.FalsePositive {
		return opxerr.New(opxerr.CodeValidation,
			"classification must set exactly one of truePositive, falsePositive")
	}
	if len(c.RootCause) == 0 || len(c.RootCause) > maxRootCauseLen {
		return opxerr.Newf(opxerr.CodeValidation,
			"rootCause length must be 1..%d characters", maxRootCauseLen)
	}
	if !c.ResolutionType.Valid() {
		return opxerr.Newf(opxerr.CodeValidation, "resolution type %q is not recognized", c.ResolutionType)
	}
	if len(req.HumanAssessment.Notes) > maxNotesLen {
		return opxerr.Newf(opxerr.CodeValidation, "notes exceed %d characters", maxNotesLen)
	}
	if rating := req.HumanAssessment.ConfidenceRating; rating < 0 || rating > 1 {
		return opxerr.New(opxerr.CodeValidation, "confidenceRating must be within [0,1]")
	}
	return nil
}

// deriveTiming computes detection and resolution latency from the incident
// record alone. Durations are milliseconds, floored at zero.
func deriveTiming(inc *core.Incident) core.OutcomeTiming {
	ts := inc.Timestamps
	return core.OutcomeTiming{
		DetectedAt: ts.CreatedAt,
		ResolvedAt: ts.ResolvedAt,
		ClosedAt:   ts.ClosedAt,
		TTDMs:      clampMillis(ts.OpenedAt, ts.CreatedAt),
		TTRMs:      clampMillis(ts.ResolvedAt, ts.CreatedAt),
	}
}

func clampMillis(later, earlier core.Time) int64 {
	if later.IsZero() || earlier.IsZero() {
		return 0
	}
	ms := later.Sub(earlier).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
