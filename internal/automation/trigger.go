package automation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/invoker"
	"github.com/opx/automation/internal/monitoring"
	"github.com/opx/automation/internal/stores"
)

// TriggerRequest is one manual trigger from the API.
type TriggerRequest struct {
	Operation    core.OperationType
	Principal    string
	Emergency    bool
	Service      string
	TimeWindow   string
	SnapshotType core.SnapshotType
	StartDate    core.Time
	EndDate      core.Time
}

// TriggerResponse is the accepted-run receipt. RateLimit feeds the
// X-RateLimit response headers.
type TriggerResponse struct {
	AuditID   string          `json:"auditId"`
	Status    string          `json:"status"`
	RateLimit RateLimitResult `json:"-"`
}

// TriggerService accepts manual runs. No substantive work happens
// synchronously: the service validates, gates, and enqueues, and the
// caller polls the audit for the outcome.
type TriggerService struct {
	audits     *stores.AuditStore
	killSwitch *KillSwitch
	limiter    *RateLimiter
	invoker    invoker.Invoker
	metrics    monitoring.Publisher
	now        func() time.Time
	logger     *zap.Logger
}

type TriggerConfig struct {
	Audits     *stores.AuditStore
	KillSwitch *KillSwitch
	Limiter    *RateLimiter
	Invoker    invoker.Invoker
	Metrics    monitoring.Publisher
	Now        func() time.Time
	Logger     *zap.Logger
}

func NewTriggerService(cfg TriggerConfig) *TriggerService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TriggerService{
		audits:     cfg.Audits,
		killSwitch: cfg.KillSwitch,
		limiter:    cfg.Limiter,
		invoker:    cfg.Invoker,
		metrics:    cfg.Metrics,
		now:        now,
		logger:     cfg.Logger.Named("trigger"),
	}
}

// Trigger validates and enqueues one manual run. A kill-switch block still
// writes the skip audit so the attempt is visible; a rate-limit denial
// carries the retry budget in its details.
func (t *TriggerService) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResponse, error) {
	if err := t.validate(req); err != nil {
		return nil, err
	}
	if req.Principal == "" {
		return nil, opxerr.New(opxerr.CodeUnauthorized, "no principal in request context")
	}

	authority := core.Authority{Type: core.AuthorityHumanOperator, Principal: req.Principal}
	trigger := core.TriggerManual
	if req.Emergency {
		authority.Type = core.AuthorityEmergencyOverride
		trigger = core.TriggerManualEmergency
	}

	startTime := core.NewTime(t.now())
	auditID := identity.AuditID(req.Operation, startTime, core.RecordVersion)

	if t.killSwitch.Active(ctx) && authority.Type != core.AuthorityEmergencyOverride {
		t.recordBlocked(ctx, req, auditID, startTime, authority, trigger)
		return nil, opxerr.Newf(opxerr.CodeKillSwitchActive,
			"automation is suppressed by the kill switch").WithDetail("auditId", auditID)
	}

	rl := t.limiter.Check(ctx, req.Principal, req.Operation)
	if !rl.Allowed {
		return nil, opxerr.Newf(opxerr.CodeRateLimitExceeded,
			"%s exceeds %d manual triggers per hour", req.Operation, rl.Limit).
			WithDetail("retryAfterMs", rl.RetryAfter.Milliseconds()).
			WithDetail("currentCount", rl.CurrentCount).
			WithDetail("limit", rl.Limit)
	}

	payload := invoker.Payload{
		Operation: req.Operation,
		AuditID:   auditID,
		StartTime: startTime,
		Authority: authority,
		Params:    req.params(trigger),
	}
	if err := t.invoker.Invoke(ctx, payload); err != nil {
		return nil, opxerr.Wrap(err, opxerr.CodeInternal, "enqueue invocation")
	}

	t.logger.Info("manual trigger accepted",
		zap.String("auditId", auditID),
		zap.String("operation", string(req.Operation)),
		zap.String("principal", req.Principal),
		zap.Bool("emergency", req.Emergency))
	return &TriggerResponse{AuditID: auditID, Status: "ACCEPTED", RateLimit: rl}, nil
}

func (t *TriggerService) validate(req TriggerRequest) error {
	switch req.Operation {
	case core.OpPatternExtraction, core.OpCalibration:
	case core.OpSnapshot:
		if !req.SnapshotType.Valid() {
			return opxerr.Newf(opxerr.CodeValidation, "snapshot type %q is not recognized", req.SnapshotType)
		}
		if req.SnapshotType == core.SnapshotCustom && (req.StartDate.IsZero() || req.EndDate.IsZero()) {
			return opxerr.New(opxerr.CodeValidation, "CUSTOM snapshots require explicit startDate and endDate")
		}
	default:
		return opxerr.Newf(opxerr.CodeValidation, "operation %q cannot be triggered manually", req.Operation)
	}
	if !req.StartDate.IsZero() && !req.EndDate.IsZero() && req.EndDate.Before(req.StartDate) {
		return opxerr.New(opxerr.CodeValidation, "endDate precedes startDate")
	}
	return nil
}

func (req TriggerRequest) params(trigger core.TriggerType) map[string]any {
	params := map[string]any{"triggerType": string(trigger)}
	if req.Service != "" {
		params["service"] = req.Service
	}
	if req.TimeWindow != "" {
		params["timeWindow"] = req.TimeWindow
	}
	if req.SnapshotType != "" {
		params["snapshotType"] = string(req.SnapshotType)
	}
	if !req.StartDate.IsZero() {
		params["startDate"] = req.StartDate.String()
	}
	if !req.EndDate.IsZero() {
		params["endDate"] = req.EndDate.String()
	}
	return params
}

func (t *TriggerService) recordBlocked(ctx context.Context, req TriggerRequest, auditID string, startTime core.Time, authority core.Authority, trigger core.TriggerType) {
	audit := &core.AutomationAudit{
		AuditID:       auditID,
		OperationType: req.Operation,
		TriggerType:   trigger,
		StartTime:     startTime,
		EndTime:       startTime,
		Status:        core.AuditSuccess,
		Results:       map[string]any{core.ResultsKeySkipped: string(core.SkipKillSwitchActive)},
		TriggeredBy:   authority,
		Version:       core.RecordVersion,
	}
	if _, _, err := t.audits.Create(ctx, audit); err != nil {
		t.logger.Error("blocked-trigger audit write failed",
			zap.String("auditId", auditID), zap.Error(err))
	}
	if t.metrics != nil {
		dims := monitoring.Dimensions{OperationType: req.Operation, TriggerType: trigger}
		if err := t.metrics.Count(ctx, monitoring.MetricKillSwitchBlocked, 1, dims); err != nil {
			t.logger.Warn("kill-switch metric emission failed",
				zap.String("auditId", auditID), zap.Error(err))
		}
	}
}
