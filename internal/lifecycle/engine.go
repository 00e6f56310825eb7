// Package lifecycle drives incidents through their state machine. The
// incident record is the source of truth; every transition re-reads,
// validates against the rule table, and writes under a version guard so a
// racing transition loses with CONFLICT instead of silently clobbering.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/events"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/kvstore"
	"github.com/opx/automation/internal/stores"
)

// rule is one edge of the transition table: the minimum authority and the
// metadata the transition must carry.
type rule struct {
	minAuthority       core.AuthorityType
	requiresReason     bool
	requiresResolution bool
	// resolutionPresent requires the incident to already carry its
	// resolution block (the RESOLVED -> CLOSED edge).
	resolutionPresent bool
}

// transitions is the complete edge set. Absent edges are invalid; CLOSED
// has no outgoing edges; self-loops are absent by construction.
var transitions = map[core.IncidentStatus]map[core.IncidentStatus]rule{
	core.StatusPending: {
		core.StatusOpen: {minAuthority: core.AuthorityHumanOperator},
	},
	core.StatusOpen: {
		core.StatusMitigating: {minAuthority: core.AuthorityHumanOperator},
		core.StatusResolved:   {minAuthority: core.AuthorityOnCallSRE, requiresReason: true, requiresResolution: true},
	},
	core.StatusMitigating: {
		core.StatusResolved: {minAuthority: core.AuthorityOnCallSRE, requiresReason: true, requiresResolution: true},
	},
	core.StatusResolved: {
		core.StatusClosed: {minAuthority: core.AuthorityHumanOperator, resolutionPresent: true},
	},
}

// TransitionRequest carries one attempted state change. Justification is
// required by the API edge when the authority is EMERGENCY_OVERRIDE and is
// recorded in the event payload.
type TransitionRequest struct {
	IncidentID    string
	To            core.IncidentStatus
	Authority     core.Authority
	Reason        string
	Resolution    *core.Resolution
	Justification string
}

// Engine applies transitions. Stateless apart from its handles.
type Engine struct {
	incidents *stores.IncidentStore
	events    *stores.IncidentEventStore
	bus       events.Bus
	now       func() time.Time
	logger    *zap.Logger
}

type Config struct {
	Incidents *stores.IncidentStore
	Events    *stores.IncidentEventStore
	// Bus receives transition events best-effort; nil disables publishing.
	Bus    events.Bus
	Now    func() time.Time
	Logger *zap.Logger
}

func NewEngine(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		incidents: cfg.Incidents,
		events:    cfg.Events,
		bus:       cfg.Bus,
		now:       now,
		logger:    cfg.Logger.Named("lifecycle"),
	}
}

// Transition moves an incident along one edge of the table and returns the
// updated record. The write is guarded by the version read at validation
// time; a concurrent transition surfaces as CONFLICT and the caller retries
// against fresh state or gives up.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (*core.Incident, error) {
	if !identity.ValidID(req.IncidentID) {
		return nil, opxerr.Newf(opxerr.CodeInvalidIncidentID,
			"incident id %q is not a 64-character lowercase hex digest", req.IncidentID)
	}
	if !req.Authority.Type.Valid() {
		return nil, opxerr.Newf(opxerr.CodeInvalidAuthority,
			"authority type %q is not recognized", req.Authority.Type)
	}
	if !req.To.Valid() {
		return nil, opxerr.Newf(opxerr.CodeInvalidTransition,
			"target status %q is not a lifecycle state", req.To)
	}

	inc, err := e.incidents.Get(ctx, req.IncidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, opxerr.Newf(opxerr.CodeNotFound, "incident %s does not exist", req.IncidentID)
	}

	r, ok := transitions[inc.Status][req.To]
	if !ok {
		return nil, opxerr.Newf(opxerr.CodeInvalidTransition,
			"transition %s -> %s is not permitted", inc.Status, req.To)
	}
	if !req.Authority.Satisfies(r.minAuthority) {
		return nil, opxerr.Newf(opxerr.CodeInsufficientAuthority,
			"%s -> %s requires at least %s, got %s", inc.Status, req.To, r.minAuthority, req.Authority.Type)
	}
	if r.requiresReason && req.Reason == "" {
		return nil, opxerr.Newf(opxerr.CodeMissingMetadata,
			"%s -> %s requires a reason", inc.Status, req.To)
	}
	if r.requiresResolution {
		if req.Resolution == nil || req.Resolution.Summary == "" || !req.Resolution.Type.Valid() {
			return nil, opxerr.Newf(opxerr.CodeMissingMetadata,
				"%s -> %s requires a resolution block with summary and type", inc.Status, req.To)
		}
	}
	if r.resolutionPresent && inc.Resolution == nil {
		return nil, opxerr.Newf(opxerr.CodeMissingMetadata,
			"%s -> %s requires the resolution to already be recorded", inc.Status, req.To)
	}

	from := inc.Status
	readVersion := inc.IncidentVersion
	at := core.NewTime(e.now())

	next := *inc
	next.Status = req.To
	next.IncidentVersion = readVersion + 1
	next.LastModifiedBy = req.Authority
	next.Timestamps.LastModifiedAt = at
	switch req.To {
	case core.StatusOpen:
		next.Timestamps.OpenedAt = at
	case core.StatusMitigating:
		next.Timestamps.MitigatingAt = at
	case core.StatusResolved:
		next.Timestamps.ResolvedAt = at
		if next.Resolution == nil {
			// Set exactly once on entry; immutable afterward.
			next.Resolution = req.Resolution
		}
	case core.StatusClosed:
		next.Timestamps.ClosedAt = at
	}

	if err := e.incidents.Update(ctx, &next, readVersion); err != nil {
		if opxerr.Is(err, kvstore.ErrConflict) || opxerr.Is(err, kvstore.ErrNotFound) {
			return nil, opxerr.Newf(opxerr.CodeConflict,
				"incident %s changed concurrently; re-read and retry", req.IncidentID)
		}
		return nil, err
	}

	e.appendEvent(ctx, &next, from, req)
	e.logger.Info("incident transitioned",
		zap.String("incidentId", next.IncidentID),
		zap.String("from", string(from)),
		zap.String("to", string(next.Status)),
		zap.String("authority", req.Authority.String()))
	return &next, nil
}

// appendEvent writes the StateTransitioned log entry and hands it to the
// bus. Neither path fails the transition: the incident record already
// carries the truth.
func (e *Engine) appendEvent(ctx context.Context, inc *core.Incident, from core.IncidentStatus, req TransitionRequest) {
	payload := map[string]any{
		"from":          string(from),
		"to":            string(inc.Status),
		"authorityType": string(req.Authority.Type),
		"principal":     req.Authority.Principal,
	}
	if req.Reason != "" {
		payload["reason"] = req.Reason
	}
	if req.Justification != "" {
		payload["justification"] = req.Justification
	}
	event := core.IncidentEvent{
		EventID:    uuid.NewString(),
		IncidentID: inc.IncidentID,
		EventType:  core.EventStateTransitioned,
		CreatedAt:  inc.Timestamps.LastModifiedAt,
		Payload:    payload,
	}
	if _, err := e.events.Append(ctx, &event); err != nil {
		e.logger.Warn("incident event append failed",
			zap.String("incidentId", inc.IncidentID), zap.Error(err))
	}
	if e.bus != nil {
		if err := e.bus.Publish(ctx, event); err != nil {
			e.logger.Warn("incident event publish failed",
				zap.String("incidentId", inc.IncidentID), zap.Error(err))
		}
	}
}
