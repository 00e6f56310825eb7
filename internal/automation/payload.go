package automation

import (
	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/invoker"
)

// RequestFromPayload rebuilds the orchestrator request from an invocation
// payload, so async workers resume the run under the audit id the trigger
// already handed to the caller.
func RequestFromPayload(p invoker.Payload) (Request, error) {
	req := Request{
		Operation: p.Operation,
		Trigger:   core.TriggerScheduled,
		Authority: p.Authority,
		AuditID:   p.AuditID,
		StartTime: p.StartTime,
	}
	str := func(key string) string {
		v, _ := p.Params[key].(string)
		return v
	}
	if t := str("triggerType"); t != "" {
		req.Trigger = core.TriggerType(t)
	}
	req.Service = str("service")
	req.TimeWindow = str("timeWindow")
	req.SnapshotType = core.SnapshotType(str("snapshotType"))

	if raw := str("startDate"); raw != "" {
		t, err := core.ParseDate(raw)
		if err != nil {
			return Request{}, opxerr.Newf(opxerr.CodeValidation, "startDate: %v", err)
		}
		req.StartDate = t
	}
	if raw := str("endDate"); raw != "" {
		t, err := core.ParseDate(raw)
		if err != nil {
			return Request{}, opxerr.Newf(opxerr.CodeValidation, "endDate: %v", err)
		}
		req.EndDate = t
	}
	return req, nil
}
