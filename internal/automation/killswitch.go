package automation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/stores"
)

// KillSwitch is the global automation gate. Reads are fail-open: a store
// error is logged and treated as "inactive" because the switch is an
// emergency affordance, not a transactional lock. Writes require
// EMERGENCY_OVERRIDE and leave an audit trail.
type KillSwitch struct {
	store  *stores.KillSwitchStore
	audits *stores.AuditStore
	now    func() time.Time
	logger *zap.Logger
}

func NewKillSwitch(store *stores.KillSwitchStore, audits *stores.AuditStore, now func() time.Time, logger *zap.Logger) *KillSwitch {
	if now == nil {
		now = time.Now
	}
	return &KillSwitch{store: store, audits: audits, now: now, logger: logger.Named("kill-switch")}
}

// Active reports whether automation is suppressed. Fail-open on read
// error.
func (k *KillSwitch) Active(ctx context.Context) bool {
	state, err := k.store.Get(ctx)
	if err != nil {
		k.logger.Warn("kill switch read failed, treating as inactive", zap.Error(err))
		return false
	}
	return state.Active()
}

// Status returns the stored document for the status endpoint.
func (k *KillSwitch) Status(ctx context.Context) (*core.KillSwitchState, error) {
	return k.store.Get(ctx)
}

// Disable activates the switch, suppressing all non-emergency automation.
func (k *KillSwitch) Disable(ctx context.Context, authority core.Authority, reason string) error {
	if err := requireOverride(authority); err != nil {
		return err
	}
	if reason == "" {
		return opxerr.New(opxerr.CodeValidation, "kill switch disable requires a reason")
	}
	at := core.NewTime(k.now())
	state := &core.KillSwitchState{
		Enabled:      false,
		DisabledAt:   at,
		DisabledBy:   authority.Principal,
		Reason:       reason,
		LastModified: at,
	}
	if err := k.store.Set(ctx, state); err != nil {
		return err
	}
	k.audit(ctx, core.OpKillSwitchDisable, authority, at, map[string]any{"reason": reason})
	k.logger.Warn("kill switch engaged",
		zap.String("by", authority.Principal), zap.String("reason", reason))
	return nil
}

// Enable deactivates the switch, resuming automation.
func (k *KillSwitch) Enable(ctx context.Context, authority core.Authority) error {
	if err := requireOverride(authority); err != nil {
		return err
	}
	at := core.NewTime(k.now())
	state := &core.KillSwitchState{Enabled: true, LastModified: at}
	if err := k.store.Set(ctx, state); err != nil {
		return err
	}
	k.audit(ctx, core.OpKillSwitchEnable, authority, at, nil)
	k.logger.Info("kill switch released", zap.String("by", authority.Principal))
	return nil
}

func requireOverride(authority core.Authority) error {
	if authority.Type != core.AuthorityEmergencyOverride {
		return opxerr.Newf(opxerr.CodeInsufficientAuthority,
			"kill switch writes require EMERGENCY_OVERRIDE, got %s", authority.Type)
	}
	return nil
}

// audit records the switch action. The state change already happened, so a
// failed audit write is logged rather than unwound.
func (k *KillSwitch) audit(ctx context.Context, op core.OperationType, authority core.Authority, at core.Time, results map[string]any) {
	audit := &core.AutomationAudit{
		AuditID:       identity.AuditID(op, at, core.RecordVersion),
		OperationType: op,
		TriggerType:   core.TriggerManualEmergency,
		StartTime:     at,
		EndTime:       at,
		Status:        core.AuditSuccess,
		Results:       results,
		TriggeredBy:   authority,
		Version:       core.RecordVersion,
	}
	if _, _, err := k.audits.Create(ctx, audit); err != nil {
		k.logger.Error("kill switch audit write failed",
			zap.String("operation", string(op)), zap.Error(err))
	}
}
