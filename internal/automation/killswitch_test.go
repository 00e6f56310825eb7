package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/kvstore"
	"github.com/opx/automation/internal/stores"
)

func newKillSwitchFixture(t *testing.T) (*KillSwitch, *stores.AuditStore) {
	t.Helper()
	db := kvstore.NewMemory()
	logger := zap.NewNop()
	audits := stores.NewAuditStore(db, "audits", logger)
	ks := NewKillSwitch(
		stores.NewKillSwitchStore(db, "config", logger),
		audits,
		func() time.Time { return time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC) },
		logger,
	)
	return ks, audits
}

func override() core.Authority {
	return core.Authority{Type: core.AuthorityEmergencyOverride, Principal: "arn:user/ic"}
}

func TestKillSwitchDefaultsInactive(t *testing.T) {
	ks, _ := newKillSwitchFixture(t)
	assert.False(t, ks.Active(context.Background()))
}

func TestKillSwitchDisableRequiresOverride(t *testing.T) {
	ks, _ := newKillSwitchFixture(t)
	err := ks.Disable(context.Background(),
		core.Authority{Type: core.AuthorityOnCallSRE, Principal: "arn:user/oncall"}, "incident")
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeInsufficientAuthority, opxerr.CodeOf(err))
	assert.False(t, ks.Active(context.Background()))
}

func TestKillSwitchDisableRequiresReason(t *testing.T) {
	ks, _ := newKillSwitchFixture(t)
	err := ks.Disable(context.Background(), override(), "")
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeValidation, opxerr.CodeOf(err))
}

func TestKillSwitchRoundTripWithAudits(t *testing.T) {
	ks, audits := newKillSwitchFixture(t)
	ctx := context.Background()

	require.NoError(t, ks.Disable(ctx, override(), "runaway automation during incident 42"))
	assert.True(t, ks.Active(ctx))

	status, err := ks.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Equal(t, "arn:user/ic", status.DisabledBy)
	assert.Equal(t, "runaway automation during incident 42", status.Reason)

	disableAudits, err := audits.ListByOperationType(ctx, core.OpKillSwitchDisable, 0)
	require.NoError(t, err)
	require.Len(t, disableAudits, 1)
	assert.Equal(t, core.AuditSuccess, disableAudits[0].Status)
	assert.Equal(t, core.TriggerManualEmergency, disableAudits[0].TriggerType)

	require.NoError(t, ks.Enable(ctx, override()))
	assert.False(t, ks.Active(ctx))

	enableAudits, err := audits.ListByOperationType(ctx, core.OpKillSwitchEnable, 0)
	require.NoError(t, err)
	assert.Len(t, enableAudits, 1)
}
