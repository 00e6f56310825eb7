package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/invoker"
	"github.com/opx/automation/internal/kvstore"
	"github.com/opx/automation/internal/monitoring"
	"github.com/opx/automation/internal/stores"
)

type triggerFixture struct {
	svc      *TriggerService
	audits   *stores.AuditStore
	ks       *KillSwitch
	metrics  *monitoring.Memory
	mu       sync.Mutex
	payloads []invoker.Payload
}

func newTriggerFixture(t *testing.T) *triggerFixture {
	t.Helper()
	db := kvstore.NewMemory()
	logger := zap.NewNop()
	clock := func() time.Time { return time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC) }

	f := &triggerFixture{
		audits:  stores.NewAuditStore(db, "audits", logger),
		metrics: monitoring.NewMemory(),
	}
	f.ks = NewKillSwitch(stores.NewKillSwitchStore(db, "config", logger), f.audits, clock, logger)
	capture := invoker.NewLocalSync(func(_ context.Context, p invoker.Payload) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.payloads = append(f.payloads, p)
		return nil
	}, logger)
	f.svc = NewTriggerService(TriggerConfig{
		Audits:     f.audits,
		KillSwitch: f.ks,
		Limiter:    NewRateLimiter(NewMemoryRateLimitStore(), clock, logger),
		Invoker:    capture,
		Metrics:    f.metrics,
		Now:        clock,
		Logger:     logger,
	})
	return f
}

func (f *triggerFixture) enqueued() []invoker.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invoker.Payload(nil), f.payloads...)
}

func TestTriggerAcceptedEnqueuesPayload(t *testing.T) {
	f := newTriggerFixture(t)

	resp, err := f.svc.Trigger(context.Background(), TriggerRequest{
		Operation:    core.OpSnapshot,
		Principal:    "arn:user/op",
		SnapshotType: core.SnapshotDaily,
	})
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", resp.Status)
	assert.NotEmpty(t, resp.AuditID)
	assert.True(t, resp.RateLimit.Allowed)

	payloads := f.enqueued()
	require.Len(t, payloads, 1)
	p := payloads[0]
	assert.Equal(t, core.OpSnapshot, p.Operation)
	assert.Equal(t, resp.AuditID, p.AuditID)
	assert.Equal(t, core.AuthorityHumanOperator, p.Authority.Type)
	assert.Equal(t, "arn:user/op", p.Authority.Principal)
	assert.Equal(t, string(core.TriggerManual), p.Params["triggerType"])
	assert.Equal(t, string(core.SnapshotDaily), p.Params["snapshotType"])
}

func TestTriggerEmergencyCarriesOverrideAuthority(t *testing.T) {
	f := newTriggerFixture(t)

	_, err := f.svc.Trigger(context.Background(), TriggerRequest{
		Operation: core.OpCalibration,
		Principal: "arn:user/ic",
		Emergency: true,
	})
	require.NoError(t, err)

	payloads := f.enqueued()
	require.Len(t, payloads, 1)
	assert.Equal(t, core.AuthorityEmergencyOverride, payloads[0].Authority.Type)
	assert.Equal(t, string(core.TriggerManualEmergency), payloads[0].Params["triggerType"])
}

func TestTriggerRequiresPrincipal(t *testing.T) {
	f := newTriggerFixture(t)

	_, err := f.svc.Trigger(context.Background(), TriggerRequest{
		Operation: core.OpCalibration,
	})
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeUnauthorized, opxerr.CodeOf(err))
	assert.Empty(t, f.enqueued())
}

func TestTriggerBlockedByKillSwitchStillAudits(t *testing.T) {
	f := newTriggerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ks.Disable(ctx, override(), "load shedding"))

	_, err := f.svc.Trigger(ctx, TriggerRequest{
		Operation: core.OpCalibration,
		Principal: "arn:user/op",
	})
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeKillSwitchActive, opxerr.CodeOf(err))
	assert.Empty(t, f.enqueued())

	coded := opxerr.AsError(err)
	require.NotNil(t, coded)
	auditID, ok := coded.Details["auditId"].(string)
	require.True(t, ok, "blocked trigger reports its skip audit")

	audit, getErr := f.audits.Get(ctx, auditID)
	require.NoError(t, getErr)
	assert.Equal(t, core.AuditSuccess, audit.Status)
	assert.Equal(t, string(core.SkipKillSwitchActive), audit.Results[core.ResultsKeySkipped])
	assert.Equal(t, core.TriggerManual, audit.TriggerType)
	assert.Equal(t, 1.0, f.metrics.CountOf(monitoring.MetricKillSwitchBlocked))
}

func TestTriggerEmergencyBypassesKillSwitch(t *testing.T) {
	f := newTriggerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ks.Disable(ctx, override(), "load shedding"))

	resp, err := f.svc.Trigger(ctx, TriggerRequest{
		Operation: core.OpCalibration,
		Principal: "arn:user/ic",
		Emergency: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", resp.Status)
	assert.Len(t, f.enqueued(), 1)
}

func TestTriggerRateLimited(t *testing.T) {
	f := newTriggerFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Trigger(ctx, TriggerRequest{
			Operation: core.OpCalibration,
			Principal: "arn:user/op",
		})
		require.NoError(t, err, "call %d", i+1)
	}

	_, err := f.svc.Trigger(ctx, TriggerRequest{
		Operation: core.OpCalibration,
		Principal: "arn:user/op",
	})
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeRateLimitExceeded, opxerr.CodeOf(err))

	coded := opxerr.AsError(err)
	require.NotNil(t, coded)
	assert.Equal(t, 3, coded.Details["currentCount"])
	assert.Equal(t, 3, coded.Details["limit"])
	retryAfterMs, ok := coded.Details["retryAfterMs"].(int64)
	require.True(t, ok)
	assert.Greater(t, retryAfterMs, int64(0))
	assert.LessOrEqual(t, retryAfterMs, int64(3_600_000))

	assert.Len(t, f.enqueued(), 3, "denied trigger never reaches the queue")
}

func TestTriggerValidation(t *testing.T) {
	f := newTriggerFixture(t)
	ctx := context.Background()
	start, _ := core.ParseTime("2026-02-10T00:00:00.000Z")
	end, _ := core.ParseTime("2026-02-01T00:00:00.000Z")

	cases := map[string]TriggerRequest{
		"unknown operation": {Operation: core.OpKillSwitchDisable, Principal: "arn:user/op"},
		"snapshot without type": {
			Operation: core.OpSnapshot, Principal: "arn:user/op",
		},
		"custom snapshot without bounds": {
			Operation: core.OpSnapshot, Principal: "arn:user/op", SnapshotType: core.SnapshotCustom,
		},
		"inverted date range": {
			Operation: core.OpSnapshot, Principal: "arn:user/op", SnapshotType: core.SnapshotCustom,
			StartDate: start, EndDate: end,
		},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Trigger(ctx, req)
			require.Error(t, err)
			assert.Equal(t, opxerr.CodeValidation, opxerr.CodeOf(err))
		})
	}
	assert.Empty(t, f.enqueued())
}
