package stores

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
)

func testTime(t *testing.T, s string) core.Time {
	t.Helper()
	ts, err := core.ParseTime(s)
	require.NoError(t, err)
	return ts
}

func hexID(c byte) string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

func testAuthority() core.Authority {
	return core.Authority{Type: core.AuthorityHumanOperator, Principal: "arn:user/alice"}
}

func testOutcome(t *testing.T, id byte, service, closedAt string) *core.IncidentOutcome {
	closed := testTime(t, closedAt)
	return &core.IncidentOutcome{
		OutcomeID:  hexID(id),
		IncidentID: hexID('b'),
		Service:    service,
		RecordedAt: closed,
		ValidatedAt: closed,
		RecordedBy: testAuthority(),
		Classification: core.OutcomeClassification{
			TruePositive:   true,
			RootCause:      "connection pool exhaustion",
			ResolutionType: core.ResolutionFixed,
		},
		Timing: core.OutcomeTiming{
			DetectedAt: closed.Add(-2 * time.Hour),
			ResolvedAt: closed.Add(-time.Hour),
			ClosedAt:   closed,
			TTDMs:      60000,
			TTRMs:      3600000,
		},
		HumanAssessment: core.HumanAssessment{ConfidenceRating: 0.8},
		Prediction:      core.OutcomePrediction{ConfidenceScore: 0.72, ConfidenceBand: core.BandHigh},
		Version:         core.RecordVersion,
	}
}

func TestOutcomeStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewOutcomeStore(kvstore.NewMemory(), "outcomes", zap.NewNop())

	out := testOutcome(t, 'a', "payments", "2026-01-22T10:00:00.000Z")
	res, stored, err := store.Put(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, kvstore.Created, res)
	assert.Equal(t, out.OutcomeID, stored.OutcomeID)

	// Second put must not overwrite; stored bytes stay as first written.
	mutated := *out
	mutated.Classification.RootCause = "different cause"
	res, stored, err = store.Put(ctx, &mutated)
	require.NoError(t, err)
	assert.Equal(t, kvstore.AlreadyExists, res)
	assert.Equal(t, "connection pool exhaustion", stored.Classification.RootCause)
}

func TestOutcomeStoreWindowAndServiceListings(t *testing.T) {
	ctx := context.Background()
	store := NewOutcomeStore(kvstore.NewMemory(), "outcomes", zap.NewNop())

	for i, tc := range []struct {
		id       byte
		service  string
		closedAt string
	}{
		{'a', "payments", "2026-01-10T08:00:00.000Z"},
		{'b', "payments", "2026-01-15T08:00:00.000Z"},
		{'c', "checkout", "2026-01-20T08:00:00.000Z"},
		{'d', "payments", "2026-02-02T08:00:00.000Z"},
	} {
		_, _, err := store.Put(ctx, testOutcome(t, tc.id, tc.service, tc.closedAt))
		require.NoError(t, err, "put %d", i)
	}

	window, err := store.ListByWindow(ctx,
		testTime(t, "2026-01-01T00:00:00.000Z"), testTime(t, "2026-01-31T23:59:59.999Z"), 0)
	require.NoError(t, err)
	require.Len(t, window, 3, "February outcome is outside the window")
	assert.Equal(t, hexID('a'), window[0].OutcomeID, "ordered by closedAt ascending")
	assert.Equal(t, hexID('c'), window[2].OutcomeID)

	payments, err := store.ListByServiceWindow(ctx, "payments",
		testTime(t, "2026-01-01T00:00:00.000Z"), testTime(t, "2026-01-31T23:59:59.999Z"), 0)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestGetValidatesStoredBody(t *testing.T) {
	ctx := context.Background()
	db := kvstore.NewMemory()
	store := NewOutcomeStore(db, "outcomes", zap.NewNop())

	// Seed a record that violates the outcome schema (bad id).
	_, _, err := db.PutIfAbsent(ctx, "outcomes", kvstore.Record{
		PK:   pkFor(kindOutcome, hexID('a')),
		SK:   "v1",
		Body: []byte(`{"outcomeId":"not-hex"}`),
	})
	require.NoError(t, err)

	_, err = store.Get(ctx, hexID('a'))
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeIntegrityFault, opxerr.CodeOf(err))
}

func TestIncidentStoreUpdateGuardsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewIncidentStore(kvstore.NewMemory(), "incidents", zap.NewNop())

	created := testTime(t, "2026-01-20T10:00:00.000Z")
	inc := &core.Incident{
		IncidentID:      hexID('e'),
		Service:         "payments",
		Severity:        core.SeveritySEV2,
		Status:          core.StatusPending,
		EvidenceID:      hexID('f'),
		CandidateID:     hexID('d'),
		ConfidenceScore: 0.7,
		Timestamps:      core.IncidentTimestamps{CreatedAt: created, LastModifiedAt: created},
		CreatedBy:       testAuthority(),
		LastModifiedBy:  testAuthority(),
	}
	res, _, err := store.Create(ctx, inc)
	require.NoError(t, err)
	require.Equal(t, kvstore.Created, res)

	next := *inc
	next.Status = core.StatusOpen
	next.IncidentVersion = 2
	require.NoError(t, store.Update(ctx, &next, 1))

	// A transition attempted against the stale version must conflict.
	stale := *inc
	stale.Status = core.StatusOpen
	stale.IncidentVersion = 2
	err = store.Update(ctx, &stale, 1)
	assert.ErrorIs(t, err, kvstore.ErrConflict)

	got, err := store.Get(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusOpen, got.Status)
	assert.EqualValues(t, 2, got.IncidentVersion)
}

func TestAuditStoreStatusProgression(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(kvstore.NewMemory(), "audit", zap.NewNop())

	start := testTime(t, "2026-02-01T00:00:00.000Z")
	audit := &core.AutomationAudit{
		AuditID:       hexID('1'),
		OperationType: core.OpCalibration,
		TriggerType:   core.TriggerScheduled,
		StartTime:     start,
		Status:        core.AuditRunning,
		TriggeredBy:   core.SystemAuthority(),
		Version:       core.RecordVersion,
	}
	res, _, err := store.Create(ctx, audit)
	require.NoError(t, err)
	require.Equal(t, kvstore.Created, res)

	updated, err := store.UpdateStatus(ctx, audit.AuditID, StatusUpdate{
		Status:  core.AuditSuccess,
		EndTime: start.Add(time.Minute),
		Results: map[string]any{"outcomeCount": 42},
	})
	require.NoError(t, err)
	assert.Equal(t, core.AuditSuccess, updated.Status)

	// RUNNING -> terminal happens exactly once.
	_, err = store.UpdateStatus(ctx, audit.AuditID, StatusUpdate{
		Status: core.AuditFailed, EndTime: start.Add(2 * time.Minute),
	})
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeConflict, opxerr.CodeOf(err))

	byOp, err := store.ListByOperationType(ctx, core.OpCalibration, 10)
	require.NoError(t, err)
	require.Len(t, byOp, 1)
	assert.Equal(t, core.AuditSuccess, byOp[0].Status)

	running, err := store.ListByStatus(ctx, core.AuditRunning, 10)
	require.NoError(t, err)
	assert.Empty(t, running, "terminal update moved the record off the RUNNING index")
}

func TestAuditStoreRejectsNonTerminalUpdate(t *testing.T) {
	store := NewAuditStore(kvstore.NewMemory(), "audit", zap.NewNop())
	_, err := store.UpdateStatus(context.Background(), hexID('2'), StatusUpdate{Status: core.AuditRunning})
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeInvalidRequest, opxerr.CodeOf(err))
}

func TestIdempotencyStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyStore(kvstore.NewMemory(), "incidents", zap.NewNop())

	rec := &core.IdempotencyRecord{
		IdempotencyKey: hexID('9'),
		RequestHash:    hexID('a'),
		Status:         core.IdempotencyInProgress,
		Principal:      "arn:user/alice",
		CreatedAt:      testTime(t, "2026-02-01T00:00:00.000Z"),
		RequestFingerprint: core.RequestFingerprint{
			Fields: []string{"method", "path", "body"},
			Hash:   hexID('a'),
		},
	}
	res, _, err := store.Put(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, kvstore.Created, res)

	// A duplicate create returns the stored record, not the new one.
	dup := *rec
	dup.RequestHash = hexID('b')
	res, stored, err := store.Put(ctx, &dup)
	require.NoError(t, err)
	assert.Equal(t, kvstore.AlreadyExists, res)
	assert.Equal(t, hexID('a'), stored.RequestHash)

	done := testTime(t, "2026-02-01T00:00:01.000Z")
	response := []byte(`{"statusCode":200,"body":{"status":"OPEN"}}`)
	completed, err := store.Complete(ctx, rec.IdempotencyKey, Completion{
		CompletedAt: done,
		IncidentID:  hexID('e'),
		Response:    response,
	})
	require.NoError(t, err)
	assert.Equal(t, core.IdempotencyCompleted, completed.Status)

	got, err := store.Get(ctx, rec.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.IdempotencyCompleted, got.Status)
	assert.Equal(t, done.String(), got.CompletedAt.String())
	assert.Equal(t, hexID('e'), got.IncidentID)
	assert.JSONEq(t, string(response), string(got.Response))

	// IN_PROGRESS -> COMPLETED happens exactly once.
	_, err = store.Complete(ctx, rec.IdempotencyKey, Completion{CompletedAt: done})
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeConflict, opxerr.CodeOf(err))

	_, err = store.Complete(ctx, hexID('0'), Completion{CompletedAt: done})
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeNotFound, opxerr.CodeOf(err))
}

func TestKillSwitchStoreDefaultsInactive(t *testing.T) {
	ctx := context.Background()
	store := NewKillSwitchStore(kvstore.NewMemory(), "config", zap.NewNop())

	state, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	assert.False(t, state.Active())

	now := testTime(t, "2026-02-01T00:00:00.000Z")
	require.NoError(t, store.Set(ctx, &core.KillSwitchState{
		Enabled:      false,
		DisabledAt:   now,
		DisabledBy:   "arn:user/oncall",
		Reason:       "runaway calibration",
		LastModified: now,
	}))

	state, err = store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, state.Active())
	assert.Equal(t, "runaway calibration", state.Reason)

	// Re-enable goes through the same guarded write path.
	require.NoError(t, store.Set(ctx, &core.KillSwitchState{Enabled: true, LastModified: now.Add(time.Minute)}))
	state, err = store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, state.Active())
}

func TestIncidentEventOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewIncidentEventStore(kvstore.NewMemory(), "incidents", zap.NewNop())

	base := testTime(t, "2026-01-20T10:00:00.000Z")
	for i, ev := range []core.IncidentEvent{
		{EventID: "evt-2", IncidentID: hexID('e'), EventType: core.EventStateTransitioned, CreatedAt: base.Add(time.Minute)},
		{EventID: "evt-1", IncidentID: hexID('e'), EventType: core.EventIncidentCreated, CreatedAt: base},
	} {
		_, err := store.Append(ctx, &ev)
		require.NoError(t, err, "append %d", i)
	}

	events, err := store.ListByIncident(ctx, hexID('e'), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventIncidentCreated, events[0].EventType, "ordered by (createdAt, eventId)")
}

func TestPromotionStoreKeysByDecision(t *testing.T) {
	ctx := context.Background()
	store := NewPromotionStore(kvstore.NewMemory(), "promotions", zap.NewNop())
	at := testTime(t, "2026-01-20T10:00:00.000Z")

	promote := &core.PromotionResult{
		Decision:        core.DecisionPromote,
		IncidentID:      hexID('e'),
		CandidateID:     hexID('c'),
		EvidenceID:      hexID('f'),
		ConfidenceScore: 0.72,
		ConfidenceBand:  core.BandHigh,
		EvaluatedAt:     at,
		GateVersion:     core.GateVersion,
	}
	_, _, err := store.Put(ctx, promote)
	require.NoError(t, err)

	reject := &core.PromotionResult{
		Decision:        core.DecisionReject,
		RejectionCode:   core.RejectConfidenceTooLow,
		RejectionReason: "confidence 0.55 below promotion threshold 0.6",
		CandidateID:     hexID('d'),
		EvidenceID:      hexID('f'),
		ConfidenceScore: 0.55,
		ConfidenceBand:  core.BandMedium,
		EvaluatedAt:     at,
		GateVersion:     core.GateVersion,
	}
	_, _, err = store.Put(ctx, reject)
	require.NoError(t, err)

	byIncident, err := store.GetByIncident(ctx, hexID('e'))
	require.NoError(t, err)
	require.NotNil(t, byIncident)
	assert.True(t, byIncident.Promoted())

	byCandidate, err := store.GetByCandidate(ctx, hexID('d'))
	require.NoError(t, err)
	require.NotNil(t, byCandidate)
	assert.Equal(t, core.RejectConfidenceTooLow, byCandidate.RejectionCode)

	missing, err := store.GetByIncident(ctx, hexID('0'))
	require.NoError(t, err)
	assert.Nil(t, missing)
}
