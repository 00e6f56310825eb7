package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/events"
	"github.com/opx/automation/internal/kvstore"
	"github.com/opx/automation/internal/stores"
)

const testIncidentID = "b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2"

type engineFixture struct {
	engine    *Engine
	incidents *stores.IncidentStore
	events    *stores.IncidentEventStore
	bus       *events.Memory
	clock     *time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := kvstore.NewMemory()
	logger := zap.NewNop()
	start := time.Date(2026, 1, 21, 9, 0, 0, 0, time.UTC)
	f := &engineFixture{
		incidents: stores.NewIncidentStore(db, "incidents", logger),
		events:    stores.NewIncidentEventStore(db, "incidents", logger),
		bus:       events.NewMemory(),
		clock:     &start,
	}
	f.engine = NewEngine(Config{
		Incidents: f.incidents,
		Events:    f.events,
		Bus:       f.bus,
		Now:       func() time.Time { return *f.clock },
		Logger:    logger,
	})
	return f
}

func (f *engineFixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func (f *engineFixture) seedIncident(t *testing.T, status core.IncidentStatus) *core.Incident {
	t.Helper()
	created := core.NewTime(time.Date(2026, 1, 20, 10, 5, 30, 0, time.UTC))
	inc := &core.Incident{
		IncidentID:      testIncidentID,
		Service:         "payments",
		Severity:        core.SeveritySEV2,
		Status:          status,
		EvidenceID:      strings.Repeat("e0", 32),
		CandidateID:     strings.Repeat("c0", 32),
		ConfidenceScore: 0.7,
		Timestamps: core.IncidentTimestamps{
			CreatedAt:      created,
			LastModifiedAt: created,
		},
		CreatedBy:      core.SystemAuthority(),
		LastModifiedBy: core.SystemAuthority(),
	}
	_, _, err := f.incidents.Create(context.Background(), inc)
	require.NoError(t, err)
	return inc
}

func operator() core.Authority {
	return core.Authority{Type: core.AuthorityHumanOperator, Principal: "arn:user/alex"}
}

func sre() core.Authority {
	return core.Authority{Type: core.AuthorityOnCallSRE, Principal: "arn:user/oncall"}
}

func resolution() *core.Resolution {
	return &core.Resolution{Summary: "rolled back deploy 4182", Type: core.ResolutionFixed, ResolvedBy: "arn:user/oncall"}
}

func TestOpenTransition(t *testing.T) {
	f := newEngineFixture(t)
	f.seedIncident(t, core.StatusPending)

	inc, err := f.engine.Transition(context.Background(), TransitionRequest{
		IncidentID: testIncidentID,
		To:         core.StatusOpen,
		Authority:  operator(),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusOpen, inc.Status)
	assert.Equal(t, int64(2), inc.IncidentVersion)
	assert.Equal(t, core.NewTime(*f.clock), inc.Timestamps.OpenedAt, "openedAt is wall-clock at transition")
	assert.Equal(t, operator(), inc.LastModifiedBy)
}

func TestTransitionRuleTable(t *testing.T) {
	tests := []struct {
		name      string
		from      core.IncidentStatus
		to        core.IncidentStatus
		authority core.Authority
		reason    string
		res       *core.Resolution
		wantCode  string
	}{
		{"pending to closed forbidden", core.StatusPending, core.StatusClosed, sre(), "", nil, opxerr.CodeInvalidTransition},
		{"closed is terminal", core.StatusClosed, core.StatusOpen, sre(), "", nil, opxerr.CodeInvalidTransition},
		{"self loop forbidden", core.StatusOpen, core.StatusOpen, sre(), "", nil, opxerr.CodeInvalidTransition},
		{"auto engine cannot open", core.StatusPending, core.StatusOpen, core.SystemAuthority(), "", nil, opxerr.CodeInsufficientAuthority},
		{"operator cannot resolve", core.StatusOpen, core.StatusResolved, operator(), "fixed", resolution(), opxerr.CodeInsufficientAuthority},
		{"resolve without reason", core.StatusOpen, core.StatusResolved, sre(), "", resolution(), opxerr.CodeMissingMetadata},
		{"resolve without resolution", core.StatusMitigating, core.StatusResolved, sre(), "fixed", nil, opxerr.CodeMissingMetadata},
		{"mitigate allowed", core.StatusOpen, core.StatusMitigating, operator(), "", nil, ""},
		{"resolve from mitigating", core.StatusMitigating, core.StatusResolved, sre(), "rollback finished", resolution(), ""},
		{"emergency override satisfies everything", core.StatusOpen, core.StatusResolved,
			core.Authority{Type: core.AuthorityEmergencyOverride, Principal: "arn:user/ic"}, "incident commander call", resolution(), ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture(t)
			f.seedIncident(t, tc.from)

			_, err := f.engine.Transition(context.Background(), TransitionRequest{
				IncidentID: testIncidentID,
				To:         tc.to,
				Authority:  tc.authority,
				Reason:     tc.reason,
				Resolution: tc.res,
			})
			if tc.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, opxerr.CodeOf(err))
		})
	}
}

func TestCloseRequiresExistingResolution(t *testing.T) {
	f := newEngineFixture(t)
	f.seedIncident(t, core.StatusResolved) // resolution block absent

	_, err := f.engine.Transition(context.Background(), TransitionRequest{
		IncidentID: testIncidentID,
		To:         core.StatusClosed,
		Authority:  operator(),
	})
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeMissingMetadata, opxerr.CodeOf(err))
}

func TestResolutionSetOnceAndImmutable(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedIncident(t, core.StatusOpen)

	inc, err := f.engine.Transition(ctx, TransitionRequest{
		IncidentID: testIncidentID,
		To:         core.StatusResolved,
		Authority:  sre(),
		Reason:     "rollback finished",
		Resolution: resolution(),
	})
	require.NoError(t, err)
	require.NotNil(t, inc.Resolution)
	assert.Equal(t, core.ResolutionFixed, inc.Resolution.Type)

	f.advance(time.Minute)
	closed, err := f.engine.Transition(ctx, TransitionRequest{
		IncidentID: testIncidentID,
		To:         core.StatusClosed,
		Authority:  operator(),
	})
	require.NoError(t, err)
	assert.Equal(t, inc.Resolution, closed.Resolution, "resolution survives closing unchanged")
	assert.Equal(t, core.NewTime(*f.clock), closed.Timestamps.ClosedAt)
	assert.True(t, closed.Timestamps.ClosedAt.After(closed.Timestamps.ResolvedAt))
}

func TestStaleVersionConflicts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	seed := f.seedIncident(t, core.StatusPending)

	// A competing writer bumps the record between our read and write.
	raced := *seed
	raced.Status = core.StatusOpen
	raced.IncidentVersion = seed.IncidentVersion + 1
	require.NoError(t, f.incidents.Update(ctx, &raced, seed.IncidentVersion))

	// The engine re-reads fresh state, so PENDING->OPEN no longer applies.
	_, err := f.engine.Transition(ctx, TransitionRequest{
		IncidentID: testIncidentID,
		To:         core.StatusOpen,
		Authority:  operator(),
	})
	require.Error(t, err)
	assert.Equal(t, opxerr.CodeInvalidTransition, opxerr.CodeOf(err))
}

func TestTransitionAppendsAndPublishesEvent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedIncident(t, core.StatusPending)

	_, err := f.engine.Transition(ctx, TransitionRequest{
		IncidentID:    testIncidentID,
		To:            core.StatusOpen,
		Authority:     operator(),
		Justification: "",
	})
	require.NoError(t, err)

	logged, err := f.events.ListByIncident(ctx, testIncidentID, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, core.EventStateTransitioned, logged[0].EventType)
	assert.Equal(t, "PENDING", logged[0].Payload["from"])
	assert.Equal(t, "OPEN", logged[0].Payload["to"])

	published := f.bus.Events()
	require.Len(t, published, 1)
	assert.Equal(t, logged[0].EventID, published[0].EventID)
}

func TestTransitionValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Transition(ctx, TransitionRequest{IncidentID: "not-hex", To: core.StatusOpen, Authority: operator()})
	assert.Equal(t, opxerr.CodeInvalidIncidentID, opxerr.CodeOf(err))

	_, err = f.engine.Transition(ctx, TransitionRequest{
		IncidentID: testIncidentID, To: core.StatusOpen,
		Authority: core.Authority{Type: "ROOT", Principal: "x"},
	})
	assert.Equal(t, opxerr.CodeInvalidAuthority, opxerr.CodeOf(err))

	_, err = f.engine.Transition(ctx, TransitionRequest{IncidentID: testIncidentID, To: core.StatusOpen, Authority: operator()})
	assert.Equal(t, opxerr.CodeNotFound, opxerr.CodeOf(err), "absent incident")
}
