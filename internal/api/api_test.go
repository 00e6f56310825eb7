package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/automation"
	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/events"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/invoker"
	"github.com/opx/automation/internal/kvstore"
	"github.com/opx/automation/internal/lifecycle"
	"github.com/opx/automation/internal/outcomes"
	"github.com/opx/automation/internal/stores"
)

type apiFixture struct {
	server    *httptest.Server
	incidents *stores.IncidentStore
	audits    *stores.AuditStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db := kvstore.NewMemory()
	logger := zap.NewNop()
	cur := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		cur = cur.Add(time.Millisecond)
		return cur
	}

	incidents := stores.NewIncidentStore(db, "incidents", logger)
	eventLog := stores.NewIncidentEventStore(db, "incidents", logger)
	outcomeStore := stores.NewOutcomeStore(db, "outcomes", logger)
	audits := stores.NewAuditStore(db, "audits", logger)
	ks := automation.NewKillSwitch(stores.NewKillSwitchStore(db, "config", logger), audits, clock, logger)

	srv := NewServer(Config{
		Triggers: automation.NewTriggerService(automation.TriggerConfig{
			Audits:     audits,
			KillSwitch: ks,
			Limiter:    automation.NewRateLimiter(automation.NewMemoryRateLimitStore(), clock, logger),
			Invoker: invoker.NewLocalSync(func(context.Context, invoker.Payload) error {
				return nil
			}, logger),
			Now:    clock,
			Logger: logger,
		}),
		KillSwitch: ks,
		Engine: lifecycle.NewEngine(lifecycle.Config{
			Incidents: incidents,
			Events:    eventLog,
			Bus:       events.NewMemory(),
			Now:       clock,
			Logger:    logger,
		}),
		Recorder: outcomes.NewRecorder(outcomes.Config{
			Incidents: incidents,
			Outcomes:  outcomeStore,
			Now:       clock,
			Logger:    logger,
		}),
		Incidents:   incidents,
		Audits:      audits,
		Idempotency: stores.NewIdempotencyStore(db, "incidents", logger),
		Logger:      logger,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &apiFixture{server: ts, incidents: incidents, audits: audits}
}

type call struct {
	method         string
	path           string
	body           any
	principal      string
	authority      string
	idempotencyKey string
}

func (f *apiFixture) do(t *testing.T, c call) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req, err := http.NewRequest(c.method, f.server.URL+c.path, &buf)
	require.NoError(t, err)
	if c.principal != "" {
		req.Header.Set("X-Opx-User-Arn", c.principal)
	}
	if c.authority != "" {
		req.Header.Set("X-Opx-Authority", c.authority)
	}
	if c.idempotencyKey != "" {
		req.Header.Set("X-Opx-Idempotency-Key", c.idempotencyKey)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (f *apiFixture) seedIncident(t *testing.T, status core.IncidentStatus) string {
	t.Helper()
	created, _ := core.ParseTime("2026-02-10T08:00:00.000Z")
	evidenceID := identity.EvidenceID("payments", created.Add(-time.Hour), created,
		[]string{fmt.Sprintf("det-%s", status)})
	inc := &core.Incident{
		IncidentID:      identity.IncidentID("payments", evidenceID),
		Service:         "payments",
		Severity:        core.SeveritySEV2,
		Status:          status,
		EvidenceID:      evidenceID,
		ConfidenceScore: 0.72,
		Timestamps: core.IncidentTimestamps{
			CreatedAt:      created,
			LastModifiedAt: created,
		},
		CreatedBy: core.SystemAuthority(),
	}
	if status == core.StatusClosed || status == core.StatusResolved {
		inc.Timestamps.OpenedAt = created.Add(10 * time.Minute)
		inc.Timestamps.ResolvedAt = created.Add(90 * time.Minute)
		inc.Resolution = &core.Resolution{
			Summary: "rolled back the bad deploy", Type: core.ResolutionFixed, ResolvedBy: "arn:user/oncall",
		}
	}
	if status == core.StatusClosed {
		inc.Timestamps.ClosedAt = created.Add(2 * time.Hour)
	}
	_, _, err := f.incidents.Create(context.Background(), inc)
	require.NoError(t, err)
	return inc.IncidentID
}

func TestRequestsWithoutPrincipalAreRejected(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, call{method: http.MethodPost, path: "/automation/calibrate", body: map[string]any{}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["error"])
}

func TestHealthzIsPublic(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestTriggerCalibrateAccepted(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/automation/calibrate",
		body: map[string]any{}, principal: "arn:user/op",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ACCEPTED", body["status"])
	assert.NotEmpty(t, body["auditId"])
	assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestTriggerRejectsUnknownFields(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/automation/extract-patterns",
		body: map[string]any{"servcie": "payments"}, principal: "arn:user/op",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", body["error"])
}

func TestFourthCalibrationReturns429(t *testing.T) {
	f := newAPIFixture(t)
	for i := 0; i < 3; i++ {
		resp, _ := f.do(t, call{
			method: http.MethodPost, path: "/automation/calibrate",
			body: map[string]any{}, principal: "arn:user/op",
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode, "call %d", i+1)
	}

	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/automation/calibrate",
		body: map[string]any{}, principal: "arn:user/op",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.LessOrEqual(t, details["retryAfterMs"].(float64), float64(3_600_000))
}

func TestKillSwitchLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/automation/kill-switch/disable",
		body: map[string]any{"reason": "runaway automation"}, principal: "arn:user/op",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "default authority cannot write the switch")
	assert.Equal(t, "INSUFFICIENT_AUTHORITY", body["error"])

	resp, body = f.do(t, call{
		method: http.MethodPost, path: "/automation/kill-switch/disable",
		body: map[string]any{"reason": "runaway automation"}, principal: "arn:user/ic",
		authority: "EMERGENCY_OVERRIDE",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "arn:user/ic", body["disabledBy"])

	// Blocked manual trigger: 503, and the skip audit exists.
	resp, body = f.do(t, call{
		method: http.MethodPost, path: "/automation/calibrate",
		body: map[string]any{}, principal: "arn:user/op",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "KILL_SWITCH_ACTIVE", body["error"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	auditID, _ := details["auditId"].(string)
	require.NotEmpty(t, auditID)
	audit, err := f.audits.Get(context.Background(), auditID)
	require.NoError(t, err)
	assert.Equal(t, string(core.SkipKillSwitchActive), audit.Results[core.ResultsKeySkipped])

	// Emergency triggers bypass the switch.
	resp, _ = f.do(t, call{
		method: http.MethodPost, path: "/automation/calibrate",
		body: map[string]any{"emergency": true}, principal: "arn:user/ic",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body = f.do(t, call{
		method: http.MethodPost, path: "/automation/kill-switch/enable",
		principal: "arn:user/ic", authority: "EMERGENCY_OVERRIDE",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["active"])
}

func TestIncidentTransitionOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedIncident(t, core.StatusPending)

	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/open",
		body: map[string]any{}, principal: "arn:user/op",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OPEN", body["status"])
	assert.Equal(t, float64(2), body["incidentVersion"])

	// PENDING->CLOSE is not an edge of the table.
	id2 := f.seedIncident(t, core.StatusOpen)
	resp, body = f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id2 + "/close",
		body: map[string]any{}, principal: "arn:user/op",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", body["error"])
}

func TestIncidentTransitionReplaysUnderIdempotencyKey(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedIncident(t, core.StatusPending)
	key := "0c6f3a9e-2f65-4b2b-9a51-4f6a9a1c2d3e"

	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/open",
		body: map[string]any{}, principal: "arn:user/op", idempotencyKey: key,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OPEN", body["status"])

	// The incident is already OPEN, so a fresh transition would be an
	// INVALID_TRANSITION; a 200 here can only be the stored response.
	resp, replayed := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/open",
		body: map[string]any{}, principal: "arn:user/op", idempotencyKey: key,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OPEN", replayed["status"])
	assert.Equal(t, body["incidentVersion"], replayed["incidentVersion"])
}

func TestIdempotencyKeyReuseForDifferentRequestConflicts(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedIncident(t, core.StatusPending)
	key := "0c6f3a9e-2f65-4b2b-9a51-4f6a9a1c2d3e"

	resp, _ := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/open",
		body: map[string]any{}, principal: "arn:user/op", idempotencyKey: key,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/mitigate",
		body: map[string]any{}, principal: "arn:user/op", idempotencyKey: key,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", body["error"])
}

func TestMalformedIdempotencyKeyRejected(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedIncident(t, core.StatusPending)

	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/open",
		body: map[string]any{}, principal: "arn:user/op", idempotencyKey: "not-a-key",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
}

func TestEmergencyOverrideTransitionNeedsJustification(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedIncident(t, core.StatusPending)

	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/open",
		body: map[string]any{"justification": "too short"}, principal: "arn:user/ic",
		authority: "EMERGENCY_OVERRIDE",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MISSING_JUSTIFICATION", body["error"])

	resp, _ = f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/open",
		body:      map[string]any{"justification": "paging pipeline is down, opening manually during the outage"},
		principal: "arn:user/ic", authority: "EMERGENCY_OVERRIDE",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetIncidentNotFound(t *testing.T) {
	f := newAPIFixture(t)
	missing := identity.IncidentID("payments", "nope")
	resp, body := f.do(t, call{
		method: http.MethodGet, path: "/incidents/" + missing, principal: "arn:user/op",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestListIncidentsRequiresFilter(t *testing.T) {
	f := newAPIFixture(t)
	f.seedIncident(t, core.StatusOpen)

	resp, _ := f.do(t, call{method: http.MethodGet, path: "/incidents", principal: "arn:user/op"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, call{
		method: http.MethodGet, path: "/incidents?status=OPEN", principal: "arn:user/op",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, _ = f.do(t, call{
		method: http.MethodGet, path: "/incidents?status=OPEN&limit=500", principal: "arn:user/op",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit cap is 100")
}

func TestRecordOutcomeOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedIncident(t, core.StatusClosed)
	payload := map[string]any{
		"classification": map[string]any{
			"truePositive":   true,
			"falsePositive":  false,
			"rootCause":      "connection pool exhaustion",
			"resolutionType": "FIXED",
		},
		"humanAssessment": map[string]any{"confidenceRating": 0.9},
	}

	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/outcome",
		body: payload, principal: "arn:user/oncall", authority: "ON_CALL_SRE",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["incidentId"])
	assert.NotEmpty(t, body["outcomeId"])
	timing, ok := body["timing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(600000), timing["ttd"])

	// Replay returns the stored record under the same id.
	resp, again := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/outcome",
		body: payload, principal: "arn:user/oncall", authority: "ON_CALL_SRE",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, body["outcomeId"], again["outcomeId"])
}

func TestOutcomeOnNonClosedIncidentRejected(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedIncident(t, core.StatusOpen)

	resp, body := f.do(t, call{
		method: http.MethodPost, path: "/incidents/" + id + "/outcome",
		body: map[string]any{
			"classification": map[string]any{
				"truePositive": true, "falsePositive": false,
				"rootCause": "x", "resolutionType": "FIXED",
			},
			"humanAssessment": map[string]any{"confidenceRating": 0.5},
		},
		principal: "arn:user/oncall", authority: "ON_CALL_SRE",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])
}
