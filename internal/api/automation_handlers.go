package api

import (
	"net/http"

	"github.com/opx/automation/internal/analytics"
	"github.com/opx/automation/internal/automation"
	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
)

// authorityFrom builds the caller's authority. The asserted level arrives
// in X-Opx-Authority (injected by the signer from the caller's role);
// absent means HUMAN_OPERATOR. Services re-check the level against the
// operation, the edge only shapes it.
func authorityFrom(r *http.Request) (core.Authority, error) {
	principal := principalFrom(r.Context())
	asserted := r.Header.Get("X-Opx-Authority")
	if asserted == "" {
		return core.Authority{Type: core.AuthorityHumanOperator, Principal: principal}, nil
	}
	typ := core.AuthorityType(asserted)
	if !typ.Valid() {
		return core.Authority{}, opxerr.Newf(opxerr.CodeInvalidAuthority,
			"authority type %q is not recognized", asserted)
	}
	return core.Authority{Type: typ, Principal: principal}, nil
}

// parseDate accepts a bare date or a full timestamp; empty is the zero
// time.
func parseDate(field, value string) (core.Time, error) {
	if value == "" {
		return core.Time{}, nil
	}
	t, err := core.ParseDate(value)
	if err != nil {
		return core.Time{}, opxerr.Newf(opxerr.CodeValidation, "%s: %v", field, err)
	}
	return t, nil
}

type triggerBody struct {
	Service      string `json:"service,omitempty"`
	TimeWindow   string `json:"timeWindow,omitempty"`
	SnapshotType string `json:"snapshotType,omitempty"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	Emergency    bool   `json:"emergency,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request, op core.OperationType) {
	var body triggerBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	start, err := parseDate("startDate", body.StartDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	end, err := parseDate("endDate", body.EndDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordAgent(r)
	resp, err := s.triggers.Trigger(r.Context(), automation.TriggerRequest{
		Operation:    op,
		Principal:    principalFrom(r.Context()),
		Emergency:    body.Emergency,
		Service:      body.Service,
		TimeWindow:   body.TimeWindow,
		SnapshotType: core.SnapshotType(body.SnapshotType),
		StartDate:    start,
		EndDate:      end,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rateLimitHeaders(w, resp.RateLimit)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleExtractPatterns(w http.ResponseWriter, r *http.Request) {
	s.handleTrigger(w, r, core.OpPatternExtraction)
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	s.handleTrigger(w, r, core.OpCalibration)
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	s.handleTrigger(w, r, core.OpSnapshot)
}

// recordAgent counts agent-assisted calls when the agent headers are
// present. Never per-incident.
func (s *Server) recordAgent(r *http.Request) {
	if s.analytics == nil {
		return
	}
	s.analytics.Record(r.Context(), analytics.Invocation{
		AgentID: r.Header.Get("X-Opx-Agent-Id"),
		Model:   r.Header.Get("X-Opx-Agent-Model"),
	})
}

type killSwitchDisableBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleKillSwitchDisable(w http.ResponseWriter, r *http.Request) {
	var body killSwitchDisableBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	authority, err := authorityFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.killSwitch.Disable(r.Context(), authority, body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeKillSwitchStatus(w, r)
}

func (s *Server) handleKillSwitchEnable(w http.ResponseWriter, r *http.Request) {
	authority, err := authorityFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.killSwitch.Enable(r.Context(), authority); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeKillSwitchStatus(w, r)
}

func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	s.writeKillSwitchStatus(w, r)
}

type killSwitchStatusBody struct {
	Active       bool      `json:"active"`
	Enabled      bool      `json:"enabled"`
	DisabledAt   core.Time `json:"disabledAt,omitzero"`
	DisabledBy   string    `json:"disabledBy,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	LastModified core.Time `json:"lastModified"`
}

func (s *Server) writeKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.killSwitch.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, killSwitchStatusBody{
		Active:       state.Active(),
		Enabled:      state.Enabled,
		DisabledAt:   state.DisabledAt,
		DisabledBy:   state.DisabledBy,
		Reason:       state.Reason,
		LastModified: state.LastModified,
	})
}

func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var audits []core.AutomationAudit
	switch {
	case q.Get("operationType") != "":
		audits, err = s.audits.ListByOperationType(r.Context(), core.OperationType(q.Get("operationType")), limit)
	case q.Get("status") != "":
		audits, err = s.audits.ListByStatus(r.Context(), core.AuditStatus(q.Get("status")), limit)
	default:
		s.writeError(w, r, opxerr.New(opxerr.CodeValidation,
			"audit listing requires an operationType or status filter"))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": audits, "count": len(audits)})
}
