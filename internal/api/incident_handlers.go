package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/lifecycle"
	"github.com/opx/automation/internal/outcomes"
)

const (
	maxListLimit     = 100
	defaultListLimit = 50

	minJustificationLen = 20
	maxJustificationLen = 2048
)

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, opxerr.Newf(opxerr.CodeValidation, "limit %q must be a positive integer", raw)
	}
	if limit > maxListLimit {
		return 0, opxerr.Newf(opxerr.CodeValidation, "limit %d exceeds the maximum of %d", limit, maxListLimit)
	}
	return limit, nil
}

type resolutionBody struct {
	Summary string `json:"summary"`
	Type    string `json:"type"`
}

type transitionBody struct {
	Reason        string          `json:"reason,omitempty"`
	Resolution    *resolutionBody `json:"resolution,omitempty"`
	Justification string          `json:"justification,omitempty"`
}

// transitionHandler builds the POST handler for one lifecycle edge. The
// edge validates the override justification; the engine owns everything
// else.
func (s *Server) transitionHandler(to core.IncidentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body transitionBody
		if err := decode(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		authority, err := authorityFrom(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if authority.Type == core.AuthorityEmergencyOverride {
			if n := len(body.Justification); n < minJustificationLen || n > maxJustificationLen {
				s.writeError(w, r, opxerr.Newf(opxerr.CodeMissingJustification,
					"emergency override requires a justification of %d to %d characters, got %d",
					minJustificationLen, maxJustificationLen, n))
				return
			}
		}

		req := lifecycle.TransitionRequest{
			IncidentID:    mux.Vars(r)["id"],
			To:            to,
			Authority:     authority,
			Reason:        body.Reason,
			Justification: body.Justification,
		}
		if body.Resolution != nil {
			req.Resolution = &core.Resolution{
				Summary:    body.Resolution.Summary,
				Type:       core.ResolutionType(body.Resolution.Type),
				ResolvedBy: authority.Principal,
			}
		}

		inc, err := s.engine.Transition(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inc)
	}
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inc, err := s.incidents.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if inc == nil {
		s.writeError(w, r, opxerr.Newf(opxerr.CodeNotFound, "incident %s does not exist", id))
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := q.Get("status")
	service := q.Get("service")
	if status == "" && service == "" {
		s.writeError(w, r, opxerr.New(opxerr.CodeValidation,
			"incident listing requires a status or service filter"))
		return
	}
	if status != "" && !core.IncidentStatus(status).Valid() {
		s.writeError(w, r, opxerr.Newf(opxerr.CodeValidation,
			"status %q is not a lifecycle state", status))
		return
	}

	var incidents []core.Incident
	if service != "" {
		incidents, err = s.incidents.ListByService(r.Context(), service, limit)
		if err == nil && status != "" {
			filtered := incidents[:0]
			for _, inc := range incidents {
				if inc.Status == core.IncidentStatus(status) {
					filtered = append(filtered, inc)
				}
			}
			incidents = filtered
		}
	} else {
		incidents, err = s.incidents.ListByStatus(r.Context(), core.IncidentStatus(status), limit)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents, "count": len(incidents)})
}

type outcomeBody struct {
	Classification  core.OutcomeClassification `json:"classification"`
	HumanAssessment core.HumanAssessment       `json:"humanAssessment"`
	ValidatedAt     string                     `json:"validatedAt,omitempty"`
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var body outcomeBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	authority, err := authorityFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	validatedAt, err := parseDate("validatedAt", body.ValidatedAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	outcome, err := s.recorder.Record(r.Context(), outcomes.RecordRequest{
		IncidentID:      mux.Vars(r)["id"],
		Authority:       authority,
		Classification:  body.Classification,
		HumanAssessment: body.HumanAssessment,
		ValidatedAt:     validatedAt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
