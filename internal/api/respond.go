package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/automation"
	opxerr "github.com/opx/automation/internal/errors"
)

// statusFor maps the closed error-code set onto HTTP statuses. Unknown
// codes are server faults.
func statusFor(code string) int {
	switch code {
	case opxerr.CodeValidation, opxerr.CodeInvalidRequest, opxerr.CodeInvalidIncidentID,
		opxerr.CodeInvalidAuthority, opxerr.CodeInvalidTransition,
		opxerr.CodeMissingMetadata, opxerr.CodeMissingJustification:
		return http.StatusBadRequest
	case opxerr.CodeUnauthorized:
		return http.StatusUnauthorized
	case opxerr.CodeInsufficientAuthority, opxerr.CodeApprovalRequired:
		return http.StatusForbidden
	case opxerr.CodeNotFound:
		return http.StatusNotFound
	case opxerr.CodeConflict, opxerr.CodeIdempotencyConflict:
		return http.StatusConflict
	case opxerr.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case opxerr.CodeKillSwitchActive:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError renders the coded error body. Internal faults are logged with
// their cause and returned with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	coded := opxerr.AsError(err)
	status := statusFor(coded.Code)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("requestId", requestIDFrom(r.Context())),
			zap.Error(err))
		coded = opxerr.New(opxerr.CodeInternal, "internal error")
	}
	if status == http.StatusTooManyRequests {
		setRateLimitHeaders(w, coded)
	}
	writeJSON(w, status, coded)
}

// setRateLimitHeaders surfaces the retry budget from the error details.
func setRateLimitHeaders(w http.ResponseWriter, coded *opxerr.Error) {
	if ms, ok := coded.Details["retryAfterMs"].(int64); ok && ms > 0 {
		secs := (ms + 999) / 1000
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	}
	if limit, ok := coded.Details["limit"].(int); ok {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		if count, ok := coded.Details["currentCount"].(int); ok {
			remaining := limit - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		}
	}
}

// rateLimitHeaders sets the budget headers on a successful trigger.
func rateLimitHeaders(w http.ResponseWriter, rl automation.RateLimitResult) {
	if rl.Limit == 0 {
		return
	}
	remaining := rl.Limit - rl.CurrentCount
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
}

// decode parses a JSON body into dst, rejecting unknown fields.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return opxerr.Wrap(err, opxerr.CodeInvalidRequest, "malformed request body")
	}
	return nil
}
