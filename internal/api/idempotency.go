package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/kvstore"
	"github.com/opx/automation/internal/stores"
)

// headerIdempotencyKey carries the caller's replay key on the incident
// mutation endpoints. The key is optional: a request without one runs
// unguarded.
const headerIdempotencyKey = "X-Opx-Idempotency-Key"

var hex64Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// incidentIDFromPath pulls the incident id the guarded mutation targeted;
// every guarded route carries one.
func incidentIDFromPath(r *http.Request) string { return mux.Vars(r)["id"] }

func validIdempotencyKey(key string) bool {
	if hex64Pattern.MatchString(key) {
		return true
	}
	_, err := uuid.Parse(key)
	return err == nil
}

// fingerprintFields is the fixed set of request fields that participate in
// the idempotency hash, recorded on every stored fingerprint.
var fingerprintFields = []string{"method", "path", "body"}

func fingerprint(r *http.Request, body []byte) string {
	var buf bytes.Buffer
	buf.WriteString(r.Method)
	buf.WriteByte('\n')
	buf.WriteString(r.URL.Path)
	buf.WriteByte('\n')
	buf.Write(body)
	return identity.RequestHash(buf.Bytes())
}

// storedResponse is the envelope persisted on the idempotency record so a
// replay reproduces the original status line, not just the body.
type storedResponse struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// responseBuffer captures the guarded handler's response so it can be
// persisted before it is sent.
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header         { return b.header }
func (b *responseBuffer) WriteHeader(status int)      { b.status = status }
func (b *responseBuffer) Write(p []byte) (int, error) { return b.body.Write(p) }

// idempotent wraps a mutation handler with the replay protocol: the first
// request under a key creates an IN_PROGRESS record, runs the handler, and
// completes the record with the captured response. A repeat with the same
// key and request hash replays that response verbatim; a repeat with a
// different hash is an IDEMPOTENCY_CONFLICT. Records are permanent, so the
// replay holds whether the first outcome was a success or a failure.
func (s *Server) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerIdempotencyKey)
		if key == "" || s.idempotency == nil {
			next(w, r)
			return
		}
		if !validIdempotencyKey(key) {
			s.writeError(w, r, opxerr.Newf(opxerr.CodeValidation,
				"idempotency key %q must be a UUID or a 64-hex digest", key))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, r, opxerr.Wrap(err, opxerr.CodeInvalidRequest, "read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		hash := fingerprint(r, body)

		rec := &core.IdempotencyRecord{
			IdempotencyKey: key,
			RequestHash:    hash,
			Status:         core.IdempotencyInProgress,
			Principal:      principalFrom(r.Context()),
			CreatedAt:      core.NewTime(time.Now()),
			RequestFingerprint: core.RequestFingerprint{
				Fields: fingerprintFields,
				Hash:   hash,
			},
		}
		res, stored, err := s.idempotency.Put(r.Context(), rec)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if res == kvstore.AlreadyExists {
			s.replayStored(w, r, key, hash, stored)
			return
		}

		buf := newResponseBuffer()
		next(buf, r)

		s.completeIdempotent(r, key, buf)
		for name, vals := range buf.header {
			for _, v := range vals {
				w.Header().Add(name, v)
			}
		}
		w.WriteHeader(buf.status)
		_, _ = w.Write(buf.body.Bytes())
	}
}

// replayStored resolves a repeated key: conflict on a hash mismatch, the
// stored response when the first request completed, and a conflict while
// the first request is still running.
func (s *Server) replayStored(w http.ResponseWriter, r *http.Request, key, hash string, stored *core.IdempotencyRecord) {
	if stored.RequestHash != hash {
		s.writeError(w, r, opxerr.Newf(opxerr.CodeIdempotencyConflict,
			"idempotency key %s was already used for a different request", key))
		return
	}
	if stored.Status != core.IdempotencyCompleted {
		s.writeError(w, r, opxerr.Newf(opxerr.CodeConflict,
			"request with idempotency key %s is still in progress", key))
		return
	}

	var env storedResponse
	if err := json.Unmarshal(stored.Response, &env); err != nil {
		s.writeError(w, r, opxerr.Wrap(err, opxerr.CodeIntegrityFault,
			"stored idempotent response does not decode"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.StatusCode)
	_, _ = w.Write(env.Body)
}

// completeIdempotent persists the captured response. A completion failure
// is logged, not surfaced: the mutation already happened and the caller
// holds its response.
func (s *Server) completeIdempotent(r *http.Request, key string, buf *responseBuffer) {
	raw := buf.body.Bytes()
	if len(raw) == 0 {
		raw = []byte("null")
	}
	envelope, err := json.Marshal(storedResponse{StatusCode: buf.status, Body: raw})
	if err != nil {
		s.logger.Error("idempotent response encode failed",
			zap.String("idempotencyKey", key), zap.Error(err))
		return
	}
	if _, err := s.idempotency.Complete(r.Context(), key, stores.Completion{
		CompletedAt: core.NewTime(time.Now()),
		IncidentID:  incidentIDFromPath(r),
		Response:    envelope,
	}); err != nil {
		s.logger.Error("idempotency completion failed",
			zap.String("idempotencyKey", key), zap.Error(err))
	}
}
