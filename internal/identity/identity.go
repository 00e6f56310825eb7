// Package identity computes the content-addressed ids that make every store
// in the pipeline idempotent. One digest primitive, one wrapper per entity
// kind; each wrapper fixes the field order, separator, and version, so the
// same inputs always produce the same id.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/opx/automation/internal/core"
)

// Separators are part of the identity contract: ':' for most ids, '|' for
// the incident family (incident, outcome). They must not appear inside any
// part.
const (
	sepColon = ":"
	sepPipe  = "|"
)

// digest hashes the parts joined by sep and returns 64 lowercase hex chars.
func digest(sep string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, sep)))
	return hex.EncodeToString(sum[:])
}

// ValidID reports whether s is a well-formed content-addressed id:
// exactly 64 lowercase hex characters.
func ValidID(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// CanonicalJSON renders v with lexicographically ordered object keys, the
// stable encoding used wherever serialized content participates in an id.
func CanonicalJSON(v any) (string, error) {
	// encoding/json sorts map keys; round-tripping structs through a map
	// canonicalizes field order too.
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}
	var m any
	if err := json.Unmarshal(b, &m); err != nil {
		return "", fmt.Errorf("canonical reparse: %w", err)
	}
	out, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("canonical remarshal: %w", err)
	}
	return string(out), nil
}

// SignalID identifies one vendor observation within its identity window.
func SignalID(source core.SignalSource, signalType, service string, severity core.Severity, identityWindow, canonicalMetadata string) string {
	return digest(sepColon, string(source), signalType, service, string(severity), identityWindow, canonicalMetadata)
}

// EvidenceID identifies a bundle by its service, window, and the sorted
// detection ids it contains.
func EvidenceID(service string, windowStart, windowEnd core.Time, detectionIDs []string) string {
	sorted := make([]string, len(detectionIDs))
	copy(sorted, detectionIDs)
	sort.Strings(sorted)
	parts := append([]string{service, windowStart.String(), windowEnd.String()}, sorted...)
	return digest(sepColon, parts...)
}

// CandidateID identifies a confidence assessment of an evidence bundle
// under a specific model version.
func CandidateID(evidenceID, modelVersion string) string {
	return digest(sepColon, evidenceID, modelVersion)
}

// IncidentID is evidence-derived only, never time-based: the same evidence
// for the same service always names the same incident.
func IncidentID(service, evidenceID string) string {
	return digest(sepPipe, service, evidenceID)
}

// OutcomeID identifies the closure record of an incident.
func OutcomeID(incidentID string, closedAt core.Time) string {
	return digest(sepPipe, incidentID, closedAt.String())
}

// SummaryID identifies a resolution summary; scope is the service name or
// "ALL" for cross-service summaries.
func SummaryID(scope string, windowStart, windowEnd core.Time, version string) string {
	return digest(sepColon, scope, windowStart.String(), windowEnd.String(), version)
}

// CalibrationID identifies a confidence calibration window.
func CalibrationID(windowStart, windowEnd core.Time, version string) string {
	return digest(sepColon, windowStart.String(), windowEnd.String(), version)
}

// SnapshotID identifies a learning snapshot.
func SnapshotID(snapshotType core.SnapshotType, windowStart, windowEnd core.Time, version string) string {
	return digest(sepColon, string(snapshotType), windowStart.String(), windowEnd.String(), version)
}

// AuditID identifies one operation attempt. It depends only on the
// operation type, start time, and version; concurrent attempts differ by
// start time while exact duplicates collapse in the audit store.
func AuditID(op core.OperationType, startTime core.Time, version string) string {
	return digest(sepColon, string(op), startTime.String(), version)
}

// RequestHash fingerprints a request body for idempotency-key comparison.
func RequestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ScopeAll is the summary scope used when no service filter applies.
const ScopeAll = "ALL"
