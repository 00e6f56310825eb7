// Package signals turns raw vendor observations into normalized Signals
// and bundles detections into immutable evidence. Normalization is a total
// function with no defaults: anything unparsable is dropped, counted, and
// never guessed at.
package signals

import (
	"regexp"
	"strings"
	"time"

	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/identity"
)

// VendorEvent is the raw alarm envelope at the ingestion boundary. Only
// the fields normalization depends on are typed; everything else rides in
// Metadata untouched.
type VendorEvent struct {
	AlarmName  string            `json:"alarmName"`
	State      string            `json:"state"`
	Source     string            `json:"source"`
	ObservedAt core.Time         `json:"observedAt"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Canonical alarm name: opx-{service}-{severity}[-suffix]. Service is a
// single lowercase token; severity must be a literal SEV level.
var alarmNamePattern = regexp.MustCompile(`^opx-([a-z0-9]+)-(sev[1-4])(?:-[a-z0-9-]+)?$`)

const stateFiring = "firing"

// identityWindowMinutes is the dedup grid: observations of the same
// (source, type, service, severity, metadata) within one grid cell collapse
// to a single signal.
const identityWindowMinutes = 5

// IdentityWindow floors t to the minute grid and renders it in the short
// minute-precision form that participates in signal identity.
func IdentityWindow(t core.Time) string {
	std := t.Std().Truncate(identityWindowMinutes * time.Minute)
	return std.Format("2006-01-02T15:04Z")
}

// Normalizer converts vendor events to signals. The clock stamps
// ingestedAt; it is injectable so tests are deterministic.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize returns (signal, true) for a well-formed firing alarm and
// (zero, false) otherwise. There are no defaults: an unparsable service,
// severity, or source, or a non-firing state, drops the event. The caller
// counts the drop; this function stays silent.
func (n *Normalizer) Normalize(ev VendorEvent) (core.Signal, bool) {
	if ev.State != stateFiring || ev.ObservedAt.IsZero() {
		return core.Signal{}, false
	}
	m := alarmNamePattern.FindStringSubmatch(ev.AlarmName)
	if m == nil {
		return core.Signal{}, false
	}
	service := m[1]
	severity := core.Severity(strings.ToUpper(m[2]))
	if !severity.Valid() {
		return core.Signal{}, false
	}

	// Vendor envelopes disagree on casing; the canonical source is
	// lowercase. Anything outside the closed source set drops.
	source := core.SignalSource(strings.ToLower(ev.Source))
	if !source.Valid() {
		return core.Signal{}, false
	}

	window := IdentityWindow(ev.ObservedAt)
	canonical, err := identity.CanonicalJSON(ev.Metadata)
	if err != nil {
		return core.Signal{}, false
	}

	return core.Signal{
		SignalID:           identity.SignalID(source, ev.AlarmName, service, severity, window, canonical),
		Source:             source,
		SignalType:         ev.AlarmName,
		Service:            service,
		Severity:           severity,
		NormalizedSeverity: severity.Normalized(),
		ObservedAt:         ev.ObservedAt,
		IdentityWindow:     window,
		Metadata:           ev.Metadata,
		IngestedAt:         core.NewTime(n.now()),
	}, true
}
