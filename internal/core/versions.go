// Package core holds the domain model of the opx automation control plane:
// signals, evidence, confidence assessments, promotion decisions, incidents,
// outcomes, learning artifacts, audits, and the authority vocabulary shared
// by every component.
package core

// Versioned components of the pipeline. Version strings participate in
// content-addressed ids, so bumping one changes the identity of everything
// it produces.
const (
	// ModelVersion versions the confidence factor model.
	ModelVersion = "1.0.0"
	// GateVersion versions the promotion decision rule.
	GateVersion = "1.0.0"
	// RecordVersion versions derived learning records (summaries,
	// calibrations, snapshots) and audits.
	RecordVersion = "1.0.0"
)
