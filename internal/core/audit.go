package core

// OperationType names an automated operation subject to auditing.
type OperationType string

const (
	OpPatternExtraction OperationType = "PATTERN_EXTRACTION"
	OpCalibration       OperationType = "CALIBRATION"
	OpSnapshot          OperationType = "SNAPSHOT"
	OpKillSwitchEnable  OperationType = "KILL_SWITCH_ENABLE"
	OpKillSwitchDisable OperationType = "KILL_SWITCH_DISABLE"
)

func (o OperationType) Valid() bool {
	switch o {
	case OpPatternExtraction, OpCalibration, OpSnapshot, OpKillSwitchEnable, OpKillSwitchDisable:
		return true
	}
	return false
}

// TriggerType records how an operation was initiated.
type TriggerType string

const (
	TriggerScheduled       TriggerType = "SCHEDULED"
	TriggerManual          TriggerType = "MANUAL"
	TriggerManualEmergency TriggerType = "MANUAL_EMERGENCY"
)

// AuditStatus progresses RUNNING -> {SUCCESS, FAILED} exactly once.
// Intentional skips are SUCCESS with results.skipped set.
type AuditStatus string

const (
	AuditRunning AuditStatus = "RUNNING"
	AuditSuccess AuditStatus = "SUCCESS"
	AuditFailed  AuditStatus = "FAILED"
)

func (s AuditStatus) Terminal() bool { return s == AuditSuccess || s == AuditFailed }

// SkipReason explains a skipped run inside audit results.
type SkipReason string

const (
	SkipKillSwitchActive SkipReason = "KILL_SWITCH_ACTIVE"
	SkipInsufficientData SkipReason = "INSUFFICIENT_DATA"
)

// ResultsKeySkipped is the audit results key carrying a SkipReason.
const ResultsKeySkipped = "skipped"

// AutomationAudit is the append-only record of one operation attempt.
// auditId = digest(operationType:startTime:version); the id depends only
// on those parts, so concurrent runs with distinct start times coexist and
// exact duplicates collapse.
type AutomationAudit struct {
	AuditID       string         `json:"auditId"`
	OperationType OperationType  `json:"operationType"`
	TriggerType   TriggerType    `json:"triggerType"`
	StartTime     Time           `json:"startTime"`
	EndTime       Time           `json:"endTime,omitzero"`
	Status        AuditStatus    `json:"status"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Results       map[string]any `json:"results,omitempty"`
	TriggeredBy   Authority      `json:"triggeredBy"`
	Version       string         `json:"version"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	ErrorStack    string         `json:"errorStack,omitempty"`
}

// KillSwitchState is the single stored kill-switch document. The switch is
// "active" (blocking automation) when enabled is false.
type KillSwitchState struct {
	Enabled      bool      `json:"enabled"`
	DisabledAt   Time      `json:"disabledAt,omitzero"`
	DisabledBy   string    `json:"disabledBy,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	LastModified Time      `json:"lastModified"`
}

// Active reports whether automation is currently suppressed.
func (k KillSwitchState) Active() bool { return !k.Enabled }
