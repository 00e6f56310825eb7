package automation

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/alerts"
	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/learning"
	"github.com/opx/automation/internal/monitoring"
	"github.com/opx/automation/internal/stores"
)

// timeoutAlertMargin is how much runtime budget must remain when the
// timeout advisory fires.
const timeoutAlertMargin = 5 * time.Second

// RunStatus is the orchestrator's verdict on one handler invocation.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunSkipped RunStatus = "SKIPPED"
)

// Request describes one operation run. AuditID and StartTime are set when
// the run was enqueued by a manual trigger, so the handler resumes under
// the id the caller already holds; scheduled runs leave them zero.
type Request struct {
	Operation    core.OperationType
	Trigger      core.TriggerType
	Authority    core.Authority
	AuditID      string
	StartTime    core.Time
	Service      string
	TimeWindow   string
	SnapshotType core.SnapshotType
	StartDate    core.Time
	EndDate      core.Time
}

// RunResult reports the audit id and terminal status of a run.
type RunResult struct {
	AuditID    string
	Status     RunStatus
	SkipReason core.SkipReason
	Results    map[string]any
}

// Orchestrator is the shared handler skeleton: stamp, window, audit
// RUNNING before work, gate, execute under retry, terminal audit update
// before terminal metrics.
type Orchestrator struct {
	audits      *stores.AuditStore
	killSwitch  *KillSwitch
	extractor   *learning.Extractor
	calibrator  *learning.Calibrator
	snapshotter *learning.Snapshotter
	metrics     monitoring.Publisher
	alerts      alerts.Publisher
	retry       RetryPolicy
	now         func() time.Time
	logger      *zap.Logger
}

type OrchestratorConfig struct {
	Audits      *stores.AuditStore
	KillSwitch  *KillSwitch
	Extractor   *learning.Extractor
	Calibrator  *learning.Calibrator
	Snapshotter *learning.Snapshotter
	Metrics     monitoring.Publisher
	Alerts      alerts.Publisher
	// Retry defaults to DefaultRetryPolicy when zero.
	Retry  RetryPolicy
	Now    func() time.Time
	Logger *zap.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = DefaultRetryPolicy()
	}
	return &Orchestrator{
		audits:      cfg.Audits,
		killSwitch:  cfg.KillSwitch,
		extractor:   cfg.Extractor,
		calibrator:  cfg.Calibrator,
		snapshotter: cfg.Snapshotter,
		metrics:     cfg.Metrics,
		alerts:      cfg.Alerts,
		retry:       retry,
		now:         now,
		logger:      cfg.Logger.Named("orchestrator"),
	}
}

// Run executes one operation end to end and returns its terminal state.
// The returned error is non-nil only for faults the invocation runtime may
// retry; gated skips and insufficient-data failures are terminal results,
// not errors.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*RunResult, error) {
	startWall := o.now()
	startTime := req.StartTime
	if startTime.IsZero() {
		startTime = core.NewTime(startWall)
	}
	dims := monitoring.Dimensions{OperationType: req.Operation, TriggerType: req.Trigger}

	window, err := o.resolveWindow(req, startWall)
	if err != nil {
		return nil, err
	}
	auditID := req.AuditID
	if auditID == "" {
		auditID = identity.AuditID(req.Operation, startTime, core.RecordVersion)
	}

	if o.killSwitch.Active(ctx) && req.Authority.Type != core.AuthorityEmergencyOverride {
		return o.recordSkip(ctx, req, auditID, startTime, dims)
	}

	if err := o.createRunning(ctx, req, auditID, startTime, window); err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if wait := time.Until(deadline) - timeoutAlertMargin; wait > 0 {
			guard := time.AfterFunc(wait, func() {
				o.publishAlert(req, auditID, alerts.AlertTimeout,
					fmt.Sprintf("%s run %s is within %s of its deadline", req.Operation, auditID, timeoutAlertMargin))
			})
			defer guard.Stop()
		}
	}

	var results map[string]any
	var driftAlerts []string
	err = WithRetry(ctx, o.retry, func(ctx context.Context) error {
		var execErr error
		results, driftAlerts, execErr = o.execute(ctx, req, window)
		return execErr
	})
	duration := o.now().Sub(startWall)

	switch {
	case err == nil:
		return o.recordSuccess(ctx, req, auditID, results, driftAlerts, dims, duration)
	case opxerr.Is(err, learning.ErrInsufficientOutcomes):
		return o.recordInsufficientData(ctx, req, auditID, err, dims, duration)
	case opxerr.Is(err, context.Canceled):
		// The runtime pulled the plug; the RUNNING audit is left for the
		// external sweeper to reconcile.
		o.logger.Warn("run canceled mid-flight", zap.String("auditId", auditID))
		return nil, err
	default:
		return o.recordFailure(ctx, req, auditID, err, dims, duration)
	}
}

func (o *Orchestrator) resolveWindow(req Request, now time.Time) (Window, error) {
	if !req.StartDate.IsZero() && !req.EndDate.IsZero() {
		if req.EndDate.Before(req.StartDate) {
			return Window{}, opxerr.New(opxerr.CodeValidation, "endDate precedes startDate")
		}
		return Window{Start: req.StartDate, End: req.EndDate}, nil
	}
	switch req.Operation {
	case core.OpPatternExtraction:
		if req.TimeWindow == "WEEKLY" {
			return WeeklyWindow(now), nil
		}
		return DailyWindow(now), nil
	case core.OpCalibration:
		return CalibrationWindow(now), nil
	case core.OpSnapshot:
		return SnapshotWindow(req.SnapshotType, now, req.StartDate, req.EndDate)
	default:
		return Window{}, opxerr.Newf(opxerr.CodeValidation,
			"operation %q is not orchestratable", req.Operation)
	}
}

// execute dispatches to the operation service and shapes its results.
// driftAlerts carries calibration advisories published after the terminal
// audit update.
func (o *Orchestrator) execute(ctx context.Context, req Request, window Window) (map[string]any, []string, error) {
	switch req.Operation {
	case core.OpPatternExtraction:
		if req.Service != "" {
			sum, err := o.extractor.Extract(ctx, req.Service, window.Start, window.End)
			if err != nil {
				return nil, nil, err
			}
			return map[string]any{
				"summaryId":        sum.SummaryID,
				"recordsProcessed": sum.Metrics.TotalIncidents,
			}, nil, nil
		}
		res, err := o.extractor.ExtractAll(ctx, window.Start, window.End)
		if err != nil {
			return nil, nil, err
		}
		results := map[string]any{
			"recordsProcessed": res.RecordsProcessed,
			"summaryCount":     len(res.Summaries),
		}
		if len(res.FailedServices) > 0 {
			results["failedServices"] = res.FailedServices
		}
		return results, nil, nil

	case core.OpCalibration:
		cal, err := o.calibrator.Calibrate(ctx, window.Start, window.End)
		if err != nil {
			return nil, nil, err
		}
		var drifted []string
		for _, bc := range cal.BandCalibrations {
			if bc.SampleSizeSufficient && math.Abs(bc.Drift) > learning.DriftThreshold {
				drifted = append(drifted, fmt.Sprintf("band %s drifted %+.4f from expected accuracy %.2f",
					bc.Band, bc.Drift, bc.ExpectedAccuracy))
			}
		}
		return map[string]any{
			"calibrationId":    cal.CalibrationID,
			"recordsProcessed": cal.OutcomeCount,
			"driftedBands":     len(drifted),
		}, drifted, nil

	case core.OpSnapshot:
		snap, err := o.snapshotter.Create(ctx, req.SnapshotType, window.Start, window.End)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{
			"snapshotId": snap.SnapshotID,
			"recordCount": snap.Data.TotalOutcomes +
				snap.Data.TotalSummaries + snap.Data.TotalCalibrations,
		}, nil, nil

	default:
		return nil, nil, opxerr.Newf(opxerr.CodeValidation,
			"operation %q is not orchestratable", req.Operation)
	}
}

func (o *Orchestrator) createRunning(ctx context.Context, req Request, auditID string, startTime core.Time, window Window) error {
	params := map[string]any{
		"windowStart": window.Start.String(),
		"windowEnd":   window.End.String(),
	}
	if req.Service != "" {
		params["service"] = req.Service
	}
	if req.SnapshotType != "" {
		params["snapshotType"] = string(req.SnapshotType)
	}
	audit := &core.AutomationAudit{
		AuditID:       auditID,
		OperationType: req.Operation,
		TriggerType:   req.Trigger,
		StartTime:     startTime,
		Status:        core.AuditRunning,
		Parameters:    params,
		TriggeredBy:   req.Authority,
		Version:       core.RecordVersion,
	}
	if _, _, err := o.audits.Create(ctx, audit); err != nil {
		return fmt.Errorf("create audit %s: %w", auditID, err)
	}
	return nil
}

// recordSkip writes the kill-switch skip audit. Skips are SUCCESS by
// contract: the system did exactly what it was told to do.
func (o *Orchestrator) recordSkip(ctx context.Context, req Request, auditID string, startTime core.Time, dims monitoring.Dimensions) (*RunResult, error) {
	at := core.NewTime(o.now())
	audit := &core.AutomationAudit{
		AuditID:       auditID,
		OperationType: req.Operation,
		TriggerType:   req.Trigger,
		StartTime:     startTime,
		EndTime:       at,
		Status:        core.AuditSuccess,
		Results:       map[string]any{core.ResultsKeySkipped: string(core.SkipKillSwitchActive)},
		TriggeredBy:   req.Authority,
		Version:       core.RecordVersion,
	}
	if _, _, err := o.audits.Create(ctx, audit); err != nil {
		return nil, fmt.Errorf("create skip audit %s: %w", auditID, err)
	}
	o.count(ctx, monitoring.MetricKillSwitchBlocked, 1, dims)
	o.logger.Info("run skipped by kill switch",
		zap.String("auditId", auditID), zap.String("operation", string(req.Operation)))
	return &RunResult{AuditID: auditID, Status: RunSkipped, SkipReason: core.SkipKillSwitchActive}, nil
}

func (o *Orchestrator) recordSuccess(ctx context.Context, req Request, auditID string, results map[string]any, driftAlerts []string, dims monitoring.Dimensions, duration time.Duration) (*RunResult, error) {
	if _, err := o.audits.UpdateStatus(ctx, auditID, stores.StatusUpdate{
		Status:  core.AuditSuccess,
		EndTime: core.NewTime(o.now()),
		Results: results,
	}); err != nil {
		return nil, err
	}

	// Terminal metrics only after the terminal audit update landed.
	o.count(ctx, monitoring.MetricSuccess, 1, dims)
	o.duration(ctx, duration, dims)
	o.emitOperationMetrics(ctx, req, results, dims)
	for _, msg := range driftAlerts {
		o.count(ctx, monitoring.MetricDriftDetected, 1, dims)
		o.publishAlert(req, auditID, alerts.AlertDrift, msg)
	}
	return &RunResult{AuditID: auditID, Status: RunSuccess, Results: results}, nil
}

func (o *Orchestrator) recordInsufficientData(ctx context.Context, req Request, auditID string, cause error, dims monitoring.Dimensions, duration time.Duration) (*RunResult, error) {
	if _, err := o.audits.UpdateStatus(ctx, auditID, stores.StatusUpdate{
		Status:       core.AuditFailed,
		EndTime:      core.NewTime(o.now()),
		Results:      map[string]any{core.ResultsKeySkipped: string(core.SkipInsufficientData)},
		ErrorMessage: cause.Error(),
	}); err != nil {
		return nil, err
	}
	skipDims := dims
	skipDims.Reason = string(core.SkipInsufficientData)
	o.count(ctx, monitoring.MetricCalibrationSkipped, 1, skipDims)
	o.count(ctx, monitoring.MetricFailure, 1, dims)
	o.duration(ctx, duration, dims)
	o.publishAlert(req, auditID, alerts.AlertInsufficientData,
		fmt.Sprintf("%s run %s had too few outcomes to calibrate", req.Operation, auditID))
	return &RunResult{AuditID: auditID, Status: RunFailed, SkipReason: core.SkipInsufficientData}, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, req Request, auditID string, cause error, dims monitoring.Dimensions, duration time.Duration) (*RunResult, error) {
	message := cause.Error()
	if opxerr.Is(cause, context.DeadlineExceeded) {
		message = "operation timed out"
	}
	if _, err := o.audits.UpdateStatus(ctx, auditID, stores.StatusUpdate{
		Status:       core.AuditFailed,
		EndTime:      core.NewTime(o.now()),
		ErrorMessage: message,
		ErrorStack:   string(debug.Stack()),
	}); err != nil {
		o.logger.Error("terminal audit update failed",
			zap.String("auditId", auditID), zap.Error(err))
	}
	failDims := dims
	failDims.ErrorType = opxerr.CodeOf(cause)
	o.count(ctx, monitoring.MetricFailure, 1, failDims)
	o.duration(ctx, duration, dims)
	o.publishAlert(req, auditID, alerts.AlertFailure,
		fmt.Sprintf("%s run %s failed: %s", req.Operation, auditID, message))
	return &RunResult{AuditID: auditID, Status: RunFailed}, cause
}

func (o *Orchestrator) emitOperationMetrics(ctx context.Context, req Request, results map[string]any, dims monitoring.Dimensions) {
	if n, ok := results["recordsProcessed"].(int); ok {
		o.count(ctx, monitoring.MetricRecordsProcessed, float64(n), dims)
	}
	if failed, ok := results["failedServices"].([]string); ok {
		o.count(ctx, monitoring.MetricFailedServices, float64(len(failed)), dims)
	}
	if n, ok := results["recordCount"].(int); ok {
		snapDims := dims
		snapDims.SnapshotType = req.SnapshotType
		o.count(ctx, monitoring.MetricSnapshotRecordCount, float64(n), snapDims)
	}
}

func (o *Orchestrator) count(ctx context.Context, name monitoring.Metric, value float64, dims monitoring.Dimensions) {
	if err := o.metrics.Count(ctx, name, value, dims); err != nil {
		o.logger.Warn("metric emission failed", zap.String("metric", string(name)), zap.Error(err))
	}
}

func (o *Orchestrator) duration(ctx context.Context, d time.Duration, dims monitoring.Dimensions) {
	if err := o.metrics.Duration(ctx, monitoring.MetricDuration, d, dims); err != nil {
		o.logger.Warn("metric emission failed", zap.String("metric", "Duration"), zap.Error(err))
	}
}

func (o *Orchestrator) publishAlert(req Request, auditID string, typ alerts.AlertType, message string) {
	alert := alerts.Alert{
		OperationType: req.Operation,
		TriggerType:   req.Trigger,
		AuditID:       auditID,
		Type:          typ,
		Subject:       fmt.Sprintf("opx %s %s", req.Operation, typ),
		Message:       message,
	}
	// Detached context: alerts outlive a dying run context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.alerts.Publish(ctx, alert); err != nil {
		o.logger.Warn("alert publish failed",
			zap.String("dedupId", alert.DedupID()), zap.Error(err))
	}
}
