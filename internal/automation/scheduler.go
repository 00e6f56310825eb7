package automation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
)

// Scheduler drives the calendar-bucketed runs in-process. Each tick it
// checks whether a new UTC day started and fires the operations that
// bucket owes: pattern extraction and a daily snapshot every day, the
// weekly pair on Mondays, calibration and the monthly snapshot on the
// first of the month. Window derivation is idempotent per bucket, so a
// restart mid-day at worst replays runs whose artifacts already exist.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	lastDay string
}

func NewScheduler(orch *Orchestrator, interval time.Duration, now func() time.Time, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{orch: orch, interval: interval, now: now, logger: logger.Named("scheduler")}
}

// Start blocks until the context ends. The first tick is immediate.
func (s *Scheduler) Start(ctx context.Context) {
	// Prime with the current day so a fresh boot does not re-run work for
	// a day already in progress.
	s.lastDay = s.now().UTC().Format("2006-01-02")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().UTC()
	day := now.Format("2006-01-02")
	if day == s.lastDay {
		return
	}
	s.lastDay = day
	s.logger.Info("scheduler day rollover", zap.String("day", day))

	// Scheduled work runs as the system, stated explicitly.
	system := core.Authority{Type: core.AuthorityAutoEngine, Principal: "SYSTEM"}

	s.run(ctx, Request{
		Operation: core.OpPatternExtraction,
		Trigger:   core.TriggerScheduled,
		Authority: system,
	})
	s.run(ctx, Request{
		Operation:    core.OpSnapshot,
		Trigger:      core.TriggerScheduled,
		Authority:    system,
		SnapshotType: core.SnapshotDaily,
	})
	if now.Weekday() == time.Monday {
		s.run(ctx, Request{
			Operation:  core.OpPatternExtraction,
			Trigger:    core.TriggerScheduled,
			Authority:  system,
			TimeWindow: "WEEKLY",
		})
		s.run(ctx, Request{
			Operation:    core.OpSnapshot,
			Trigger:      core.TriggerScheduled,
			Authority:    system,
			SnapshotType: core.SnapshotWeekly,
		})
	}
	if now.Day() == 1 {
		s.run(ctx, Request{
			Operation: core.OpCalibration,
			Trigger:   core.TriggerScheduled,
			Authority: system,
		})
		s.run(ctx, Request{
			Operation:    core.OpSnapshot,
			Trigger:      core.TriggerScheduled,
			Authority:    system,
			SnapshotType: core.SnapshotMonthly,
		})
	}
}

func (s *Scheduler) run(ctx context.Context, req Request) {
	result, err := s.orch.Run(ctx, req)
	if err != nil {
		s.logger.Error("scheduled run failed",
			zap.String("operation", string(req.Operation)), zap.Error(err))
		return
	}
	s.logger.Info("scheduled run finished",
		zap.String("operation", string(req.Operation)),
		zap.String("auditId", result.AuditID),
		zap.String("status", string(result.Status)))
}
