package learning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/stores"
)

// Snapshotter archives the learning artifacts of a window into one
// immutable snapshot record. Snapshots project ids, never copy bodies.
type Snapshotter struct {
	outcomes     *stores.OutcomeStore
	summaries    *stores.SummaryStore
	calibrations *stores.CalibrationStore
	snapshots    *stores.SnapshotStore
	now          func() time.Time
	logger       *zap.Logger
}

type SnapshotterConfig struct {
	Outcomes     *stores.OutcomeStore
	Summaries    *stores.SummaryStore
	Calibrations *stores.CalibrationStore
	Snapshots    *stores.SnapshotStore
	Now          func() time.Time
	Logger       *zap.Logger
}

func NewSnapshotter(cfg SnapshotterConfig) *Snapshotter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Snapshotter{
		outcomes:     cfg.Outcomes,
		summaries:    cfg.Summaries,
		calibrations: cfg.Calibrations,
		snapshots:    cfg.Snapshots,
		now:          now,
		logger:       cfg.Logger.Named("snapshotter"),
	}
}

// Create lists the window's artifacts, aggregates them, and writes the
// snapshot by conditional create. Re-running the same (type, window)
// replays the stored snapshot.
func (s *Snapshotter) Create(ctx context.Context, typ core.SnapshotType, start, end core.Time) (*core.LearningSnapshot, error) {
	if !typ.Valid() {
		return nil, opxerr.Newf(opxerr.CodeValidation, "snapshot type %q is not recognized", typ)
	}

	outcomes, err := s.outcomes.ListByWindow(ctx, start, end, maxOutcomesPerRun)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	summaries, err := s.summaries.ListByWindow(ctx, start, end, maxOutcomesPerRun)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	calibrations, err := s.calibrations.ListByWindow(ctx, start, end, maxOutcomesPerRun)
	if err != nil {
		return nil, fmt.Errorf("list calibrations: %w", err)
	}

	createdAt := core.NewTime(s.now())
	snap := &core.LearningSnapshot{
		SnapshotID:   identity.SnapshotID(typ, start, end, core.RecordVersion),
		SnapshotType: typ,
		WindowStart:  start,
		WindowEnd:    end,
		Data: core.SnapshotData{
			TotalOutcomes:     len(outcomes),
			TotalSummaries:    len(summaries),
			TotalCalibrations: len(calibrations),
			Services:          uniqueServices(outcomes),
			DateRange:         core.DateRange{Start: start, End: end},
		},
		OutcomeIDs:     make([]string, 0, len(outcomes)),
		SummaryIDs:     make([]string, 0, len(summaries)),
		CalibrationIDs: make([]string, 0, len(calibrations)),
		CreatedAt:      createdAt,
		Version:        core.RecordVersion,
	}
	for _, out := range outcomes {
		snap.OutcomeIDs = append(snap.OutcomeIDs, out.OutcomeID)
	}
	for _, sum := range summaries {
		snap.SummaryIDs = append(snap.SummaryIDs, sum.SummaryID)
	}
	for _, cal := range calibrations {
		snap.CalibrationIDs = append(snap.CalibrationIDs, cal.CalibrationID)
	}
	if days := typ.RetentionDays(); days > 0 {
		snap.ExpiresAt = createdAt.Add(time.Duration(days) * 24 * time.Hour)
	}

	_, stored, err := s.snapshots.Put(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("persist snapshot %s: %w", snap.SnapshotID, err)
	}
	return stored, nil
}

func uniqueServices(outcomes []core.IncidentOutcome) []string {
	seen := make(map[string]struct{})
	for _, out := range outcomes {
		seen[out.Service] = struct{}{}
	}
	services := make([]string, 0, len(seen))
	for svc := range seen {
		services = append(services, svc)
	}
	sort.Strings(services)
	return services
}
