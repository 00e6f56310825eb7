package stores

import (
	"context"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/kvstore"
)

// SummaryStore holds resolution summaries, idempotent by summaryId.
type SummaryStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewSummaryStore(db kvstore.Driver, table string, logger *zap.Logger) *SummaryStore {
	return &SummaryStore{db: db, table: table, codec: newCodec(kindSummary), logger: logger.Named("summary-store")}
}

func (s *SummaryStore) Put(ctx context.Context, sum *core.ResolutionSummary) (kvstore.PutResult, *core.ResolutionSummary, error) {
	body, err := s.codec.encode(sum)
	if err != nil {
		return 0, nil, err
	}
	sort := sortableKey(sum.WindowStart.String(), sum.SummaryID)
	rec := kvstore.Record{
		PK:   pkFor(kindSummary, sum.SummaryID),
		SK:   "v1",
		Body: body,
		Index: map[string]kvstore.Key{
			IndexService:  {Partition: sum.Service, Sort: sort},
			IndexTimeline: {Partition: timelinePartition(kindSummary), Sort: sort},
		},
	}
	return putAbsent(ctx, s.db, s.table, s.codec, rec, sum)
}

func (s *SummaryStore) Get(ctx context.Context, summaryID string) (*core.ResolutionSummary, error) {
	return getOne[core.ResolutionSummary](ctx, s.db, s.table, s.codec, pkFor(kindSummary, summaryID), "v1")
}

// ListByWindow returns summaries whose window starts within [start, end].
func (s *SummaryStore) ListByWindow(ctx context.Context, start, end core.Time, limit int) ([]core.ResolutionSummary, error) {
	return scanList[core.ResolutionSummary](ctx, s.db, s.table, s.codec, IndexTimeline,
		timelinePartition(kindSummary), windowQuery(start, end, limit))
}

// CalibrationStore holds confidence calibrations, idempotent by
// calibrationId.
type CalibrationStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewCalibrationStore(db kvstore.Driver, table string, logger *zap.Logger) *CalibrationStore {
	return &CalibrationStore{db: db, table: table, codec: newCodec(kindCalibration), logger: logger.Named("calibration-store")}
}

func (s *CalibrationStore) Put(ctx context.Context, cal *core.ConfidenceCalibration) (kvstore.PutResult, *core.ConfidenceCalibration, error) {
	body, err := s.codec.encode(cal)
	if err != nil {
		return 0, nil, err
	}
	rec := kvstore.Record{
		PK:   pkFor(kindCalibration, cal.CalibrationID),
		SK:   "v1",
		Body: body,
		Index: map[string]kvstore.Key{
			IndexTimeline: {Partition: timelinePartition(kindCalibration), Sort: sortableKey(cal.WindowStart.String(), cal.CalibrationID)},
		},
	}
	return putAbsent(ctx, s.db, s.table, s.codec, rec, cal)
}

func (s *CalibrationStore) Get(ctx context.Context, calibrationID string) (*core.ConfidenceCalibration, error) {
	return getOne[core.ConfidenceCalibration](ctx, s.db, s.table, s.codec, pkFor(kindCalibration, calibrationID), "v1")
}

func (s *CalibrationStore) ListByWindow(ctx context.Context, start, end core.Time, limit int) ([]core.ConfidenceCalibration, error) {
	return scanList[core.ConfidenceCalibration](ctx, s.db, s.table, s.codec, IndexTimeline,
		timelinePartition(kindCalibration), windowQuery(start, end, limit))
}

// SnapshotStore holds immutable learning snapshots. Retention is carried as
// a TTL on the record; reaping belongs to the store driver's expiry
// machinery, never to application code.
type SnapshotStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewSnapshotStore(db kvstore.Driver, table string, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{db: db, table: table, codec: newCodec(kindSnapshot), logger: logger.Named("snapshot-store")}
}

func (s *SnapshotStore) Put(ctx context.Context, snap *core.LearningSnapshot) (kvstore.PutResult, *core.LearningSnapshot, error) {
	body, err := s.codec.encode(snap)
	if err != nil {
		return 0, nil, err
	}
	sort := sortableKey(snap.WindowStart.String(), snap.SnapshotID)
	rec := kvstore.Record{
		PK:   pkFor(kindSnapshot, snap.SnapshotID),
		SK:   "v1",
		Body: body,
		Index: map[string]kvstore.Key{
			IndexType:     {Partition: string(snap.SnapshotType), Sort: sort},
			IndexTimeline: {Partition: timelinePartition(kindSnapshot), Sort: sort},
		},
	}
	if !snap.ExpiresAt.IsZero() {
		ttl := snap.ExpiresAt.Std()
		rec.TTL = &ttl
	}
	return putAbsent(ctx, s.db, s.table, s.codec, rec, snap)
}

func (s *SnapshotStore) Get(ctx context.Context, snapshotID string) (*core.LearningSnapshot, error) {
	return getOne[core.LearningSnapshot](ctx, s.db, s.table, s.codec, pkFor(kindSnapshot, snapshotID), "v1")
}

// ListByType returns snapshots of one type, newest window first.
func (s *SnapshotStore) ListByType(ctx context.Context, t core.SnapshotType, limit int) ([]core.LearningSnapshot, error) {
	return scanList[core.LearningSnapshot](ctx, s.db, s.table, s.codec, IndexType, string(t),
		kvstore.Query{Limit: limit, Descending: true})
}
