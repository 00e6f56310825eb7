package stores

import (
	"context"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/kvstore"
)

// OutcomeStore holds immutable incident closure records. Append-only: no
// update, no delete, no TTL. Listings order by closedAt so learning jobs
// see a stable timeline.
type OutcomeStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewOutcomeStore(db kvstore.Driver, table string, logger *zap.Logger) *OutcomeStore {
	return &OutcomeStore{db: db, table: table, codec: newCodec(kindOutcome), logger: logger.Named("outcome-store")}
}

func (s *OutcomeStore) Put(ctx context.Context, out *core.IncidentOutcome) (kvstore.PutResult, *core.IncidentOutcome, error) {
	body, err := s.codec.encode(out)
	if err != nil {
		return 0, nil, err
	}
	sort := sortableKey(out.Timing.ClosedAt.String(), out.OutcomeID)
	rec := kvstore.Record{
		PK:   pkFor(kindOutcome, out.OutcomeID),
		SK:   "v1",
		Body: body,
		Index: map[string]kvstore.Key{
			IndexService:  {Partition: out.Service, Sort: sort},
			IndexTimeline: {Partition: timelinePartition(kindOutcome), Sort: sort},
		},
	}
	return putAbsent(ctx, s.db, s.table, s.codec, rec, out)
}

func (s *OutcomeStore) Get(ctx context.Context, outcomeID string) (*core.IncidentOutcome, error) {
	return getOne[core.IncidentOutcome](ctx, s.db, s.table, s.codec, pkFor(kindOutcome, outcomeID), "v1")
}

// ListByWindow returns outcomes closed within [start, end], ordered by
// closedAt ascending, bounded by limit.
func (s *OutcomeStore) ListByWindow(ctx context.Context, start, end core.Time, limit int) ([]core.IncidentOutcome, error) {
	return scanList[core.IncidentOutcome](ctx, s.db, s.table, s.codec, IndexTimeline,
		timelinePartition(kindOutcome), windowQuery(start, end, limit))
}

// ListByServiceWindow narrows ListByWindow to one service.
func (s *OutcomeStore) ListByServiceWindow(ctx context.Context, service string, start, end core.Time, limit int) ([]core.IncidentOutcome, error) {
	return scanList[core.IncidentOutcome](ctx, s.db, s.table, s.codec, IndexService,
		service, windowQuery(start, end, limit))
}

// windowQuery bounds a timeline scan: sort keys are "{timestamp}#{id}", so
// the upper bound gets a suffix past any hex id to keep End inclusive.
func windowQuery(start, end core.Time, limit int) kvstore.Query {
	q := kvstore.Query{Limit: limit}
	if !start.IsZero() {
		q.SortFrom = start.String()
	}
	if !end.IsZero() {
		q.SortTo = end.String() + "#\x7f"
	}
	return q
}
