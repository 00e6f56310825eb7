package stores

import (
	"context"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/kvstore"
)

// PromotionStore persists gate decisions. PROMOTE decisions key by the
// incident identity, REJECT decisions by the candidate; create-if-absent
// guarantees one authoritative decision per key.
type PromotionStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewPromotionStore(db kvstore.Driver, table string, logger *zap.Logger) *PromotionStore {
	return &PromotionStore{db: db, table: table, codec: newCodec(kindPromotion), logger: logger.Named("promotion-store")}
}

func promotionKey(result *core.PromotionResult) string {
	if result.Promoted() {
		return "INCIDENT#" + result.IncidentID
	}
	return "CANDIDATE#" + result.CandidateID
}

func (s *PromotionStore) Put(ctx context.Context, result *core.PromotionResult) (kvstore.PutResult, *core.PromotionResult, error) {
	body, err := s.codec.encode(result)
	if err != nil {
		return 0, nil, err
	}
	rec := kvstore.Record{
		PK:   pkFor(kindPromotion, promotionKey(result)),
		SK:   "v1",
		Body: body,
		Index: map[string]kvstore.Key{
			IndexType: {Partition: string(result.Decision), Sort: sortableKey(result.EvaluatedAt.String(), result.CandidateID)},
		},
	}
	return putAbsent(ctx, s.db, s.table, s.codec, rec, result)
}

// GetByIncident returns the PROMOTE decision for an incident identity, or
// nil when none exists.
func (s *PromotionStore) GetByIncident(ctx context.Context, incidentID string) (*core.PromotionResult, error) {
	return getOne[core.PromotionResult](ctx, s.db, s.table, s.codec,
		pkFor(kindPromotion, "INCIDENT#"+incidentID), "v1")
}

// GetByCandidate returns the REJECT decision recorded for a candidate, or
// nil when none exists.
func (s *PromotionStore) GetByCandidate(ctx context.Context, candidateID string) (*core.PromotionResult, error) {
	return getOne[core.PromotionResult](ctx, s.db, s.table, s.codec,
		pkFor(kindPromotion, "CANDIDATE#"+candidateID), "v1")
}

// ListByDecision returns decisions of one kind ordered by evaluatedAt.
func (s *PromotionStore) ListByDecision(ctx context.Context, decision core.PromotionDecision, limit int) ([]core.PromotionResult, error) {
	return scanList[core.PromotionResult](ctx, s.db, s.table, s.codec, IndexType, string(decision),
		kvstore.Query{Limit: limit, Descending: true})
}
