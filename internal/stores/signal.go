package stores

import (
	"context"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/kvstore"
)

// Secondary index names shared by the typed stores. Drivers materialize
// them however they like (GSIs, B-tree indexes, map lookups); the names are
// the contract.
const (
	IndexService       = "service"
	IndexStatus        = "status"
	IndexOperationType = "operationType"
	IndexTimeline      = "timeline"
	IndexType          = "type"
)

// SignalStore holds normalized vendor signals. Append-only: duplicates in
// the same identity window collapse on the content-addressed id.
type SignalStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewSignalStore(db kvstore.Driver, table string, logger *zap.Logger) *SignalStore {
	return &SignalStore{db: db, table: table, codec: newCodec(kindSignal), logger: logger.Named("signal-store")}
}

func (s *SignalStore) Put(ctx context.Context, sig *core.Signal) (kvstore.PutResult, *core.Signal, error) {
	body, err := s.codec.encode(sig)
	if err != nil {
		return 0, nil, err
	}
	rec := kvstore.Record{
		PK:   pkFor(kindSignal, sig.SignalID),
		SK:   "METADATA",
		Body: body,
		Index: map[string]kvstore.Key{
			IndexService: {Partition: sig.Service, Sort: sortableKey(sig.ObservedAt.String(), sig.SignalID)},
		},
	}
	return putAbsent(ctx, s.db, s.table, s.codec, rec, sig)
}

func (s *SignalStore) Get(ctx context.Context, signalID string) (*core.Signal, error) {
	return getOne[core.Signal](ctx, s.db, s.table, s.codec, pkFor(kindSignal, signalID), "METADATA")
}

// ListByService returns signals for a service ordered by observedAt.
func (s *SignalStore) ListByService(ctx context.Context, service string, limit int, descending bool) ([]core.Signal, error) {
	return scanList[core.Signal](ctx, s.db, s.table, s.codec, IndexService, service,
		kvstore.Query{Limit: limit, Descending: descending})
}

// EvidenceStore holds immutable evidence bundles.
type EvidenceStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewEvidenceStore(db kvstore.Driver, table string, logger *zap.Logger) *EvidenceStore {
	return &EvidenceStore{db: db, table: table, codec: newCodec(kindEvidence), logger: logger.Named("evidence-store")}
}

func (s *EvidenceStore) Put(ctx context.Context, ev *core.EvidenceBundle) (kvstore.PutResult, *core.EvidenceBundle, error) {
	body, err := s.codec.encode(ev)
	if err != nil {
		return 0, nil, err
	}
	rec := kvstore.Record{
		PK:   pkFor(kindEvidence, ev.EvidenceID),
		SK:   "METADATA",
		Body: body,
		Index: map[string]kvstore.Key{
			IndexService: {Partition: ev.Service, Sort: sortableKey(ev.BundledAt.String(), ev.EvidenceID)},
		},
	}
	return putAbsent(ctx, s.db, s.table, s.codec, rec, ev)
}

func (s *EvidenceStore) Get(ctx context.Context, evidenceID string) (*core.EvidenceBundle, error) {
	return getOne[core.EvidenceBundle](ctx, s.db, s.table, s.codec, pkFor(kindEvidence, evidenceID), "METADATA")
}
