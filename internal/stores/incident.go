package stores

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/kvstore"
)

// IncidentStore is the operational source of truth for incidents. It is the
// only entity store with an Update path; updates are version-guarded so
// racing transitions surface as conflicts instead of lost writes.
type IncidentStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewIncidentStore(db kvstore.Driver, table string, logger *zap.Logger) *IncidentStore {
	return &IncidentStore{db: db, table: table, codec: newCodec(kindIncident), logger: logger.Named("incident-store")}
}

func (s *IncidentStore) record(inc *core.Incident) (kvstore.Record, error) {
	body, err := s.codec.encode(inc)
	if err != nil {
		return kvstore.Record{}, err
	}
	sort := sortableKey(inc.Timestamps.LastModifiedAt.String(), inc.IncidentID)
	return kvstore.Record{
		PK:      pkFor(kindIncident, inc.IncidentID),
		SK:      "METADATA",
		Body:    body,
		Version: inc.IncidentVersion,
		Index: map[string]kvstore.Key{
			IndexStatus:  {Partition: string(inc.Status), Sort: sort},
			IndexService: {Partition: inc.Service, Sort: sort},
		},
	}, nil
}

// Create inserts a new incident at version 1. On AlreadyExists the stored
// incident is returned unchanged (idempotent promotion replay).
func (s *IncidentStore) Create(ctx context.Context, inc *core.Incident) (kvstore.PutResult, *core.Incident, error) {
	inc.IncidentVersion = 1
	rec, err := s.record(inc)
	if err != nil {
		return 0, nil, err
	}
	return putAbsent(ctx, s.db, s.table, s.codec, rec, inc)
}

func (s *IncidentStore) Get(ctx context.Context, incidentID string) (*core.Incident, error) {
	return getOne[core.Incident](ctx, s.db, s.table, s.codec, pkFor(kindIncident, incidentID), "METADATA")
}

// Update writes a transitioned incident guarded by the version the caller
// read. The caller must have bumped IncidentVersion; expectVersion is the
// version the read returned. kvstore.ErrConflict propagates unchanged so
// the lifecycle engine can map it to CONFLICT.
func (s *IncidentStore) Update(ctx context.Context, inc *core.Incident, expectVersion int64) error {
	rec, err := s.record(inc)
	if err != nil {
		return err
	}
	if err := s.db.Update(ctx, s.table, rec, expectVersion); err != nil {
		if opxerr.Is(err, kvstore.ErrConflict) || opxerr.Is(err, kvstore.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update incident %s: %w", inc.IncidentID, err)
	}
	return nil
}

// ListByStatus returns incidents in a status, most recently modified first.
func (s *IncidentStore) ListByStatus(ctx context.Context, status core.IncidentStatus, limit int) ([]core.Incident, error) {
	return scanList[core.Incident](ctx, s.db, s.table, s.codec, IndexStatus, string(status),
		kvstore.Query{Limit: limit, Descending: true})
}

// ListByService returns incidents for a service, most recently modified
// first.
func (s *IncidentStore) ListByService(ctx context.Context, service string, limit int) ([]core.Incident, error) {
	return scanList[core.Incident](ctx, s.db, s.table, s.codec, IndexService, service,
		kvstore.Query{Limit: limit, Descending: true})
}

// IncidentEventStore is the append-only secondary log of incident activity.
// Events share the incident table under their own key prefix and order by
// (incidentId, createdAt, eventId).
type IncidentEventStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewIncidentEventStore(db kvstore.Driver, table string, logger *zap.Logger) *IncidentEventStore {
	return &IncidentEventStore{db: db, table: table, codec: newCodec(kindIncidentEvent), logger: logger.Named("incident-event-store")}
}

func (s *IncidentEventStore) Append(ctx context.Context, ev *core.IncidentEvent) (kvstore.PutResult, error) {
	body, err := s.codec.encode(ev)
	if err != nil {
		return 0, err
	}
	rec := kvstore.Record{
		PK:   pkFor(kindIncidentEvent, ev.IncidentID),
		SK:   sortableKey(ev.CreatedAt.String(), ev.EventID),
		Body: body,
	}
	res, _, err := s.db.PutIfAbsent(ctx, s.table, rec)
	if err != nil {
		return 0, fmt.Errorf("append incident event: %w", err)
	}
	return res, nil
}

func (s *IncidentEventStore) ListByIncident(ctx context.Context, incidentID string, limit int) ([]core.IncidentEvent, error) {
	return scanList[core.IncidentEvent](ctx, s.db, s.table, s.codec, kvstore.PrimaryIndex,
		pkFor(kindIncidentEvent, incidentID), kvstore.Query{Limit: limit})
}

// IdempotencyStore holds permanent request-replay records. A record is
// created IN_PROGRESS before the guarded mutation runs and completed
// exactly once with the response afterward; it never expires. A repeat
// with the same key replays the stored response, a repeat with a
// different request hash is a conflict the caller surfaces.
type IdempotencyStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewIdempotencyStore(db kvstore.Driver, table string, logger *zap.Logger) *IdempotencyStore {
	return &IdempotencyStore{db: db, table: table, codec: newCodec(kindIdempotency), logger: logger.Named("idempotency-store")}
}

func (s *IdempotencyStore) Put(ctx context.Context, rec *core.IdempotencyRecord) (kvstore.PutResult, *core.IdempotencyRecord, error) {
	body, err := s.codec.encode(rec)
	if err != nil {
		return 0, nil, err
	}
	stored := kvstore.Record{
		PK:   pkFor(kindIdempotency, rec.IdempotencyKey),
		SK:   "v1",
		Body: body,
	}
	return putAbsent(ctx, s.db, s.table, s.codec, stored, rec)
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*core.IdempotencyRecord, error) {
	return getOne[core.IdempotencyRecord](ctx, s.db, s.table, s.codec, pkFor(kindIdempotency, key), "v1")
}

// Completion carries the terminal fields for Complete.
type Completion struct {
	CompletedAt core.Time
	IncidentID  string
	Response    []byte
}

// Complete moves an IN_PROGRESS record to COMPLETED exactly once,
// attaching the response a replay returns. Like the audit status
// progression, the read is re-validated under a version guard; completing
// an already-completed record is a conflict.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, c Completion) (*core.IdempotencyRecord, error) {
	raw, err := s.db.Get(ctx, s.table, pkFor(kindIdempotency, key), "v1")
	if err != nil {
		if opxerr.Is(err, kvstore.ErrNotFound) {
			return nil, opxerr.Newf(opxerr.CodeNotFound, "idempotency record %s does not exist", key)
		}
		return nil, fmt.Errorf("read idempotency record %s: %w", key, err)
	}
	var rec core.IdempotencyRecord
	if err := s.codec.decode(raw.Body, &rec); err != nil {
		return nil, err
	}
	if rec.Status != core.IdempotencyInProgress {
		return nil, opxerr.Newf(opxerr.CodeConflict,
			"idempotency record %s is already %s", key, rec.Status)
	}

	rec.Status = core.IdempotencyCompleted
	rec.CompletedAt = c.CompletedAt
	rec.IncidentID = c.IncidentID
	rec.Response = c.Response

	body, err := s.codec.encode(&rec)
	if err != nil {
		return nil, err
	}
	next := kvstore.Record{
		PK:      pkFor(kindIdempotency, key),
		SK:      "v1",
		Body:    body,
		Version: raw.Version + 1,
	}
	if err := s.db.Update(ctx, s.table, next, raw.Version); err != nil {
		if opxerr.Is(err, kvstore.ErrConflict) {
			return nil, opxerr.Newf(opxerr.CodeConflict,
				"idempotency record %s was completed concurrently", key)
		}
		return nil, fmt.Errorf("complete idempotency record %s: %w", key, err)
	}
	return &rec, nil
}
