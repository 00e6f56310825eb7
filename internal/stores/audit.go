package stores

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/kvstore"
)

// AuditStore holds automation audit records. Creation is create-if-absent
// by auditId; UpdateStatus moves a RUNNING record to a terminal status
// exactly once. Updating an already-terminal audit is a conflict.
type AuditStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

func NewAuditStore(db kvstore.Driver, table string, logger *zap.Logger) *AuditStore {
	return &AuditStore{db: db, table: table, codec: newCodec(kindAudit), logger: logger.Named("audit-store")}
}

func (s *AuditStore) record(audit *core.AutomationAudit, version int64) (kvstore.Record, error) {
	body, err := s.codec.encode(audit)
	if err != nil {
		return kvstore.Record{}, err
	}
	sort := sortableKey(audit.StartTime.String(), audit.AuditID)
	return kvstore.Record{
		PK:      pkFor(kindAudit, audit.AuditID),
		SK:      "v1",
		Body:    body,
		Version: version,
		Index: map[string]kvstore.Key{
			IndexOperationType: {Partition: string(audit.OperationType), Sort: sort},
			IndexStatus:        {Partition: string(audit.Status), Sort: sort},
		},
	}, nil
}

// Create inserts the RUNNING (or, for kill-switch actions, already
// terminal) audit record. On AlreadyExists the stored audit is returned:
// an exact duplicate attempt collapsed.
func (s *AuditStore) Create(ctx context.Context, audit *core.AutomationAudit) (kvstore.PutResult, *core.AutomationAudit, error) {
	rec, err := s.record(audit, 0)
	if err != nil {
		return 0, nil, err
	}
	return putAbsent(ctx, s.db, s.table, s.codec, rec, audit)
}

func (s *AuditStore) Get(ctx context.Context, auditID string) (*core.AutomationAudit, error) {
	return getOne[core.AutomationAudit](ctx, s.db, s.table, s.codec, pkFor(kindAudit, auditID), "v1")
}

// StatusUpdate carries the terminal fields for UpdateStatus.
type StatusUpdate struct {
	Status       core.AuditStatus
	EndTime      core.Time
	Results      map[string]any
	ErrorMessage string
	ErrorStack   string
}

// UpdateStatus moves a RUNNING audit to SUCCESS or FAILED. The read is
// re-validated under a version guard, so two racing terminal updates
// resolve to exactly one winner; the loser sees CONFLICT.
func (s *AuditStore) UpdateStatus(ctx context.Context, auditID string, upd StatusUpdate) (*core.AutomationAudit, error) {
	if !upd.Status.Terminal() {
		return nil, opxerr.Newf(opxerr.CodeInvalidRequest,
			"audit status update must be terminal, got %s", upd.Status)
	}
	rec, err := s.db.Get(ctx, s.table, pkFor(kindAudit, auditID), "v1")
	if err != nil {
		if opxerr.Is(err, kvstore.ErrNotFound) {
			return nil, opxerr.Newf(opxerr.CodeNotFound, "audit %s does not exist", auditID)
		}
		return nil, fmt.Errorf("read audit %s: %w", auditID, err)
	}
	var audit core.AutomationAudit
	if err := s.codec.decode(rec.Body, &audit); err != nil {
		return nil, err
	}
	if audit.Status != core.AuditRunning {
		return nil, opxerr.Newf(opxerr.CodeConflict,
			"audit %s is already terminal (%s)", auditID, audit.Status)
	}

	audit.Status = upd.Status
	audit.EndTime = upd.EndTime
	audit.Results = upd.Results
	audit.ErrorMessage = upd.ErrorMessage
	audit.ErrorStack = upd.ErrorStack

	next, err := s.record(&audit, rec.Version+1)
	if err != nil {
		return nil, err
	}
	if err := s.db.Update(ctx, s.table, next, rec.Version); err != nil {
		if opxerr.Is(err, kvstore.ErrConflict) {
			return nil, opxerr.Newf(opxerr.CodeConflict,
				"audit %s was updated concurrently", auditID)
		}
		return nil, fmt.Errorf("update audit %s: %w", auditID, err)
	}
	return &audit, nil
}

// ListByOperationType returns audits for an operation, newest first.
func (s *AuditStore) ListByOperationType(ctx context.Context, op core.OperationType, limit int) ([]core.AutomationAudit, error) {
	return scanList[core.AutomationAudit](ctx, s.db, s.table, s.codec, IndexOperationType, string(op),
		kvstore.Query{Limit: limit, Descending: true})
}

// ListByStatus returns audits in a status, newest first.
func (s *AuditStore) ListByStatus(ctx context.Context, status core.AuditStatus, limit int) ([]core.AutomationAudit, error) {
	return scanList[core.AutomationAudit](ctx, s.db, s.table, s.codec, IndexStatus, string(status),
		kvstore.Query{Limit: limit, Descending: true})
}

// KillSwitchStore holds the single kill-switch document in the config
// table. Authority enforcement lives in the service above it; the store is
// plain persistence.
type KillSwitchStore struct {
	db     kvstore.Driver
	table  string
	codec  *codec
	logger *zap.Logger
}

const killSwitchPK = "CONFIG#KILL_SWITCH"

func NewKillSwitchStore(db kvstore.Driver, table string, logger *zap.Logger) *KillSwitchStore {
	return &KillSwitchStore{db: db, table: table, codec: newCodec(kindKillSwitch), logger: logger.Named("kill-switch-store")}
}

// Get returns the stored state. An absent document means the switch has
// never been touched: enabled, inactive.
func (s *KillSwitchStore) Get(ctx context.Context) (*core.KillSwitchState, error) {
	state, err := getOne[core.KillSwitchState](ctx, s.db, s.table, s.codec, killSwitchPK, "METADATA")
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &core.KillSwitchState{Enabled: true}, nil
	}
	return state, nil
}

// Set writes the state, creating the document on first write.
func (s *KillSwitchStore) Set(ctx context.Context, state *core.KillSwitchState) error {
	body, err := s.codec.encode(state)
	if err != nil {
		return err
	}
	rec := kvstore.Record{PK: killSwitchPK, SK: "METADATA", Body: body}

	existing, err := s.db.Get(ctx, s.table, killSwitchPK, "METADATA")
	if err != nil {
		if !opxerr.Is(err, kvstore.ErrNotFound) {
			return fmt.Errorf("read kill switch: %w", err)
		}
		res, _, err := s.db.PutIfAbsent(ctx, s.table, rec)
		if err != nil {
			return fmt.Errorf("create kill switch: %w", err)
		}
		if res == kvstore.Created {
			return nil
		}
		// Lost the create race; fall through to a guarded update.
		existing, err = s.db.Get(ctx, s.table, killSwitchPK, "METADATA")
		if err != nil {
			return fmt.Errorf("reread kill switch: %w", err)
		}
	}
	rec.Version = existing.Version + 1
	if err := s.db.Update(ctx, s.table, rec, existing.Version); err != nil {
		return fmt.Errorf("update kill switch: %w", err)
	}
	return nil
}
