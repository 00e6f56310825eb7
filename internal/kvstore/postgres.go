package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Postgres implements Driver on PostgreSQL. Each entity kind gets its own
// table: (pk, sk) primary key, body as JSONB, a version column for guarded
// updates, and an idx JSONB column holding the secondary-index projections
// ({"name":{"p":...,"s":...}}) served by a GIN index.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool and verifies connectivity.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresWithDB wires an existing pool, used by tests.
func NewPostgresWithDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error { return p.db.Close() }

// EnsureTable creates the table and its indexes when absent. Table names
// come from configuration, so they are quoted, never interpolated raw.
func (p *Postgres) EnsureTable(ctx context.Context, table string) error {
	quoted := pq.QuoteIdentifier(table)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			pk TEXT NOT NULL,
			sk TEXT NOT NULL,
			body JSONB NOT NULL,
			version BIGINT NOT NULL,
			idx JSONB NOT NULL DEFAULT '{}'::jsonb,
			expires_at TIMESTAMPTZ,
			PRIMARY KEY (pk, sk)
		)`, quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (idx)`,
			pq.QuoteIdentifier(table+"_idx_gin"), quoted),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure table %s: %w", table, err)
		}
	}
	return nil
}

type idxEntry struct {
	P string `json:"p"`
	S string `json:"s"`
}

func encodeIdx(index map[string]Key) ([]byte, error) {
	entries := make(map[string]idxEntry, len(index))
	for name, key := range index {
		entries[name] = idxEntry{P: key.Partition, S: key.Sort}
	}
	return json.Marshal(entries)
}

func decodeIdx(raw []byte) (map[string]Key, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var entries map[string]idxEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode idx: %w", err)
	}
	out := make(map[string]Key, len(entries))
	for name, e := range entries {
		out[name] = Key{Partition: e.P, Sort: e.S}
	}
	return out, nil
}

func (p *Postgres) PutIfAbsent(ctx context.Context, table string, rec Record) (PutResult, *Record, error) {
	idx, err := encodeIdx(rec.Index)
	if err != nil {
		return 0, nil, err
	}
	var expires sql.NullTime
	if rec.TTL != nil {
		expires = sql.NullTime{Time: *rec.TTL, Valid: true}
	}

	res, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (pk, sk, body, version, idx, expires_at)
			VALUES ($1, $2, $3, 1, $4, $5)
			ON CONFLICT (pk, sk) DO NOTHING`, pq.QuoteIdentifier(table)),
		rec.PK, rec.SK, rec.Body, idx, expires)
	if err != nil {
		return 0, nil, fmt.Errorf("put %s %s/%s: %w", table, rec.PK, rec.SK, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, nil, fmt.Errorf("put %s rows: %w", table, err)
	}
	if rows == 1 {
		return Created, nil, nil
	}

	existing, err := p.Get(ctx, table, rec.PK, rec.SK)
	if err != nil {
		return 0, nil, fmt.Errorf("read back existing %s/%s: %w", rec.PK, rec.SK, err)
	}
	return AlreadyExists, existing, nil
}

func (p *Postgres) Get(ctx context.Context, table, pk, sk string) (*Record, error) {
	row := p.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT body, version, idx, expires_at FROM %s WHERE pk = $1 AND sk = $2`,
			pq.QuoteIdentifier(table)),
		pk, sk)

	rec := &Record{PK: pk, SK: sk}
	var idx []byte
	var expires sql.NullTime
	if err := row.Scan(&rec.Body, &rec.Version, &idx, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s %s/%s: %w", table, pk, sk, err)
	}
	index, err := decodeIdx(idx)
	if err != nil {
		return nil, err
	}
	rec.Index = index
	if expires.Valid {
		t := expires.Time.UTC()
		rec.TTL = &t
	}
	return rec, nil
}

func (p *Postgres) Update(ctx context.Context, table string, rec Record, expectVersion int64) error {
	idx, err := encodeIdx(rec.Index)
	if err != nil {
		return err
	}
	var expires sql.NullTime
	if rec.TTL != nil {
		expires = sql.NullTime{Time: *rec.TTL, Valid: true}
	}

	res, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET body = $3, version = $4, idx = $5, expires_at = $6
			WHERE pk = $1 AND sk = $2 AND version = $7`, pq.QuoteIdentifier(table)),
		rec.PK, rec.SK, rec.Body, rec.Version, idx, expires, expectVersion)
	if err != nil {
		return fmt.Errorf("update %s %s/%s: %w", table, rec.PK, rec.SK, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s rows: %w", table, err)
	}
	if rows == 1 {
		return nil
	}

	if _, err := p.Get(ctx, table, rec.PK, rec.SK); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrConflict
}

func (p *Postgres) Scan(ctx context.Context, table, index, partition string, q Query) ([]Record, error) {
	quoted := pq.QuoteIdentifier(table)
	var (
		query string
		args  []any
	)
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}

	if index == PrimaryIndex {
		query = fmt.Sprintf(`SELECT pk, sk, body, version, idx FROM %s WHERE pk = $1`, quoted)
		args = append(args, partition)
		if q.SortFrom != "" {
			args = append(args, q.SortFrom)
			query += fmt.Sprintf(" AND sk >= $%d", len(args))
		}
		if q.SortTo != "" {
			args = append(args, q.SortTo)
			query += fmt.Sprintf(" AND sk <= $%d", len(args))
		}
		query += " ORDER BY sk " + dir
	} else {
		query = fmt.Sprintf(
			`SELECT pk, sk, body, version, idx FROM %s WHERE idx #>> ARRAY[$1, 'p'] = $2`, quoted)
		args = append(args, index, partition)
		if q.SortFrom != "" {
			args = append(args, q.SortFrom)
			query += fmt.Sprintf(" AND idx #>> ARRAY[$1, 's'] >= $%d", len(args))
		}
		if q.SortTo != "" {
			args = append(args, q.SortTo)
			query += fmt.Sprintf(" AND idx #>> ARRAY[$1, 's'] <= $%d", len(args))
		}
		query += " ORDER BY idx #>> ARRAY[$1, 's'] " + dir
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan %s index %q: %w", table, index, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var idx []byte
		if err := rows.Scan(&rec.PK, &rec.SK, &rec.Body, &rec.Version, &idx); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if rec.Index, err = decodeIdx(idx); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
