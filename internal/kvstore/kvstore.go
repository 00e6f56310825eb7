// Package kvstore defines the document-store driver contract the typed
// stores are built on: conditional create-if-absent, version-guarded update,
// key lookup, and index-scoped range queries. Three drivers ship: an
// in-memory driver for tests and local runs, DynamoDB, and Postgres.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when no record exists at the key.
	ErrNotFound = errors.New("kvstore: record not found")
	// ErrConflict is returned by Update when the stored version does not
	// match the expected version.
	ErrConflict = errors.New("kvstore: version conflict")
)

// PutResult reports the outcome of a conditional create.
type PutResult int

const (
	Created PutResult = iota
	AlreadyExists
)

func (r PutResult) String() string {
	if r == Created {
		return "CREATED"
	}
	return "ALREADY_EXISTS"
}

// Key is one secondary-index entry: a partition value plus a sort value.
type Key struct {
	Partition string
	Sort      string
}

// Record is the stored unit. Body is the canonical JSON of the entity;
// Index carries the secondary-index projections by index name. Version is
// managed by the driver: 1 on create, incremented by Update.
type Record struct {
	PK      string
	SK      string
	Body    []byte
	Version int64
	Index   map[string]Key
	// TTL, when set, marks when the record may be reaped by the store's
	// expiry machinery. Only rate-limit entries and dated snapshots use it.
	TTL *time.Time
}

// Query bounds an index scan. Zero values mean unbounded / default.
type Query struct {
	// SortFrom and SortTo bound the sort key, inclusive on both ends.
	SortFrom string
	SortTo   string
	Limit    int
	// Descending reverses sort order (newest-first listings).
	Descending bool
}

// PrimaryIndex selects the primary key space for Scan: partition = PK,
// sort = SK.
const PrimaryIndex = ""

// Driver is the store contract. Implementations must be safe for
// concurrent use.
type Driver interface {
	// PutIfAbsent creates the record only when the primary key is vacant.
	// On AlreadyExists the stored record is returned unchanged; the store
	// never overwrites.
	PutIfAbsent(ctx context.Context, table string, rec Record) (PutResult, *Record, error)

	// Get returns the record at (pk, sk) or ErrNotFound.
	Get(ctx context.Context, table, pk, sk string) (*Record, error)

	// Update replaces the record guarded by expectVersion; the stored
	// version becomes rec.Version. ErrConflict when the guard fails,
	// ErrNotFound when the record is absent.
	Update(ctx context.Context, table string, rec Record, expectVersion int64) error

	// Scan lists records whose named index partition equals partition,
	// ordered by the index sort key. index == PrimaryIndex scans the
	// primary key space (partition = PK, ordered by SK).
	Scan(ctx context.Context, table, index, partition string, q Query) ([]Record, error)
}

// Pinger is implemented by drivers that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
