// Package stores provides one typed append-only store per entity kind on
// top of the kvstore driver. Every store follows the same contract:
// conditional create that never overwrites, schema-validated reads, and
// index-backed listings. The only mutation endpoints in the whole package
// are IncidentStore.Update, AuditStore.UpdateStatus, KillSwitchStore.Set,
// and IdempotencyStore.Complete (IN_PROGRESS to COMPLETED, exactly once).
package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/kvstore"
)

// codec pairs JSON encoding with the kind's compiled schema. Reads are
// validated before decode: an item that fails validation is an integrity
// fault, surfaced and never auto-repaired.
type codec struct {
	kind   string
	schema *jsonschema.Schema
}

func newCodec(kind string) *codec {
	return &codec{kind: kind, schema: compiledSchemas[kind]}
}

func (c *codec) encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.kind, err)
	}
	return b, nil
}

func (c *codec) decode(body []byte, out any) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return opxerr.Wrap(err, opxerr.CodeIntegrityFault,
			fmt.Sprintf("stored %s is not valid JSON", c.kind))
	}
	if err := c.schema.Validate(doc); err != nil {
		return opxerr.Wrap(err, opxerr.CodeIntegrityFault,
			fmt.Sprintf("stored %s violates its schema", c.kind))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return opxerr.Wrap(err, opxerr.CodeIntegrityFault,
			fmt.Sprintf("stored %s does not decode", c.kind))
	}
	return nil
}

// putAbsent runs the uniform conditional create and decodes the stored
// entity on ALREADY_EXISTS so callers always see what the store holds.
func putAbsent[T any](ctx context.Context, db kvstore.Driver, table string, c *codec, rec kvstore.Record, entity *T) (kvstore.PutResult, *T, error) {
	res, existing, err := db.PutIfAbsent(ctx, table, rec)
	if err != nil {
		return 0, nil, fmt.Errorf("create %s: %w", c.kind, err)
	}
	if res == kvstore.Created {
		return kvstore.Created, entity, nil
	}
	stored := new(T)
	if err := c.decode(existing.Body, stored); err != nil {
		return 0, nil, err
	}
	return kvstore.AlreadyExists, stored, nil
}

// getOne loads and validates a single entity; (nil, nil) when absent.
func getOne[T any](ctx context.Context, db kvstore.Driver, table string, c *codec, pk, sk string) (*T, error) {
	rec, err := db.Get(ctx, table, pk, sk)
	if err != nil {
		if opxerr.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", c.kind, err)
	}
	out := new(T)
	if err := c.decode(rec.Body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// scanList decodes an index scan into entities.
func scanList[T any](ctx context.Context, db kvstore.Driver, table string, c *codec, index, partition string, q kvstore.Query) ([]T, error) {
	recs, err := db.Scan(ctx, table, index, partition, q)
	if err != nil {
		return nil, fmt.Errorf("list %s by %s: %w", c.kind, index, err)
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var item T
		if err := c.decode(rec.Body, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func pkFor(kind, id string) string { return kind + "#" + id }

// sortableKey joins a timestamp with a discriminator so equal timestamps
// still order deterministically.
func sortableKey(ts, id string) string { return ts + "#" + id }

// timelinePartition is the constant partition used by cross-entity range
// indexes (all outcomes by closedAt, all summaries by window start).
func timelinePartition(kind string) string { return strings.ToUpper(kind) }
