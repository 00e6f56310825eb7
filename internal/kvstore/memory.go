package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is the in-memory driver used by tests, local development, and
// opx-check. Records are deep-copied on the way in and out so callers can
// never alias stored state.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string]*Record // table -> "pk\x00sk" -> record
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]*Record)}
}

func memKey(pk, sk string) string { return pk + "\x00" + sk }

func cloneRecord(r *Record) *Record {
	out := *r
	out.Body = append([]byte(nil), r.Body...)
	if r.Index != nil {
		out.Index = make(map[string]Key, len(r.Index))
		for k, v := range r.Index {
			out.Index[k] = v
		}
	}
	if r.TTL != nil {
		ttl := *r.TTL
		out.TTL = &ttl
	}
	return &out
}

func (m *Memory) table(name string) map[string]*Record {
	t, ok := m.tables[name]
	if !ok {
		t = make(map[string]*Record)
		m.tables[name] = t
	}
	return t
}

func (m *Memory) PutIfAbsent(_ context.Context, table string, rec Record) (PutResult, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table)
	key := memKey(rec.PK, rec.SK)
	if existing, ok := t[key]; ok {
		return AlreadyExists, cloneRecord(existing), nil
	}
	rec.Version = 1
	t[key] = cloneRecord(&rec)
	return Created, nil, nil
}

func (m *Memory) Get(_ context.Context, table, pk, sk string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := t[memKey(pk, sk)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Update(_ context.Context, table string, rec Record, expectVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		return ErrNotFound
	}
	key := memKey(rec.PK, rec.SK)
	existing, ok := t[key]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != expectVersion {
		return ErrConflict
	}
	t[key] = cloneRecord(&rec)
	return nil
}

func (m *Memory) Scan(_ context.Context, table, index, partition string, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, nil
	}

	type entry struct {
		sort string
		rec  *Record
	}
	var matches []entry
	for _, rec := range t {
		var sortKey string
		switch index {
		case PrimaryIndex:
			if rec.PK != partition {
				continue
			}
			sortKey = rec.SK
		default:
			ik, ok := rec.Index[index]
			if !ok || ik.Partition != partition {
				continue
			}
			sortKey = ik.Sort
		}
		if q.SortFrom != "" && strings.Compare(sortKey, q.SortFrom) < 0 {
			continue
		}
		if q.SortTo != "" && strings.Compare(sortKey, q.SortTo) > 0 {
			continue
		}
		matches = append(matches, entry{sort: sortKey, rec: rec})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].sort == matches[j].sort {
			// Stable secondary order so repeated scans agree.
			return matches[i].rec.PK < matches[j].rec.PK
		}
		if q.Descending {
			return matches[i].sort > matches[j].sort
		}
		return matches[i].sort < matches[j].sort
	})

	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	out := make([]Record, 0, len(matches))
	for _, e := range matches {
		out = append(out, *cloneRecord(e.rec))
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
