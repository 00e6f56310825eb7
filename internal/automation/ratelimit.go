package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
)

// Manual-trigger budgets per (principal, operation) within rateWindow.
const rateWindow = time.Hour

var rateLimits = map[core.OperationType]int{
	core.OpPatternExtraction: 5,
	core.OpCalibration:       3,
	core.OpSnapshot:          10,
}

// RateLimitResult reports one check. RetryAfter is meaningful only when
// the request was denied.
type RateLimitResult struct {
	Allowed      bool
	CurrentCount int
	Limit        int
	RetryAfter   time.Duration
}

// RateLimitStore persists trigger timestamps per key. Entries carry a TTL
// of twice the window so the backend reaps them without application code.
type RateLimitStore interface {
	// List returns entries at or after cutoff, oldest first.
	List(ctx context.Context, key string, cutoff time.Time) ([]time.Time, error)
	Add(ctx context.Context, key string, ts time.Time, ttl time.Duration) error
}

// RateLimiter throttles manual triggers. Fail-open: a store error on
// either path logs and allows the request.
type RateLimiter struct {
	store  RateLimitStore
	now    func() time.Time
	logger *zap.Logger
}

func NewRateLimiter(store RateLimitStore, now func() time.Time, logger *zap.Logger) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{store: store, now: now, logger: logger.Named("rate-limiter")}
}

func rateKey(principal string, op core.OperationType) string {
	return fmt.Sprintf("%s#%s", principal, op)
}

// Check counts the key's entries within the window and either denies with
// a retry hint or records this request and allows it.
func (r *RateLimiter) Check(ctx context.Context, principal string, op core.OperationType) RateLimitResult {
	limit, ok := rateLimits[op]
	if !ok {
		// Operations without a budget are not rate limited.
		return RateLimitResult{Allowed: true, Limit: 0}
	}
	now := r.now()
	key := rateKey(principal, op)

	entries, err := r.store.List(ctx, key, now.Add(-rateWindow))
	if err != nil {
		r.logger.Warn("rate limit read failed, allowing request",
			zap.String("key", key), zap.Error(err))
		return RateLimitResult{Allowed: true, Limit: limit}
	}
	if len(entries) >= limit {
		oldest := entries[0]
		retryAfter := oldest.Add(rateWindow).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return RateLimitResult{
			Allowed:      false,
			CurrentCount: len(entries),
			Limit:        limit,
			RetryAfter:   retryAfter,
		}
	}
	if err := r.store.Add(ctx, key, now, 2*rateWindow); err != nil {
		r.logger.Warn("rate limit write failed, allowing request",
			zap.String("key", key), zap.Error(err))
	}
	return RateLimitResult{Allowed: true, CurrentCount: len(entries) + 1, Limit: limit}
}

// MemoryRateLimitStore keeps entries in-process for tests and local runs.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	entries map[string][]rateEntry
}

type rateEntry struct {
	ts      time.Time
	expires time.Time
}

func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{entries: make(map[string][]rateEntry)}
}

func (m *MemoryRateLimitStore) List(_ context.Context, key string, cutoff time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, e := range m.entries[key] {
		if !e.ts.Before(cutoff) {
			out = append(out, e.ts)
		}
	}
	return out, nil
}

func (m *MemoryRateLimitStore) Add(_ context.Context, key string, ts time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[key][:0]
	for _, e := range m.entries[key] {
		if e.expires.After(ts) {
			kept = append(kept, e)
		}
	}
	m.entries[key] = append(kept, rateEntry{ts: ts, expires: ts.Add(ttl)})
	return nil
}

// RedisRateLimitStore keeps one sorted set per key, scored by unix
// milliseconds, expiring with the TTL so idle keys vanish on their own.
type RedisRateLimitStore struct {
	client *redis.Client
}

func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

func (s *RedisRateLimitStore) List(ctx context.Context, key string, cutoff time.Time) ([]time.Time, error) {
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf",
		fmt.Sprintf("(%d", cutoff.UnixMilli())).Err(); err != nil {
		return nil, err
	}
	scores, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(scores))
	for _, z := range scores {
		out = append(out, time.UnixMilli(int64(z.Score)).UTC())
	}
	return out, nil
}

func (s *RedisRateLimitStore) Add(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	ms := ts.UnixMilli()
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: float64(ms), Member: ms}).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, ttl).Err()
}
