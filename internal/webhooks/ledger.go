package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLedgerTTL    = 24 * time.Hour
	redisLedgerKeyspace = "dyelot:webhooks:delivery:"
)

// DeliveryLedger remembers which deliveries were already accepted.
type DeliveryLedger interface {
	// Claim returns true the first time an id is seen within the retention window.
	Claim(ctx context.Context, deliveryID string) (bool, error)
}

// RedisLedger keeps delivery ids in redis with SETNX and a TTL, so replicas share one view.
type RedisLedger struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisLedger wraps an existing redis client.
func NewRedisLedger(client redis.Cmdable, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

// Claim implements DeliveryLedger.
func (l *RedisLedger) Claim(ctx context.Context, deliveryID string) (bool, error) {
	return l.client.SetNX(ctx, redisLedgerKeyspace+deliveryID, time.Now().UTC().Unix(), l.ttl).Result()
}

// MemoryLedger is the single-process ledger used when no redis address is configured.
type MemoryLedger struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock func() time.Time
	seen  map[string]time.Time
}

// NewMemoryLedger constructs an in-process ledger.
func NewMemoryLedger(ttl time.Duration, clock func() time.Time) *MemoryLedger {
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLedger{ttl: ttl, clock: clock, seen: make(map[string]time.Time)}
}

// Claim implements DeliveryLedger.
func (l *MemoryLedger) Claim(ctx context.Context, deliveryID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	for id, expires := range l.seen {
		if !now.Before(expires) {
			delete(l.seen, id)
		}
	}
	if _, ok := l.seen[deliveryID]; ok {
		return false, nil
	}
	l.seen[deliveryID] = now.Add(l.ttl)
	return true, nil
}
