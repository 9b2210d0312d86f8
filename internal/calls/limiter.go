package calls

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"vidcall-platform/pkg/utils"
)

// Limiter caps concurrent outgoing calls per caller across instances.
type Limiter interface {
	Acquire(ctx context.Context, callerID string) (bool, error)
	Release(ctx context.Context, callerID string) error
}

const outgoingKeyPrefix = "vidcall:outgoing:"

// RedisLimiter uses the shared slot scripts. The TTL bounds a slot
// leaked by a crashed instance.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context, callerID string) (bool, error) {
	return utils.AcquireSlot(ctx, l.rdb, outgoingKeyPrefix+callerID, l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, callerID string) error {
	return utils.ReleaseSlot(ctx, l.rdb, outgoingKeyPrefix+callerID)
}

// MemoryLimiter is the single-instance limiter.
type MemoryLimiter struct {
	limit int

	mu   sync.Mutex
	held map[string]int
}

func NewMemoryLimiter(limit int) *MemoryLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &MemoryLimiter{limit: limit, held: map[string]int{}}
}

func (l *MemoryLimiter) Acquire(ctx context.Context, callerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[callerID] >= l.limit {
		return false, nil
	}
	l.held[callerID]++
	return true, nil
}

func (l *MemoryLimiter) Release(ctx context.Context, callerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[callerID] <= 1 {
		delete(l.held, callerID)
		return nil
	}
	l.held[callerID]--
	return nil
}
