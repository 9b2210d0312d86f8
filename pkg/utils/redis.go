package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions is the client setup taken from REDIS_* config.
// Zero durations and sizes fall back to the go-redis defaults.
type RedisOptions struct {
	Addr     string
	Password string

	PoolSize    int
	DialTimeout time.Duration
	// IOTimeout applies to both reads and writes. Pub/sub receives are not bound by it.
	IOTimeout time.Duration
}

// OpenRedis builds a client and validates connectivity via PING.
func OpenRedis(ctx context.Context, opts RedisOptions, pingTimeout time.Duration) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.IOTimeout,
		WriteTimeout: opts.IOTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// KEYS[1] counter, ARGV[1] limit, ARGV[2] ttl in ms. Returns 1 when a slot was taken.
// The TTL is refreshed only on success so rejected attempts cannot keep a leaked slot alive.
var acquireSlotScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

var releaseSlotScript = redis.NewScript(`
if redis.call('DECR', KEYS[1]) <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// AcquireSlot takes one of limit slots under key. Used for the per-caller
// outgoing call cap; ttl bounds a slot held by a crashed instance.
func AcquireSlot(ctx context.Context, rdb *redis.Client, key string, limit int, ttl time.Duration) (bool, error) {
	switch {
	case rdb == nil:
		return false, errors.New("redis client is nil")
	case key == "":
		return false, errors.New("key is required")
	case limit <= 0:
		return false, errors.New("limit must be > 0")
	case ttl <= 0:
		return false, errors.New("ttl must be > 0")
	}

	res, err := acquireSlotScript.Run(ctx, rdb, []string{key}, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// ReleaseSlot gives back a slot taken by AcquireSlot.
func ReleaseSlot(ctx context.Context, rdb *redis.Client, key string) error {
	if rdb == nil {
		return errors.New("redis client is nil")
	}
	if key == "" {
		return errors.New("key is required")
	}
	return releaseSlotScript.Run(ctx, rdb, []string{key}).Err()
}
