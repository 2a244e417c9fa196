// Package coordination provides the kernel's leader-lock abstraction: a
// single-process no-op for standalone runs, a store-backed lease for a
// single SQLite-backed host, and an optional Redis-backed lock for
// multi-host deployments sharing one coordinator.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyntra-dev/cyntra/internal/store"
)

// ErrHeldByOther is returned by Acquire when another holder currently owns
// the lock.
var ErrHeldByOther = errors.New("coordination: lock held by another instance")

// Locker is a mutual-exclusion lock between kernel instances: Acquire
// returns ErrHeldByOther while another holder owns it, and Release gives it
// up. The Runner builds a Locker but does not acquire it around ticks.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context) error { return nil }
func (noopLocker) Release(context.Context) error { return nil }

// New picks the strongest available backend: Redis if a client is given,
// else the store's lease table, else a no-op that never contends.
func New(redisClient *redis.Client, s *store.Store, name, instanceID string, ttl time.Duration, logger *slog.Logger) Locker {
	if redisClient != nil {
		return NewRedisLocker(redisClient, name, instanceID, ttl)
	}
	if s != nil {
		return NewStoreLocker(s, name, instanceID, ttl)
	}
	if logger != nil {
		logger.Warn("coordination: running without a persistence-backed leader lock", "instance", instanceID, "ttl", ttl)
	}
	return noopLocker{}
}

// storeLocker leases a named row in the local SQLite store. It is correct
// for a single host running multiple kernel processes (or restarts of the
// same one) but does not coordinate across hosts.
type storeLocker struct {
	store    *store.Store
	name     string
	holderID string
	ttl      time.Duration
}

func NewStoreLocker(s *store.Store, name, holderID string, ttl time.Duration) Locker {
	return &storeLocker{store: s, name: name, holderID: holderID, ttl: ttl}
}

func (l *storeLocker) Acquire(_ context.Context) error {
	ok, err := l.store.AcquireLease(l.name, l.holderID, l.ttl)
	if err != nil {
		return fmt.Errorf("coordination: acquire lease %q: %w", l.name, err)
	}
	if !ok {
		return ErrHeldByOther
	}
	return nil
}

func (l *storeLocker) Release(_ context.Context) error {
	if err := l.store.ReleaseLease(l.name, l.holderID); err != nil {
		return fmt.Errorf("coordination: release lease %q: %w", l.name, err)
	}
	return nil
}

// redisLocker implements the lock across hosts with a SET NX PX key and a
// check-and-delete release so a holder can never clear a lock it lost to
// expiry and someone else re-acquired.
type redisLocker struct {
	client   *redis.Client
	key      string
	holderID string
	ttl      time.Duration
}

const redisKeyPrefix = "cyntra:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(client *redis.Client, name, holderID string, ttl time.Duration) Locker {
	return &redisLocker{client: client, key: redisKeyPrefix + name, holderID: holderID, ttl: ttl}
}

func (l *redisLocker) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.holderID, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("coordination: redis setnx %q: %w", l.key, err)
	}
	if ok {
		return nil
	}

	cur, err := l.client.Get(ctx, l.key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("coordination: redis get %q: %w", l.key, err)
	}
	if cur == l.holderID {
		if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
			return fmt.Errorf("coordination: redis expire %q: %w", l.key, err)
		}
		return nil
	}
	return ErrHeldByOther
}

func (l *redisLocker) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holderID).Int()
	if err != nil {
		return fmt.Errorf("coordination: redis release %q: %w", l.key, err)
	}
	if res == 0 {
		return ErrHeldByOther
	}
	return nil
}
