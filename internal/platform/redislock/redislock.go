// Package redislock serializes work per key across processes.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("lock held by another request")

type Locker interface {
	// TryAcquire takes the key without waiting. The returned release func is
	// safe to call more than once.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	Close() error
}

func PublishKey(courseID uuid.UUID) string {
	return "lock:publish:" + courseID.String()
}

func SubscriptionKey(organizationID uuid.UUID) string {
	return "lock:subscription:" + organizationID.String()
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedisLocker(log *logger.Logger, addr string) (Locker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisLockerFromClient(log, rdb), nil
}

// NewRedisLockerFromClient wraps an already connected client. Close closes it.
func NewRedisLockerFromClient(log *logger.Logger, rdb *goredis.Client) Locker {
	return &redisLocker{log: log.With("service", "RedisLocker"), rdb: rdb}
}

func (l *redisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err(); err != nil {
				l.log.Warn("redis lock release failed", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *redisLocker) Close() error { return l.rdb.Close() }

// localLocker is the single-process fallback when redis is not configured.
type localLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() Locker {
	return &localLocker{held: map[string]time.Time{}, now: time.Now}
}

func (l *localLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, ErrLockHeld
	}
	expires := now.Add(ttl)
	l.held[key] = expires
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// A lapsed lock may have been re-taken; only drop our own entry.
			if l.held[key].Equal(expires) {
				delete(l.held, key)
			}
		})
	}, nil
}

func (l *localLocker) Close() error { return nil }
