// Package redislock implements certs.Locker on Redis so that several
// instances never issue for the same domain at once.
//
// A lock is a key set with SET NX PX holding a random token. The holder
// extends the expiry while it runs; a crashed holder's lock expires after
// the TTL. Release and extension only touch the key while it still holds
// the caller's token.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"netpilot-hq/netpilot/pkg/config"
)

const pingTimeout = 5 * time.Second

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker is a Redis backed certs.Locker.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis using the locking section and verifies the
// connection.
func New(ctx context.Context, cfg *config.LockingConfig) (*Locker, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", cfg.RedisAddr, err)
	}
	return NewWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = config.DefaultLockTTL
	}
	return &Locker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: slog.Default().With("component", "redislock"),
	}
}

// TryLock implements certs.Locker.
func (l *Locker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	full := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(full, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			releaseCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{full}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", "key", full, "error", err)
			}
		})
	}, true, nil
}

// keepAlive extends the lock every third of its TTL until stop closes or
// the lock is lost.
func (l *Locker) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("failed to extend lock", "key", key, "error", err)
				continue
			}
			if n == 0 {
				l.logger.Error("lock lost before release", "key", key)
				return
			}
		}
	}
}

// Close closes the Redis client.
func (l *Locker) Close() error {
	return l.client.Close()
}
