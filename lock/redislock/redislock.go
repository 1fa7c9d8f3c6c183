// Package redislock implements billing.Locker on Redis so that several
// server or CLI processes sharing one database never write the same
// resident's ledger at once.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/rwa-ledger/billing"
)

// Client is the subset of redis.Cmdable the locker uses.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

const (
	// DefaultTTL outlasts a scheduled generation batch, which holds its
	// locks for the whole run.
	DefaultTTL   = 10 * time.Minute
	DefaultRetry = 50 * time.Millisecond
	keyPrefix    = "rwa-ledger:lock:"
)

type Locker struct {
	client Client
	TTL    time.Duration
	Retry  time.Duration
	Logger logrus.FieldLogger
}

func New(client Client) *Locker {
	return &Locker{client: client, TTL: DefaultTTL, Retry: DefaultRetry}
}

// WithLogger sets the logger failed releases are reported to.
func (l *Locker) WithLogger(logger logrus.FieldLogger) *Locker {
	l.Logger = logger
	return l
}

// Connect opens a client for addr and checks it with PING.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Lock polls SET NX until the key is free or ctx is done. The lock expires
// after TTL if the holder dies without releasing it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ticker := time.NewTicker(l.retry())
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl()).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release with a fresh context: the caller's may be done.
					releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					l.release(releaseCtx, key, redisKey, token)
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w: %v", key, billing.ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// release deletes the key if it still holds token. A failure leaves the key
// to expire on its own, so it is only logged.
func (l *Locker) release(ctx context.Context, key, redisKey, token string) {
	deleted, err := l.client.Eval(ctx, releaseScript, []string{redisKey}, token).Int64()
	if l.Logger == nil {
		return
	}
	switch {
	case err != nil:
		l.Logger.WithField("lock", key).WithError(err).Warn("failed to release lock")
	case deleted == 0:
		l.Logger.WithFields(logrus.Fields{
			"lock": key,
			"ttl":  l.ttl().String(),
		}).Warn("lock expired before release")
	}
}

func (l *Locker) ttl() time.Duration {
	if l.TTL <= 0 {
		return DefaultTTL
	}
	return l.TTL
}

func (l *Locker) retry() time.Duration {
	if l.Retry <= 0 {
		return DefaultRetry
	}
	return l.Retry
}
