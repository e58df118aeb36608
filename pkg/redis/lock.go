package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "canon:lock:"

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// ownerOp runs DEL or PEXPIRE only when KEYS[1] still holds the caller's
// token. A holder whose TTL lapsed gets 0 back instead of touching the
// successor's key.
var ownerOp = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if ARGV[2] == "release" then
	return redis.call("DEL", KEYS[1])
end
return redis.call("PEXPIRE", KEYS[1], ARGV[3])
`)

// Lock is a held lease on one key.
type Lock struct {
	client *Client
	key    string
	token  string
}

// Locker hands out single-holder leases under a key prefix.
type Locker struct {
	client *Client
	prefix string
}

func NewLocker(client *Client, prefix string) *Locker {
	if prefix == "" {
		prefix = defaultLockPrefix
	}
	return &Locker{client: client, prefix: prefix}
}

// Acquire takes key for ttl or returns ErrLockNotAcquired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{client: l.client, key: l.prefix + key, token: uuid.NewString()}

	ok, err := l.client.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	switch {
	case err != nil:
		return nil, err
	case !ok:
		return nil, ErrLockNotAcquired
	}
	l.client.logger.WithContext(ctx).Debugf("Acquired lock %s", lock.key)
	return lock, nil
}

func (lock *Lock) owned(ctx context.Context, op string, ttl time.Duration) error {
	n, err := ownerOp.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token, op, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Release frees the key if this lease still owns it.
func (lock *Lock) Release(ctx context.Context) error {
	if err := lock.owned(ctx, "release", 0); err != nil {
		return err
	}
	lock.client.logger.WithContext(ctx).Debugf("Released lock %s", lock.key)
	return nil
}

// Extend resets the TTL if this lease still owns the key.
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	return lock.owned(ctx, "extend", ttl)
}

// WithLock runs fn while holding key. The lease is refreshed every ttl/3 so fn
// may outlive ttl; the context handed to fn is cancelled if a refresh finds the
// lease gone.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	keeper := make(chan struct{})
	go func() {
		defer close(keeper)
		lock.keepAlive(runCtx, cancel, ttl)
	}()

	err = fn(runCtx)
	cancel()
	<-keeper

	releaseCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer done()
	if relErr := lock.Release(releaseCtx); relErr != nil && !errors.Is(relErr, ErrLockNotHeld) {
		l.client.logger.WithContext(ctx).WithError(relErr).Warnf("Failed to release lock %s", lock.key)
	}
	return err
}

func (lock *Lock) keepAlive(ctx context.Context, lost context.CancelFunc, ttl time.Duration) {
	t := time.NewTicker(ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := lock.Extend(ctx, ttl); err != nil {
			if ctx.Err() == nil {
				lock.client.logger.WithContext(ctx).WithError(err).Warnf("Lost lock %s", lock.key)
				lost()
			}
			return
		}
	}
}
