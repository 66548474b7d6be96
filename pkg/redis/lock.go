package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultLockPrefix = "clover:lock:"

var (
	// ErrLockNotAcquired means another holder owns the key
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld means the lock expired or was taken over
	ErrLockNotHeld = errors.New("lock not held")
)

// Both scripts act only while the key still carries the holder's token.
var (
	unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker hands out SET NX locks with per-holder tokens
type Locker struct {
	client *Client
	prefix string
}

func NewLocker(client *Client, prefix string) *Locker {
	if prefix == "" {
		prefix = DefaultLockPrefix
	}
	return &Locker{client: client, prefix: prefix}
}

// Lock is a held lock
type Lock struct {
	client *Client
	key    string
	token  string
}

// Acquire takes key for ttl or fails with ErrLockNotAcquired
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{client: l.client, key: l.prefix + key, token: uuid.NewString()}

	ok, err := l.client.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	switch {
	case err != nil:
		return nil, err
	case !ok:
		return nil, ErrLockNotAcquired
	}
	return lock, nil
}

// Extend resets the lock's ttl
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	return lock.run(ctx, extendScript, ttl.Milliseconds())
}

// Release drops the lock
func (lock *Lock) Release(ctx context.Context) error {
	return lock.run(ctx, unlockScript)
}

func (lock *Lock) run(ctx context.Context, script *redis.Script, args ...any) error {
	n, err := script.Run(ctx, lock.client.rdb, []string{lock.key}, append([]any{lock.token}, args...)...).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// TryWithLock runs fn while holding key, extending the lock every half ttl
// until fn returns. When another holder has the key fn is skipped and ran
// is false.
func (l *Locker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (ran bool, err error) {
	if ttl <= 0 {
		return false, errors.New("lock ttl must be positive")
	}
	lock, err := l.Acquire(ctx, key, ttl)
	if errors.Is(err, ErrLockNotAcquired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := l.client.logger.WithContext(ctx).WithField("lock", lock.key)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := lock.Extend(ctx, ttl); err != nil {
					log.WithError(err).Warn("Failed to extend lock")
					return
				}
			}
		}
	}()

	defer func() {
		close(done)
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrLockNotHeld) {
			log.WithError(err).Warn("Failed to release lock")
		}
	}()

	return true, fn(ctx)
}
