package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrNotAcquired is returned when the lock is held elsewhere after all tries.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrEmptyKey is returned when an empty lock key is provided.
	ErrEmptyKey = errors.New("lock key cannot be empty")
)

// Locker runs fn while holding a named mutual-exclusion lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Options configures lock behavior.
type Options struct {
	// Expiry is how long the lock is held before auto-expiring.
	Expiry time.Duration

	// Tries is the number of attempts to acquire the lock before giving up.
	Tries int

	// RetryDelay is the delay between attempts.
	RetryDelay time.Duration
}

// DefaultOptions returns defaults sized for one recipient-resolution call chain.
func DefaultOptions() Options {
	return Options{
		Expiry:     30 * time.Second,
		Tries:      60,
		RetryDelay: 500 * time.Millisecond,
	}
}

// RedisLocker implements Locker with redsync over a go-redis client.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

// NewRedisLocker creates a new Redis-backed locker
func NewRedisLocker(client redis.UniversalClient, opts Options, logger *zap.Logger) *RedisLocker {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultOptions().Expiry
	}
	if opts.Tries < 1 {
		opts.Tries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultOptions().RetryDelay
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// WithLock acquires key, runs fn and releases the lock. Release uses a context
// detached from ctx cancellation so an aborted caller still frees the key.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return ErrEmptyKey
	}

	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("acquire lock %s: %w", key, ctxErr)
		}
		return fmt.Errorf("%s: %w: %w", key, ErrNotAcquired, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil || !ok {
			l.logger.Warn("Failed to release lock",
				zap.String("key", key),
				zap.Bool("released", ok),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}
