package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another process owns the lock.
var ErrLockHeld = errors.New("lock already held")

// ReconcileLockKey builds redis keys guarding a reconciliation run for a date.
func ReconcileLockKey(date time.Time) string {
	return fmt.Sprintf("caja:reconcile:%s:lock", date.Format("2006-01-02"))
}

// MoraLockKey builds redis keys guarding a mora re-evaluation run for a date.
func MoraLockKey(date time.Time) string {
	return fmt.Sprintf("credito:mora:%s:lock", date.Format("2006-01-02"))
}

// Locker acquires short-lived redis locks.
type Locker struct {
	client *redis.Client
}

// NewLocker constructs a Locker. A nil client yields a no-op locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Acquire takes the lock for ttl and returns a release func.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		_ = l.client.Del(context.Background(), key).Err()
	}, nil
}
