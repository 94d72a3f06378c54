/*
Package redislock provides a Redis-backed mutual exclusion lock.

PURPOSE:
  Several server replicas each run the scheduler. The lock makes sure
  only one of them runs a pass at a time. Correctness never depends on
  it: payment records and alerts are insert-if-not-exists in the store,
  so two overlapping runs create no duplicates. The lock only saves the
  wasted work.

DESIGN:
  - Acquire: SET key token NX PX ttl
  - Release: delete the key only if it still holds our token (Lua)
  - A crashed holder's lock expires after ttl

SEE ALSO:
  - api/scheduler.go: Locker interface
*/
package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock held by another process")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker acquires named locks in one Redis database.
type Locker struct {
	client *redis.Client
	prefix string
}

// New creates a Locker. Keys are stored as prefix + name.
func New(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Acquire takes the lock for ttl. The returned release function is safe
// to call more than once and never removes a lock acquired by someone else.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	key := l.prefix + name

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s: %w", key, ErrNotAcquired)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
