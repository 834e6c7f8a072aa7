package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "concierge:lock:"

// Both scripts act only while KEYS[1] still holds the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

var (
	ErrLockUnavailable = errors.New("lock_unavailable")
	ErrInvalidLease    = errors.New("invalid_lease")
)

// Locker hands out named leases on Redis keys under the concierge:lock: namespace.
type Locker struct {
	client *redis.Client
}

// NewLocker returns nil without a Redis client.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryLock takes the lease if nobody holds it and returns the token that owns it.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	key, err := l.leaseKey(name, ttl)
	if err != nil {
		return "", false, err
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Extend pushes the expiry of a held lease to ttl from now. false means the lease was lost.
func (l *Locker) Extend(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	key, err := l.leaseKey(name, ttl)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, ErrInvalidLease
	}

	n, err := extendScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *Locker) Release(ctx context.Context, name, token string) error {
	if l == nil || l.client == nil || token == "" {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{lockKeyPrefix + name}, token).Err()
}

func (l *Locker) leaseKey(name string, ttl time.Duration) (string, error) {
	if l == nil || l.client == nil {
		return "", ErrLockUnavailable
	}
	name = strings.TrimSpace(name)
	if name == "" || ttl < time.Millisecond {
		return "", ErrInvalidLease
	}
	return lockKeyPrefix + name, nil
}
