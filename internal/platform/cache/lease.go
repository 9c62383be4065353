package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another holder owns the lease.
var ErrLeaseHeld = errors.New("platform/cache: lease held by another runner")

// ErrLeaseLost is returned by Extend when the lease expired or changed hands.
var ErrLeaseLost = errors.New("platform/cache: lease lost")

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Leaser hands out short-lived exclusive leases backed by Redis SET NX.
type Leaser struct {
	client *redis.Client
	prefix string
}

// NewLeaser constructs a Leaser. Keys are namespaced with prefix.
func NewLeaser(client *redis.Client, prefix string) *Leaser {
	return &Leaser{client: client, prefix: prefix}
}

// Lease is an acquired claim on a key.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire claims name for ttl or returns ErrLeaseHeld.
func (l *Leaser) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return &Lease{}, nil
	}
	key := fmt.Sprintf("%s:lease:%s", l.prefix, name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Release drops the lease if it is still owned by this holder.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// Extend resets the lease expiry to ttl while this holder still owns it.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	if l == nil || l.client == nil {
		return nil
	}
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("platform/cache: extend %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
