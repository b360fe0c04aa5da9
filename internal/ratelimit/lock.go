package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tixgate/internal/config"
)

var (
	ErrLockUnavailable = errors.New("lock client not configured")
	ErrInvalidLease    = errors.New("invalid_lease")
)

// Locker hands out interval leases shared by every replica. Leases are never
// released; each one expires after its TTL, so the TTL is the minimum spacing
// between two runs of the same job anywhere in the fleet.
type Locker struct {
	client *redis.Client
	holder string
}

func NewLocker(client *redis.Client, cfg config.Config) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		holder: cfg.AppName + "/" + strconv.FormatInt(cfg.NodeID, 10),
	}
}

// AcquireInterval reports whether this process won the lease for key.
func (l *Locker) AcquireInterval(ctx context.Context, key string, interval time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, ErrLockUnavailable
	}
	if key == "" || interval <= 0 {
		return false, ErrInvalidLease
	}
	return l.client.SetNX(ctx, key, l.holder, interval).Result()
}

// Holder returns who holds the lease for key and how long it has left. An empty
// holder means the lease is free.
func (l *Locker) Holder(ctx context.Context, key string) (string, time.Duration, error) {
	if l == nil || l.client == nil {
		return "", 0, ErrLockUnavailable
	}
	holder, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return "", 0, err
	}
	return holder, ttl, nil
}
