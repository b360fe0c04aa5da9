package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tixgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookLimiterDisabledWithoutRedis(t *testing.T) {
	limiter, err := NewWebhookLimiter(nil, config.Config{})
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "stripe")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestWebhookKey(t *testing.T) {
	assert.Equal(t, "webhook:provider:stripe", WebhookKey(" Stripe "))
	assert.Equal(t, "webhook:provider:unknown", WebhookKey(""))
}

func TestRefillDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), refillDelay(1.5, 10))
	assert.Equal(t, 100*time.Millisecond, refillDelay(0, 10))
	assert.Equal(t, 50*time.Millisecond, refillDelay(0.5, 10))
	assert.Equal(t, time.Duration(0), refillDelay(0, 0))
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))
	assert.Equal(t, 20*time.Second, defaultBucketTTL(10, 100))
	assert.Equal(t, time.Second, defaultBucketTTL(1000, 1))
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, int64(2), castToInt(2.7))
	assert.Equal(t, int64(0), castToInt("x"))
	assert.InDelta(t, 3.25, castToFloat("3.25"), 0.0001)
	assert.InDelta(t, 4.0, castToFloat(int64(4)), 0.0001)
	assert.Equal(t, 0.0, castToFloat("nope"))
}

func TestNilLockerIsSafe(t *testing.T) {
	assert.Nil(t, NewLocker(nil, config.Config{}))

	var locker *Locker
	ok, err := locker.AcquireInterval(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.False(t, ok)
	_, _, err = locker.Holder(context.Background(), "k")
	assert.ErrorIs(t, err, ErrLockUnavailable)
}

func TestLockerRejectsInvalidLease(t *testing.T) {
	locker := NewLocker(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), config.Config{AppName: "tixgate", NodeID: 3})
	require.NotNil(t, locker)
	assert.Equal(t, "tixgate/3", locker.holder)

	_, err := locker.AcquireInterval(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrInvalidLease)
	_, err = locker.AcquireInterval(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidLease)
}
