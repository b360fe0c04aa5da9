package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tixgate/internal/config"
)

const keyWebhookProvider = "webhook:provider:%s"

var ErrInvalidLimit = errors.New("invalid_rate_limit")

// WebhookLimiter throttles inbound gateway callbacks per provider.
type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookLimiter(client *redis.Client, cfg config.Config) (*WebhookLimiter, error) {
	if client == nil {
		return nil, nil
	}
	if cfg.Webhook.RateLimitRate <= 0 || cfg.Webhook.RateLimitBurst <= 0 {
		return nil, ErrInvalidLimit
	}
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.Webhook.RateLimitRate,
		burst:  cfg.Webhook.RateLimitBurst,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow always admits when the limiter is disabled.
func (l *WebhookLimiter) Allow(ctx context.Context, provider string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, WebhookKey(provider), l.rate, l.burst)
}

func WebhookKey(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = "unknown"
	}
	return fmt.Sprintf(keyWebhookProvider, provider)
}
