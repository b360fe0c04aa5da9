package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tixgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tixgate/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	rateLimitEndpointWebhook    = "payment-webhook"
	rateLimitReasonProviderRate = "provider-rate"
)

func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
		ctx := c.Request.Context()

		res, err := s.webhookLimiter.Allow(ctx, provider)
		if err != nil {
			logger.FromContext(ctx).Warn("webhook rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			denyWebhookRateLimit(c, provider, rateLimitReasonProviderRate, retryAfter, s.obsMetrics)
			return
		}

		recordRateLimitAllowed(ctx, provider, s.obsMetrics)
		c.Next()
	}
}

func denyWebhookRateLimit(c *gin.Context, provider, reason string, retryAfter int, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("webhook rate limit exceeded",
		zap.String("reason", reason),
		zap.String("provider", provider),
	)
	recordRateLimitDenied(ctx, provider, reason, metrics)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, provider string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, provider, rateLimitEndpointWebhook)
}

func recordRateLimitDenied(ctx context.Context, provider, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, provider, rateLimitEndpointWebhook, reason)
}
