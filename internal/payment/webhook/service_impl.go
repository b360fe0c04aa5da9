package webhook

import (
	"context"
	"net/http"
	"strings"

	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/config"
	"github.com/smallbiznis/tixgate/internal/observability/tracing"
	"github.com/smallbiznis/tixgate/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tixgate/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Payments paymentdomain.Service
	Adapters *adapters.Registry
	Cfg      config.Config
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	payments paymentdomain.Service
	adapters *adapters.Registry
	cfg      config.WebhookConfig
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		log:      p.Log.Named("payment.webhook"),
		clock:    p.Clock,
		payments: p.Payments,
		adapters: p.Adapters,
		cfg:      p.Cfg.Webhook,
	}
}

// Ingest verifies the delivery before parsing it. Nothing is written for a
// delivery that fails verification. Body encoding is the adapter's concern.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.FulfillResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.FulfillResult{}, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.FulfillResult{}, paymentdomain.ErrProviderNotFound
	}

	ctx, span := otel.Tracer("payment.webhook").Start(ctx, "payment.webhook.ingest")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", provider))

	secret, keyID := s.cfg.SecretFor(provider)
	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		SigningSecret:   secret,
		KeyID:           keyID,
		SignatureMaxAge: s.cfg.SignatureMaxAge,
		Now:             s.clock.Now,
	})
	if err != nil {
		s.log.Error("payment webhook adapter unavailable", zap.String("provider", provider), zap.Error(err))
		span.SetStatus(codes.Error, "adapter_unavailable")
		return paymentdomain.FulfillResult{}, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("payment webhook rejected", zap.String("provider", provider), zap.Error(err))
		span.SetStatus(codes.Error, "signature_rejected")
		return paymentdomain.FulfillResult{}, err
	}
	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		span.SetStatus(codes.Error, "parse_failed")
		return paymentdomain.FulfillResult{}, err
	}
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("payment.event_id", event.ID),
		attribute.String("payment.event_type", event.Type),
	)...)

	result, err := s.payments.Fulfill(ctx, *event)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "fulfill_failed")
		return paymentdomain.FulfillResult{}, err
	}

	s.log.Debug("payment webhook processed",
		zap.String("provider", provider),
		zap.String("event_id", event.ID),
		zap.Bool("handled", result.Handled),
		zap.Bool("updated", result.Updated),
		zap.String("reason", result.Reason),
	)
	return result, nil
}
