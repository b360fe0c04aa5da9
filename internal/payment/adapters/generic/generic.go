// Package generic parses the gateway-neutral webhook format:
//
//	{"id": "...", "type": "payment.captured", "data": {"object": {"id": "...", "metadata": {"paymentId": "..."}}}}
//
// signed in the X-Signature header.
package generic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/tixgate/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tixgate/internal/payment/domain"
)

const (
	ProviderName    = "generic"
	SignatureHeader = "X-Signature"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.SigningSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{secret: secret, maxAge: cfg.SignatureMaxAge, now: now}, nil
}

type Adapter struct {
	secret string
	maxAge time.Duration
	now    func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	header := strings.TrimSpace(headers.Get(SignatureHeader))
	if header == "" {
		return paymentdomain.ErrInvalidSignature
	}
	return adapters.VerifySignature(a.secret, header, payload, a.now(), a.maxAge)
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.GatewayEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := a.now().UTC()
	if event.Created > 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}

	return &paymentdomain.GatewayEvent{
		Provider:   ProviderName,
		ID:         strings.TrimSpace(event.ID),
		Type:       strings.TrimSpace(event.Type),
		RawType:    event.Type,
		ObjectID:   strings.TrimSpace(event.Data.Object.ID),
		PaymentRef: strings.TrimSpace(event.Data.Object.Metadata.PaymentID),
		Amount:     event.Data.Object.Amount,
		OccurredAt: occurredAt,
	}, nil
}

type webhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID       string `json:"id"`
			Amount   int64  `json:"amount"`
			Metadata struct {
				PaymentID string `json:"paymentId"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}
