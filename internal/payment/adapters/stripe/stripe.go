package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/tixgate/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tixgate/internal/payment/domain"
)

const ProviderName = "stripe"

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
	return &Adapter{webhookSecret: secret, maxAge: cfg.SignatureMaxAge, now: now}, nil
}

type Adapter struct {
	webhookSecret string
	maxAge        time.Duration
	now           func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}
	return adapters.VerifySignature(a.webhookSecret, sigHeader, payload, a.now(), a.maxAge)
}

// Parse maps Stripe event types onto normalized gateway types. Types with no
// mapping keep their raw name so fulfillment reports them as unsupported.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.GatewayEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var object stripeObject
	if len(event.Data.Object) > 0 {
		if err := json.Unmarshal(event.Data.Object, &object); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
	}

	rawType := strings.TrimSpace(event.Type)
	eventType := rawType
	switch rawType {
	case "payment_intent.succeeded", "charge.succeeded":
		eventType = paymentdomain.EventTypeCaptured
	case "charge.dispute.created":
		eventType = paymentdomain.EventTypeDisputeCreated
	case "charge.dispute.closed":
		switch strings.ToLower(strings.TrimSpace(object.Status)) {
		case "won":
			eventType = paymentdomain.EventTypeDisputeWon
		case "lost":
			eventType = paymentdomain.EventTypeDisputeLost
		}
	}

	amount := object.AmountReceived
	if amount <= 0 {
		amount = object.Amount
	}

	return &paymentdomain.GatewayEvent{
		Provider:   ProviderName,
		ID:         strings.TrimSpace(event.ID),
		Type:       eventType,
		RawType:    rawType,
		ObjectID:   strings.TrimSpace(object.ID),
		PaymentRef: paymentRef(object.Metadata),
		Amount:     amount,
		OccurredAt: timestamp(object.Created, event.Created, a.now),
	}, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeObject covers the fields shared by payment intents, charges and disputes.
type stripeObject struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountReceived int64          `json:"amount_received"`
	Status         string         `json:"status"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

func timestamp(primary int64, fallback int64, now func() time.Time) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func paymentRef(metadata map[string]any) string {
	for _, key := range []string{"paymentId", "payment_id"} {
		if value := readMetadataValue(metadata, key); value != "" {
			return value
		}
	}
	return ""
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}
