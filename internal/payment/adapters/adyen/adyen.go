package adyen

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/tixgate/internal/payment/domain"
)

const ProviderName = "adyen"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

// NewAdapter expects the hex encoded HMAC key from the Adyen customer area.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	key, err := hex.DecodeString(strings.TrimSpace(cfg.SigningSecret))
	if err != nil || len(key) == 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{hmacKey: key, now: now}, nil
}

type Adapter struct {
	hmacKey []byte
	now     func() time.Time
}

// Verify checks the hmacSignature carried inside every notification item. Adyen
// signs items, not the HTTP body, so there is no header to read.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	root, err := decode(payload)
	if err != nil {
		return err
	}
	for _, wrapper := range root.NotificationItems {
		item := wrapper.NotificationRequestItem
		signature := item.AdditionalData["hmacSignature"]
		if signature == "" {
			return paymentdomain.ErrInvalidSignature
		}
		expected := Sign(a.hmacKey, item)
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			return paymentdomain.ErrInvalidSignature
		}
	}
	return nil
}

// Parse maps the notification item onto a gateway event. The payment reference is
// the merchantReference sent when the payment was created.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.GatewayEvent, error) {
	root, err := decode(payload)
	if err != nil {
		return nil, err
	}
	item := root.NotificationItems[0].NotificationRequestItem
	if strings.TrimSpace(item.PspReference) == "" || strings.TrimSpace(item.EventCode) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	rawType := strings.TrimSpace(item.EventCode)
	eventType := rawType
	success := strings.EqualFold(strings.TrimSpace(item.Success), "true")
	switch rawType {
	case "AUTHORISATION", "CAPTURE":
		if success {
			eventType = paymentdomain.EventTypeCaptured
		}
	case "NOTIFICATION_OF_CHARGEBACK":
		eventType = paymentdomain.EventTypeDisputeCreated
	case "CHARGEBACK_REVERSED", "PREARBITRATION_WON":
		eventType = paymentdomain.EventTypeDisputeWon
	case "CHARGEBACK", "PREARBITRATION_LOST", "SECOND_CHARGEBACK":
		eventType = paymentdomain.EventTypeDisputeLost
	}

	ref := strings.TrimSpace(item.AdditionalData["metadata.paymentId"])
	if ref == "" {
		ref = strings.TrimSpace(item.MerchantReference)
	}

	objectID := strings.TrimSpace(item.OriginalReference)
	if objectID == "" {
		objectID = strings.TrimSpace(item.PspReference)
	}

	return &paymentdomain.GatewayEvent{
		Provider:   ProviderName,
		ID:         strings.TrimSpace(item.PspReference) + "_" + rawType,
		Type:       eventType,
		RawType:    rawType,
		ObjectID:   objectID,
		PaymentRef: ref,
		Amount:     item.Amount.Value,
		OccurredAt: eventDate(item.EventDate, a.now),
	}, nil
}

// Sign computes the base64 HMAC-SHA256 Adyen expects over the escaped, colon
// joined item fields.
func Sign(key []byte, item NotificationRequestItem) string {
	parts := []string{
		item.PspReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		item.Success,
	}
	escaper := strings.NewReplacer(`\`, `\\`, `:`, `\:`)
	for i, part := range parts {
		parts[i] = escaper.Replace(part)
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(strings.Join(parts, ":")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// decode accepts exactly one item; Adyen delivers a single item per request.
func decode(payload []byte) (notificationRoot, error) {
	var root notificationRoot
	if err := json.Unmarshal(payload, &root); err != nil {
		return notificationRoot{}, paymentdomain.ErrInvalidPayload
	}
	if len(root.NotificationItems) != 1 {
		return notificationRoot{}, paymentdomain.ErrInvalidPayload
	}
	return root, nil
}

func eventDate(value string, now func() time.Time) time.Time {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return now().UTC()
	}
	return parsed.UTC()
}

type notificationRoot struct {
	Live              string             `json:"live"`
	NotificationItems []notificationItem `json:"notificationItems"`
}

type notificationItem struct {
	NotificationRequestItem NotificationRequestItem `json:"NotificationRequestItem"`
}

type NotificationRequestItem struct {
	AdditionalData      map[string]string `json:"additionalData"`
	Amount              Amount            `json:"amount"`
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference"`
	PspReference        string            `json:"pspReference"`
	Reason              string            `json:"reason"`
	Success             string            `json:"success"`
}

type Amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}
