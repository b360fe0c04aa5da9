package braintree

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/tixgate/internal/payment/domain"
)

const ProviderName = "braintree"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

// NewAdapter takes the private key as the signing secret and, optionally, the
// public key as KeyID to pick the matching signature pair.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	privateKey := strings.TrimSpace(cfg.SigningSecret)
	if privateKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		publicKey:  strings.TrimSpace(cfg.KeyID),
		privateKey: privateKey,
		now:        now,
	}, nil
}

type Adapter struct {
	publicKey  string
	privateKey string
	now        func() time.Time
}

// Verify checks bt_signature against bt_payload. The signature is one or more
// "public_key|hex" pairs joined by "&".
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature, content, err := formFields(payload)
	if err != nil {
		return err
	}
	expected := digest(a.privateKey, content)
	for _, pair := range strings.Split(signature, "&") {
		publicKey, hash, ok := strings.Cut(pair, "|")
		if !ok {
			continue
		}
		if a.publicKey != "" && publicKey != a.publicKey {
			continue
		}
		if hmac.Equal([]byte(hash), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// Parse decodes the base64 XML notification. The payment reference is the
// transaction order id set at checkout.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.GatewayEvent, error) {
	_, content, err := formFields(payload)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	var n notification
	if err := xml.Unmarshal(raw, &n); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	rawType := strings.TrimSpace(n.Kind)
	if rawType == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	eventType := rawType
	switch rawType {
	case "transaction_settled":
		eventType = paymentdomain.EventTypeCaptured
	case "dispute_opened":
		eventType = paymentdomain.EventTypeDisputeCreated
	case "dispute_won":
		eventType = paymentdomain.EventTypeDisputeWon
	case "dispute_lost":
		eventType = paymentdomain.EventTypeDisputeLost
	}

	var (
		txn       transaction
		subjectID string
		amount    string
	)
	switch {
	case n.Subject.Dispute != nil:
		txn = n.Subject.Dispute.Transaction
		subjectID = n.Subject.Dispute.ID
		amount = n.Subject.Dispute.AmountDisputed
		if amount == "" {
			amount = txn.Amount
		}
	case n.Subject.Transaction != nil:
		txn = *n.Subject.Transaction
		subjectID = txn.ID
		amount = txn.Amount
	}
	if strings.TrimSpace(subjectID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	minor, err := minorUnits(amount)
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	return &paymentdomain.GatewayEvent{
		Provider:   ProviderName,
		ID:         strings.TrimSpace(subjectID) + "_" + rawType,
		Type:       eventType,
		RawType:    rawType,
		ObjectID:   strings.TrimSpace(txn.ID),
		PaymentRef: strings.TrimSpace(txn.OrderID),
		Amount:     minor,
		OccurredAt: timestamp(n.Timestamp, a.now),
	}, nil
}

// Sign returns the bt_signature value for content.
func Sign(publicKey, privateKey, content string) string {
	return publicKey + "|" + digest(privateKey, content)
}

// digest is HMAC-SHA1 keyed with the SHA1 of the private key.
func digest(privateKey, content string) string {
	key := sha1.Sum([]byte(privateKey))
	mac := hmac.New(sha1.New, key[:])
	_, _ = mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}

func formFields(payload []byte) (string, string, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return "", "", paymentdomain.ErrInvalidPayload
	}
	signature := strings.TrimSpace(values.Get("bt_signature"))
	content := values.Get("bt_payload")
	if signature == "" || strings.TrimSpace(content) == "" {
		return "", "", paymentdomain.ErrInvalidPayload
	}
	return signature, content, nil
}

// minorUnits converts a decimal amount such as "12.50" to 1250.
func minorUnits(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	whole, frac, _ := strings.Cut(value, ".")
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	minor, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	return major*100 + minor, nil
}

func timestamp(value string, now func() time.Time) time.Time {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return now().UTC()
	}
	return parsed.UTC()
}

type notification struct {
	XMLName   xml.Name `xml:"notification"`
	Kind      string   `xml:"kind"`
	Timestamp string   `xml:"timestamp"`
	Subject   subject  `xml:"subject"`
}

type subject struct {
	Transaction *transaction `xml:"transaction"`
	Dispute     *dispute     `xml:"dispute"`
}

type transaction struct {
	ID      string `xml:"id"`
	OrderID string `xml:"order-id"`
	Amount  string `xml:"amount"`
}

type dispute struct {
	ID             string      `xml:"id"`
	AmountDisputed string      `xml:"amount-disputed"`
	Transaction    transaction `xml:"transaction"`
}
