package braintree

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/tixgate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	publicKey  = "pk_tixgate"
	privateKey = "sk_tixgate_private"
)

func newAdapter(t *testing.T, keyID string) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{SigningSecret: privateKey, KeyID: keyID})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func delivery(xmlBody, signature string) []byte {
	form := url.Values{}
	form.Set("bt_payload", base64.StdEncoding.EncodeToString([]byte(xmlBody)))
	form.Set("bt_signature", signature)
	return []byte(form.Encode())
}

func signed(xmlBody string) []byte {
	content := base64.StdEncoding.EncodeToString([]byte(xmlBody))
	return delivery(xmlBody, Sign(publicKey, privateKey, content))
}

const settledXML = `<notification>
  <kind>transaction_settled</kind>
  <timestamp type="datetime">2026-06-12T14:00:00Z</timestamp>
  <subject>
    <transaction>
      <id>txn_81</id>
      <order-id>pay_bt</order-id>
      <amount>105.00</amount>
    </transaction>
  </subject>
</notification>`

const disputeXML = `<notification>
  <kind>dispute_opened</kind>
  <timestamp type="datetime">2026-06-20T09:30:00Z</timestamp>
  <subject>
    <dispute>
      <id>dp_7</id>
      <amount-disputed>52.5</amount-disputed>
      <transaction>
        <id>txn_81</id>
        <order-id>pay_bt</order-id>
        <amount>105.00</amount>
      </transaction>
    </dispute>
  </subject>
</notification>`

func TestVerifySignature(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "")
	content := base64.StdEncoding.EncodeToString([]byte(settledXML))

	assert.NoError(t, adapter.Verify(ctx, signed(settledXML), nil))
	assert.NoError(t, adapter.Verify(ctx,
		delivery(settledXML, "pk_old|deadbeef&"+Sign(publicKey, privateKey, content)), nil))
	assert.ErrorIs(t, adapter.Verify(ctx, delivery(settledXML, Sign(publicKey, "wrong", content)), nil),
		paymentdomain.ErrInvalidSignature)
	assert.ErrorIs(t, adapter.Verify(ctx, []byte("bt_payload=abc"), nil), paymentdomain.ErrInvalidPayload)

	pinned := newAdapter(t, "pk_other")
	assert.ErrorIs(t, pinned.Verify(ctx, signed(settledXML), nil), paymentdomain.ErrInvalidSignature)
}

func TestParseSettledTransaction(t *testing.T) {
	event, err := newAdapter(t, publicKey).Parse(context.Background(), signed(settledXML))
	require.NoError(t, err)
	assert.Equal(t, ProviderName, event.Provider)
	assert.Equal(t, paymentdomain.EventTypeCaptured, event.Type)
	assert.Equal(t, "transaction_settled", event.RawType)
	assert.Equal(t, "txn_81_transaction_settled", event.ID)
	assert.Equal(t, "pay_bt", event.PaymentRef)
	assert.Equal(t, "txn_81", event.ObjectID)
	assert.Equal(t, int64(10500), event.Amount)
	assert.Equal(t, time.Date(2026, 6, 12, 14, 0, 0, 0, time.UTC), event.OccurredAt)
}

func TestParseDisputeKinds(t *testing.T) {
	adapter := newAdapter(t, publicKey)

	event, err := adapter.Parse(context.Background(), signed(disputeXML))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypeDisputeCreated, event.Type)
	assert.Equal(t, "dp_7_dispute_opened", event.ID)
	assert.Equal(t, "pay_bt", event.PaymentRef)
	assert.Equal(t, int64(5250), event.Amount)

	cases := map[string]string{
		"dispute_won":          paymentdomain.EventTypeDisputeWon,
		"dispute_lost":         paymentdomain.EventTypeDisputeLost,
		"dispute_under_review": "dispute_under_review",
	}
	for kind, want := range cases {
		body := strings.Replace(disputeXML, "<kind>dispute_opened</kind>", "<kind>"+kind+"</kind>", 1)
		event, err := adapter.Parse(context.Background(), signed(body))
		require.NoError(t, err, kind)
		assert.Equal(t, want, event.Type, kind)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	adapter := newAdapter(t, publicKey)
	_, err := adapter.Parse(context.Background(), signed("<notification><kind>x</kind></notification>"))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = adapter.Parse(context.Background(), signed("not xml"))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestMinorUnits(t *testing.T) {
	for in, want := range map[string]int64{"": 0, "10": 1000, "10.5": 1050, "10.05": 1005, "0.999": 99} {
		got, err := minorUnits(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := minorUnits("ten")
	assert.Error(t, err)
}
