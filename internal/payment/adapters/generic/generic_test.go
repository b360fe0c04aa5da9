package generic

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/tixgate/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tixgate/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, now time.Time) paymentdomain.PaymentAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		SigningSecret:   "whsec_test",
		SignatureMaxAge: 5 * time.Minute,
		Now:             func() time.Time { return now },
	})
	require.NoError(t, err)
	return adapter
}

func TestVerifySignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newAdapter(t, now)
	payload := []byte(`{"id":"evt_1","type":"payment.captured","data":{"object":{"id":"ch_1","metadata":{"paymentId":"pay_1"}}}}`)

	headers := http.Header{}
	headers.Set(SignatureHeader, adapters.Sign("whsec_test", payload, now.Add(-time.Minute)))
	assert.NoError(t, adapter.Verify(context.Background(), payload, headers))

	headers.Set(SignatureHeader, adapters.Sign("wrong", payload, now))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, headers), paymentdomain.ErrInvalidSignature)

	headers.Set(SignatureHeader, adapters.Sign("whsec_test", payload, now.Add(-10*time.Minute)))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, headers), paymentdomain.ErrSignatureExpired)

	headers.Del(SignatureHeader)
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, headers), paymentdomain.ErrInvalidSignature)

	tampered := []byte(`{"id":"evt_1","type":"dispute.lost"}`)
	headers.Set(SignatureHeader, adapters.Sign("whsec_test", payload, now))
	assert.ErrorIs(t, adapter.Verify(context.Background(), tampered, headers), paymentdomain.ErrInvalidSignature)
}

func TestParse(t *testing.T) {
	adapter := newAdapter(t, time.Now())
	event, err := adapter.Parse(context.Background(), []byte(`{
		"id": "evt_9",
		"type": "dispute.created",
		"created": 1767225600,
		"data": {"object": {"id": "dp_1", "amount": 2500, "metadata": {"paymentId": "pay_1"}}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_9", event.ID)
	assert.Equal(t, paymentdomain.EventTypeDisputeCreated, event.Type)
	assert.Equal(t, "pay_1", event.PaymentRef)
	assert.Equal(t, "dp_1", event.ObjectID)
	assert.Equal(t, int64(2500), event.Amount)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.OccurredAt)

	missingRef, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_2","type":"payment.captured","data":{"object":{}}}`))
	require.NoError(t, err)
	assert.Empty(t, missingRef.PaymentRef)

	_, err = adapter.Parse(context.Background(), []byte(`{"type":"payment.captured"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = adapter.Parse(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestFactoryRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}
