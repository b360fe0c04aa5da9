package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smallbiznis/tixgate/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/webhooks/payments/:provider"),
		attribute.String("Signature", "t=1,v1=abc"),
		attribute.String("recipient", "fan@example.com"),
	)
	require.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorTruncates(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	long := errors.New(strings.Repeat("x", 1000))
	assert.Len(t, SafeError(long).Error(), maxErrorLength)
}

func TestExtractContextReadsCorrelationHeader(t *testing.T) {
	header := http.Header{}
	header.Set(correlation.HeaderName, "corr-123")
	ctx := ExtractContext(context.Background(), propagation.HeaderCarrier(header))
	assert.Equal(t, "corr-123", correlation.ExtractCorrelationID(ctx))
}

func TestWrapHTTPClientPropagatesCorrelation(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(correlation.HeaderName)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := WrapHTTPClient(srv.Client())
	ctx := correlation.ContextWithCorrelationID(context.Background(), "corr-456")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "corr-456", got)
}
