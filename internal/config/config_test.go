package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWebhookSecretForProvider(t *testing.T) {
	cfg := WebhookConfig{
		SigningSecret:       "whsec_shared",
		AdyenHMACKey:        "0a1b2c",
		BraintreePublicKey:  "pk_1",
		BraintreePrivateKey: "sk_1",
	}

	secret, keyID := cfg.SecretFor("Adyen")
	assert.Equal(t, "0a1b2c", secret)
	assert.Empty(t, keyID)

	secret, keyID = cfg.SecretFor("braintree")
	assert.Equal(t, "sk_1", secret)
	assert.Equal(t, "pk_1", keyID)

	secret, _ = cfg.SecretFor("stripe")
	assert.Equal(t, "whsec_shared", secret)

	secret, _ = WebhookConfig{SigningSecret: "whsec_shared"}.SecretFor("adyen")
	assert.Equal(t, "whsec_shared", secret)
}

func TestLoadReadsProviderSecrets(t *testing.T) {
	t.Setenv("ADYEN_HMAC_KEY", " 0a1b2c ")
	t.Setenv("BRAINTREE_PRIVATE_KEY", "sk_env")
	t.Setenv("OUTBOX_LEASE_TIMEOUT", "45")

	cfg := Load()
	assert.Equal(t, "0a1b2c", cfg.Webhook.AdyenHMACKey)
	assert.Equal(t, "sk_env", cfg.Webhook.BraintreePrivateKey)
	assert.Equal(t, 45*time.Second, cfg.Outbox.LeaseTimeout)
}
