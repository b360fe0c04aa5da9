package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryRoutesResolve(t *testing.T) {
	routes := DeliveryRoutes{
		Default: "log",
		Routes: map[string]string{
			"notification.*":                "email",
			"notification.schedule_changed": "slack",
			"notification.schedule.*":       "amqp",
			"payment.status.changed":        "amqp",
		},
	}

	assert.Equal(t, "slack", routes.Resolve("notification.schedule_changed"))
	assert.Equal(t, "amqp", routes.Resolve("notification.schedule.moved"))
	assert.Equal(t, "email", routes.Resolve("notification.payment_status"))
	assert.Equal(t, "amqp", routes.Resolve("payment.status.changed"))
	assert.Equal(t, "log", routes.Resolve("unknown.type"))
}

func TestNewDeliveryRoutesHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "delivery.yml")
	content := []byte("delivery:\n  default: slack\n  routes:\n    payment.status.changed: email\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewDeliveryRoutesHolder(Config{DeliveryRoutesPath: path})
	require.NoError(t, err)

	routes := holder.Get()
	assert.Equal(t, "slack", routes.Default)
	assert.Equal(t, "email", routes.Resolve("payment.status.changed"))
}

func TestValidateDeliveryRoutesRejectsEmptyExecutor(t *testing.T) {
	err := validateDeliveryRoutes(DeliveryRoutes{
		Default: "log",
		Routes:  map[string]string{"payment.status.changed": " "},
	})
	assert.Error(t, err)
}
