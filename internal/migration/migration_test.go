package migration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := Files()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestOutboxMigrationKeepsDedupeKeyUnique(t *testing.T) {
	body, err := embeddedMigrations.ReadFile("sql/000002_outbox_events.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_dedupe_key")
}

func TestOutboxDedupeKeyIsScopedToOrg(t *testing.T) {
	body, err := embeddedMigrations.ReadFile("sql/000005_outbox_dedupe_per_org.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "DROP INDEX IF EXISTS ux_outbox_events_dedupe_key")
	assert.Contains(t, string(body), "ON outbox_events (org_id, dedupe_key)")
}
