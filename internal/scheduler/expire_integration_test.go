package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/clock"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
	entitlementrepo "github.com/smallbiznis/tixgate/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/tixgate/internal/entitlement/service"
	eventlogservice "github.com/smallbiznis/tixgate/internal/eventlog/service"
	outboxrepo "github.com/smallbiznis/tixgate/internal/outbox/repository"
	outboxservice "github.com/smallbiznis/tixgate/internal/outbox/service"
	schedtesting "github.com/smallbiznis/tixgate/internal/scheduler/testing"
	"github.com/smallbiznis/tixgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExpireEntitlementsJobEndToEnd(t *testing.T) {
	useTestRegistry(t)
	ctx := context.Background()

	db := dbtest.Open(t)
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 7, 4, 18, 0, 0, 0, time.UTC))
	repo := entitlementrepo.Provide()
	eventLog := eventlogservice.NewService(eventlogservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk})
	ents := entitlementservice.NewService(entitlementservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repo,
		EventLog: eventLog,
		Outbox: outboxservice.NewService(outboxservice.Params{
			DB:       db,
			Log:      zap.NewNop(),
			GenID:    node,
			Clock:    clk,
			Repo:     outboxrepo.Provide(),
			EventLog: eventLog,
		}),
	})

	later := clk.Now().Add(24 * time.Hour)
	var ids []snowflake.ID
	for seq := 1; seq <= 3; seq++ {
		ent := &entitlementdomain.Entitlement{
			ID:            node.Generate(),
			OrgID:         5,
			Type:          entitlementdomain.TypeTicket,
			PaymentID:     100,
			PaymentItemID: 200,
			Seq:           seq,
			ResourceType:  "event",
			ResourceID:    "final-2026",
			Status:        entitlementdomain.StatusActive,
			ValidUntil:    &later,
			CreatedAt:     clk.Now(),
			UpdatedAt:     clk.Now(),
		}
		inserted, err := repo.Insert(ctx, db, ent)
		require.NoError(t, err)
		require.True(t, inserted)
		ids = append(ids, ent.ID)
	}

	accel := schedtesting.NewTimeAccelerator(db, clk.Now)
	lapsed, err := accel.LapseAllActive(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), lapsed)

	s := newTestScheduler(t, clk, ents)
	require.NoError(t, s.ExpireEntitlementsJob(ctx))

	for _, id := range ids {
		got, err := ents.Get(ctx, 5, id)
		require.NoError(t, err)
		assert.Equal(t, entitlementdomain.StatusExpired, got.Status)
	}
	assert.Equal(t, int64(3), dbtest.Count(t, db, "SELECT COUNT(1) FROM outbox_events WHERE event_type = 'entitlement.status.changed'"))

	// Already expired rows are not touched again.
	require.NoError(t, s.ExpireEntitlementsJob(ctx))
	assert.Equal(t, int64(3), dbtest.Count(t, db, "SELECT COUNT(1) FROM outbox_events"))
}
