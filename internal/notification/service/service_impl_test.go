package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/dedupe"
	eventlogservice "github.com/smallbiznis/tixgate/internal/eventlog/service"
	"github.com/smallbiznis/tixgate/internal/notification/domain"
	"github.com/smallbiznis/tixgate/internal/notification/service"
	outboxrepo "github.com/smallbiznis/tixgate/internal/outbox/repository"
	outboxservice "github.com/smallbiznis/tixgate/internal/outbox/service"
	"github.com/smallbiznis/tixgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 8, 20, 7, 30, 0, 0, time.UTC))
	eventLog := eventlogservice.NewService(eventlogservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk})
	outbox := outboxservice.NewService(outboxservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     outboxrepo.Provide(),
		EventLog: eventLog,
	})
	return service.NewService(service.Params{DB: db, Log: zap.NewNop(), EventLog: eventLog, Outbox: outbox}), db
}

func change(version int64, recipients ...domain.Recipient) domain.ScheduleChange {
	return domain.ScheduleChange{
		OrgID:      9,
		MatchID:    "match-77",
		StartsAt:   time.Date(2026, 9, 1, 19, 0, 0, 0, time.FixedZone("WIB", 7*3600)),
		CourtID:    "court-2",
		Version:    version,
		Recipients: recipients,
	}
}

var (
	alice = domain.Recipient{ID: "u1", Email: "alice@example.com", Name: "Alice"}
	bob   = domain.Recipient{ID: "u2", Email: "bob@example.com"}
)

func TestNotifyScheduleChangeFansOutOncePerRecipient(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	first, err := svc.NotifyScheduleChange(ctx, change(1, alice, bob, alice))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Enqueued)
	assert.Equal(t, 0, first.Duplicates)

	retry, err := svc.NotifyScheduleChange(ctx, change(1, bob, alice))
	require.NoError(t, err)
	assert.Equal(t, 0, retry.Enqueued)
	assert.Equal(t, 2, retry.Duplicates)
	assert.Equal(t, first.EventLogID, retry.EventLogID)
	assert.Equal(t, first.FactKey, retry.FactKey)

	assert.Equal(t, int64(2), dbtest.Count(t, db, "SELECT COUNT(1) FROM outbox_events"))
	assert.Equal(t, int64(1), dbtest.Count(t, db, "SELECT COUNT(1) FROM event_log WHERE event_type = 'match.schedule.changed'"))

	key := dedupe.ScheduleChange(9, "match-77", change(1).StartsAt, "court-2", 1, "u1")
	assert.Equal(t, int64(1), dbtest.Count(t, db, "SELECT COUNT(1) FROM outbox_events WHERE dedupe_key = ?", key))
}

func TestNotifyScheduleChangeIsolatesOrgs(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	first, err := svc.NotifyScheduleChange(ctx, change(1, alice))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Enqueued)

	other := change(1, alice)
	other.OrgID = 10
	second, err := svc.NotifyScheduleChange(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Enqueued)
	assert.Equal(t, 0, second.Duplicates)
	assert.NotEqual(t, first.FactKey, second.FactKey)
	assert.NotEqual(t, first.EventLogID, second.EventLogID)

	for _, orgID := range []int64{9, 10} {
		assert.Equal(t, int64(1), dbtest.Count(t, db, "SELECT COUNT(1) FROM outbox_events WHERE org_id = ?", orgID))
		assert.Equal(t, int64(1), dbtest.Count(t, db, "SELECT COUNT(1) FROM event_log WHERE org_id = ?", orgID))
	}
}

func TestNotifyScheduleChangeNewVersionNotifiesAgain(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	_, err := svc.NotifyScheduleChange(ctx, change(1, alice))
	require.NoError(t, err)
	bumped, err := svc.NotifyScheduleChange(ctx, change(2, alice))
	require.NoError(t, err)
	assert.Equal(t, 1, bumped.Enqueued)

	assert.Equal(t, int64(2), dbtest.Count(t, db, "SELECT COUNT(1) FROM outbox_events"))
	assert.Equal(t, int64(2), dbtest.Count(t, db, "SELECT COUNT(1) FROM event_log"))
}

func TestNotifyScheduleChangeValidates(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	_, err := svc.NotifyScheduleChange(ctx, change(1))
	assert.ErrorIs(t, err, domain.ErrNoRecipients)

	_, err = svc.NotifyScheduleChange(ctx, change(1, domain.Recipient{ID: "u3"}))
	assert.ErrorIs(t, err, domain.ErrInvalidRecipient)

	bad := change(1, alice)
	bad.MatchID = " "
	_, err = svc.NotifyScheduleChange(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidMatch)

	assert.Equal(t, int64(0), dbtest.Count(t, db, "SELECT COUNT(1) FROM event_log"))
}
