package slo

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/config"
	"github.com/smallbiznis/tixgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type outboxRow struct {
	id           int64
	org          int64
	status       string
	createdAt    time.Time
	nextAttempt  *time.Time
	deadLettered *time.Time
}

func insertRows(t *testing.T, db *gorm.DB, rows ...outboxRow) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, db.Exec(
			`INSERT INTO outbox_events (id, org_id, event_type, payload, dedupe_key, logical_key, status,
				retries, next_attempt_at, created_at, dead_lettered_at)
			 VALUES (?, ?, 'notification.test', '{}', ?, ?, ?, 0, ?, ?, ?)`,
			row.id, row.org, row.id, row.id, row.status, row.nextAttempt, row.createdAt, row.deadLettered,
		).Error)
	}
}

func ptr(t time.Time) *time.Time { return &t }

func newReporter(t *testing.T, pendingCap int) (*Reporter, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{SLO: config.SLOConfig{PendingCap: pendingCap}}
	return NewReporter(Params{DB: db, Log: zap.NewNop(), Clock: clk, Config: cfg}), db, clk
}

func TestReportAggregatesBacklog(t *testing.T) {
	reporter, db, clk := newReporter(t, 100)
	now := clk.Now()

	insertRows(t, db,
		outboxRow{id: 1, org: 1, status: "PENDING", createdAt: now.Add(-10 * time.Minute)},
		outboxRow{id: 2, org: 1, status: "FAILED", createdAt: now.Add(-5 * time.Minute), nextAttempt: ptr(now.Add(7 * time.Second))},
		outboxRow{id: 3, org: 1, status: "SENT", createdAt: now.Add(-time.Hour)},
		outboxRow{id: 4, org: 1, status: "FAILED", createdAt: now.Add(-2 * time.Hour), deadLettered: ptr(now.Add(-time.Hour))},
		outboxRow{id: 5, org: 1, status: "FAILED", createdAt: now.Add(-72 * time.Hour), deadLettered: ptr(now.Add(-48 * time.Hour))},
		outboxRow{id: 6, org: 2, status: "PENDING", createdAt: now.Add(-30 * time.Minute)},
	)

	report, err := reporter.Report(context.Background(), snowflake.ID(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.PendingCount)
	assert.False(t, report.PendingCapped)
	require.NotNil(t, report.OldestPendingAt)
	assert.Equal(t, now.Add(-10*time.Minute), *report.OldestPendingAt)
	assert.InDelta(t, 600, report.OldestPendingAgeSec, 0.001)
	require.NotNil(t, report.NextAttemptAt)
	assert.Equal(t, now.Add(7*time.Second), *report.NextAttemptAt)
	assert.Equal(t, int64(1), report.DeadLetteredLast24h)

	all, err := reporter.Report(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.PendingCount)
	assert.InDelta(t, 1800, all.OldestPendingAgeSec, 0.001)
}

func TestReportCapsPendingCountAndDoesNotMutate(t *testing.T) {
	reporter, db, clk := newReporter(t, 2)
	now := clk.Now()
	insertRows(t, db,
		outboxRow{id: 1, org: 1, status: "PENDING", createdAt: now},
		outboxRow{id: 2, org: 1, status: "PENDING", createdAt: now},
		outboxRow{id: 3, org: 1, status: "SENDING", createdAt: now},
	)

	report, err := reporter.Report(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.PendingCount)
	assert.True(t, report.PendingCapped)
	assert.Equal(t, 2, report.PendingCap)

	assert.Equal(t, int64(1), dbtest.Count(t, db, "SELECT COUNT(1) FROM outbox_events WHERE status = 'SENDING'"))
	assert.Equal(t, int64(2), dbtest.Count(t, db, "SELECT COUNT(1) FROM outbox_events WHERE status = 'PENDING'"))
}

func TestReportEmptyOutbox(t *testing.T) {
	reporter, _, _ := newReporter(t, 0)
	report, err := reporter.Report(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.PendingCount)
	assert.Equal(t, defaultPendingCap, report.PendingCap)
	assert.Nil(t, report.OldestPendingAt)
	assert.Nil(t, report.NextAttemptAt)
}
