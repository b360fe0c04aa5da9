// Package slo reports outbox backlog health. Everything here only reads the
// outbox; no query takes a lock or changes a row.
package slo

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPendingCap = 1000
	deadLetterWindow  = 24 * time.Hour
)

// Report is a point-in-time view of one organization's outbox, or of every
// organization when OrgID is zero.
type Report struct {
	OrgID               snowflake.ID `json:"org_id,omitempty"`
	PendingCount        int64        `json:"pending_count"`
	PendingCap          int          `json:"pending_cap"`
	PendingCapped       bool         `json:"pending_capped"`
	OldestPendingAt     *time.Time   `json:"oldest_pending_at,omitempty"`
	OldestPendingAgeSec float64      `json:"oldest_pending_age_seconds"`
	NextAttemptAt       *time.Time   `json:"next_attempt_at,omitempty"`
	DeadLetteredLast24h int64        `json:"dead_lettered_last_24h"`
	GeneratedAt         time.Time    `json:"generated_at"`
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
}

type Reporter struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	pendingCap int
}

func NewReporter(p Params) *Reporter {
	pendingCap := p.Config.SLO.PendingCap
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	return &Reporter{
		db:         p.DB,
		log:        p.Log.Named("slo.reporter"),
		clock:      p.Clock,
		pendingCap: pendingCap,
	}
}

// backlogFilter matches rows that still owe a delivery.
const backlogFilter = `status IN ('PENDING', 'FAILED', 'SENDING') AND dead_lettered_at IS NULL`

func (r *Reporter) Report(ctx context.Context, orgID snowflake.ID) (Report, error) {
	now := r.clock.Now().UTC()
	report := Report{OrgID: orgID, PendingCap: r.pendingCap, GeneratedAt: now}
	scope, args := orgScope(orgID)
	db := r.db.WithContext(ctx)

	// Counting stops one past the cap so a huge backlog costs no more than a full one.
	var pending int64
	err := db.Raw(
		`SELECT COUNT(1) FROM (
			SELECT 1 FROM outbox_events
			WHERE `+backlogFilter+scope+`
			LIMIT ?
		) backlog`,
		append(args, r.pendingCap+1)...,
	).Scan(&pending).Error
	if err != nil {
		return Report{}, err
	}
	if pending > int64(r.pendingCap) {
		report.PendingCapped = true
		pending = int64(r.pendingCap)
	}
	report.PendingCount = pending

	var oldest struct {
		CreatedAt time.Time
	}
	err = db.Raw(
		`SELECT created_at FROM outbox_events
		 WHERE `+backlogFilter+scope+`
		 ORDER BY created_at ASC
		 LIMIT 1`,
		args...,
	).Scan(&oldest).Error
	if err != nil {
		return Report{}, err
	}
	if !oldest.CreatedAt.IsZero() {
		at := oldest.CreatedAt.UTC()
		report.OldestPendingAt = &at
		if age := now.Sub(at); age > 0 {
			report.OldestPendingAgeSec = age.Seconds()
		}
	}

	var next struct {
		NextAttemptAt *time.Time
	}
	err = db.Raw(
		`SELECT next_attempt_at FROM outbox_events
		 WHERE `+backlogFilter+` AND next_attempt_at IS NOT NULL`+scope+`
		 ORDER BY next_attempt_at ASC
		 LIMIT 1`,
		args...,
	).Scan(&next).Error
	if err != nil {
		return Report{}, err
	}
	if next.NextAttemptAt != nil {
		at := next.NextAttemptAt.UTC()
		report.NextAttemptAt = &at
	}

	err = db.Raw(
		`SELECT COUNT(1) FROM outbox_events
		 WHERE dead_lettered_at IS NOT NULL AND dead_lettered_at >= ?`+scope,
		append([]any{now.Add(-deadLetterWindow)}, args...)...,
	).Scan(&report.DeadLetteredLast24h).Error
	if err != nil {
		return Report{}, err
	}

	return report, nil
}

func orgScope(orgID snowflake.ID) (string, []any) {
	if orgID == 0 {
		return "", []any{}
	}
	return " AND org_id = ?", []any{orgID}
}
