package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/outbox/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const eventColumns = `id, org_id, event_type, payload, dedupe_key, logical_key, correlation_id,
	status, retries, last_error, next_attempt_at, claim_token, claimed_at,
	created_at, sent_at, dead_lettered_at`

// Insert returns false when the org already has a row with the dedupe key.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByDedupeKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dedupeKey string) (*domain.Event, error) {
	return r.findOne(ctx, db, `org_id = ? AND dedupe_key = ?`, orgID, dedupeKey)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Event, error) {
	var event domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM outbox_events
		 WHERE `+where+`
		 LIMIT 1`,
		args...,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

// ListReady returns deliverable rows, earliest due first.
func (r *repo) ListReady(ctx context.Context, db *gorm.DB, now time.Time, maxRetries int, limit int) ([]domain.Event, error) {
	var events []domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM outbox_events
		 WHERE status IN (?, ?, ?)
		   AND retries < ?
		   AND dead_lettered_at IS NULL
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY COALESCE(next_attempt_at, created_at) ASC, created_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusPending,
		domain.StatusFailed,
		domain.StatusSending,
		maxRetries,
		now,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ExpireLeases fails rows whose SENDING lease ran out, counting the lost attempt.
func (r *repo) ExpireLeases(ctx context.Context, db *gorm.DB, now time.Time, maxRetries int) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?,
		     retries = retries + 1,
		     last_error = ?,
		     claim_token = NULL,
		     dead_lettered_at = CASE WHEN retries + 1 >= ? THEN ? ELSE NULL END
		 WHERE status = ?
		   AND next_attempt_at <= ?
		   AND dead_lettered_at IS NULL`,
		domain.StatusFailed,
		"lease expired",
		maxRetries,
		now,
		domain.StatusSending,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Claim moves one row to SENDING only if nobody else touched it since it was read.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, params domain.ClaimParams) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?,
		     claim_token = ?,
		     claimed_at = ?,
		     next_attempt_at = ?
		 WHERE id = ?
		   AND status IN (?, ?, ?)
		   AND retries < ?
		   AND dead_lettered_at IS NULL
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		   AND COALESCE(claim_token, '') = ?`,
		domain.StatusSending,
		params.Token,
		params.Now,
		params.LeaseUntil,
		params.ID,
		domain.StatusPending,
		domain.StatusFailed,
		domain.StatusSending,
		params.MaxRetries,
		params.Now,
		params.ObservedToken,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?,
		     sent_at = ?,
		     last_error = NULL,
		     claim_token = NULL,
		     next_attempt_at = NULL
		 WHERE id = ? AND status = ? AND claim_token = ?`,
		domain.StatusSent,
		now,
		id,
		domain.StatusSending,
		token,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, update domain.FailureUpdate) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?,
		     retries = ?,
		     last_error = ?,
		     next_attempt_at = ?,
		     dead_lettered_at = ?,
		     claim_token = NULL
		 WHERE id = ? AND status = ? AND claim_token = ?`,
		domain.StatusFailed,
		update.Retries,
		update.LastError,
		update.NextAttemptAt,
		update.DeadLetteredAt,
		update.ID,
		domain.StatusSending,
		update.Token,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Replay gives a dead-lettered row a fresh retry budget.
func (r *repo) Replay(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET status = ?,
		     retries = 0,
		     last_error = NULL,
		     next_attempt_at = NULL,
		     claim_token = NULL,
		     claimed_at = NULL,
		     dead_lettered_at = NULL
		 WHERE id = ? AND dead_lettered_at IS NOT NULL`,
		domain.StatusPending,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListDeadLetters(ctx context.Context, db *gorm.DB, orgID snowflake.ID, afterID snowflake.ID, limit int) ([]domain.Event, error) {
	var events []domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM outbox_events
		 WHERE org_id = ? AND dead_lettered_at IS NOT NULL AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		orgID,
		afterID,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
