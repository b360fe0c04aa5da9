package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const entitlementColumns = `id, org_id, type, owner_identity_id, payment_id, payment_item_id, seq,
	resource_type, resource_id, status, valid_until, created_at, updated_at`

// Insert is idempotent on (payment_id, payment_item_id, seq).
func (r *repo) Insert(ctx context.Context, db *gorm.DB, ent *domain.Entitlement) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ent)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Entitlement, error) {
	var ent domain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT `+entitlementColumns+`
		 FROM entitlements
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		id,
	).Scan(&ent).Error
	if err != nil {
		return nil, err
	}
	if ent.ID == 0 {
		return nil, nil
	}
	return &ent, nil
}

func (r *repo) ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.Entitlement, error) {
	var items []domain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT `+entitlementColumns+`
		 FROM entitlements
		 WHERE payment_id = ?
		 ORDER BY payment_item_id ASC, seq ASC`,
		paymentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// TransitionByPayment moves every linked entitlement currently in from. Rows in any
// other status are left alone.
func (r *repo) TransitionByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, from, to domain.Status, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE entitlements
		 SET status = ?, updated_at = ?
		 WHERE payment_id = ? AND status = ?`,
		to,
		now,
		paymentID,
		from,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) TransitionOne(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE entitlements
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListExpirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Entitlement, error) {
	var items []domain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT `+entitlementColumns+`
		 FROM entitlements
		 WHERE status = ? AND valid_until IS NOT NULL AND valid_until <= ?
		 ORDER BY valid_until ASC, id ASC
		 LIMIT ?`,
		domain.StatusActive,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCheckins(ctx context.Context, db *gorm.DB, entitlementID snowflake.ID) ([]domain.Checkin, error) {
	var items []domain.Checkin
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, entitlement_id, result_code, gate_id, scanned_at
		 FROM checkins
		 WHERE entitlement_id = ?
		 ORDER BY scanned_at ASC, id ASC`,
		entitlementID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// InsertCheckin returns false when an OK check-in already exists for the entitlement.
func (r *repo) InsertCheckin(ctx context.Context, db *gorm.DB, checkin *domain.Checkin) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(checkin)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
