// Package testing holds helpers that move entitlement validity windows so
// scheduler jobs can be exercised without waiting for real time to pass.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
	"gorm.io/gorm"
)

type TimeAccelerator struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTimeAccelerator(db *gorm.DB, now func() time.Time) *TimeAccelerator {
	if now == nil {
		now = time.Now
	}
	return &TimeAccelerator{db: db, now: now}
}

// LapseEntitlement moves valid_until one minute into the past.
func (ta *TimeAccelerator) LapseEntitlement(ctx context.Context, id snowflake.ID) error {
	now := ta.now().UTC()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE entitlements
		 SET valid_until = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		now.Add(-1*time.Minute),
		now,
		id,
		entitlementdomain.StatusActive,
	).Error
}

// LapseAllActive lapses every ACTIVE entitlement that is still valid.
func (ta *TimeAccelerator) LapseAllActive(ctx context.Context) (int64, error) {
	now := ta.now().UTC()
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE entitlements
		 SET valid_until = ?, updated_at = ?
		 WHERE status = ? AND (valid_until IS NULL OR valid_until > ?)`,
		now.Add(-1*time.Minute),
		now,
		entitlementdomain.StatusActive,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
