package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/payment/domain"
	"github.com/smallbiznis/tixgate/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, org_id, reference, provider, provider_payment_id, owner_identity_id, owner_email,
	currency, subtotal_amount, discount_amount, platform_fee_amount, processor_fee_amount,
	total_amount, status, created_at, updated_at`

const itemColumns = `id, org_id, payment_id, entitlement_type, resource_type, resource_id,
	quantity, unit_amount, valid_until, created_at`

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, payment *domain.Payment) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrgID,
		payment.Reference,
		payment.Provider,
		payment.ProviderPaymentID,
		payment.OwnerIdentityID,
		payment.OwnerEmail,
		payment.Currency,
		payment.SubtotalAmount,
		payment.DiscountAmount,
		payment.PlatformFeeAmount,
		payment.ProcessorFeeAmount,
		payment.TotalAmount,
		payment.Status,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) InsertItem(ctx context.Context, conn *gorm.DB, item *domain.Item) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payment_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.OrgID,
		item.PaymentID,
		item.EntitlementType,
		item.ResourceType,
		item.ResourceID,
		item.Quantity,
		item.UnitAmount,
		item.ValidUntil,
		item.CreatedAt,
	).Error
}

// FindByReference locks the row when forUpdate is set on databases that support it.
func (r *repo) FindByReference(ctx context.Context, conn *gorm.DB, reference string, forUpdate bool) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		 FROM payments
		 WHERE reference = ?
		 LIMIT 1`
	if forUpdate && !db.IsSQLite(conn) {
		query += ` FOR UPDATE`
	}

	var payment domain.Payment
	if err := conn.WithContext(ctx).Raw(query, reference).Scan(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ListItems(ctx context.Context, conn *gorm.DB, paymentID snowflake.ID) ([]domain.Item, error) {
	var items []domain.Item
	err := conn.WithContext(ctx).Raw(
		`SELECT `+itemColumns+`
		 FROM payment_items
		 WHERE payment_id = ?
		 ORDER BY id ASC`,
		paymentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateStatus moves the payment only while it is still in from.
func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to domain.Status, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
