package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/clock"
	ledgerdomain "github.com/smallbiznis/tixgate/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entries []ledgerdomain.Entry) (int, error) {
	if tx == nil {
		tx = s.db
	}

	normalized := make([]ledgerdomain.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.PaymentID == 0 {
			return 0, ledgerdomain.ErrInvalidPayment
		}
		if !entry.EntryType.Valid() {
			return 0, ledgerdomain.ErrInvalidEntryType
		}
		if entry.Amount < 0 {
			return 0, ledgerdomain.ErrInvalidAmount
		}
		entry.Currency = strings.ToUpper(strings.TrimSpace(entry.Currency))
		if entry.Currency == "" {
			return 0, ledgerdomain.ErrInvalidCurrency
		}
		entry.SourceEventID = strings.TrimSpace(entry.SourceEventID)
		if entry.SourceEventID == "" {
			return 0, ledgerdomain.ErrInvalidSource
		}
		normalized = append(normalized, entry)
	}

	now := s.clock.Now().UTC()
	inserted := 0
	for _, entry := range normalized {
		if entry.Amount == 0 {
			continue
		}
		entry.ID = s.genID.Generate()
		entry.CreatedAt = now
		result := tx.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&entry)
		if result.Error != nil {
			return inserted, result.Error
		}
		if result.RowsAffected == 0 {
			s.log.Debug("ledger entry already recorded",
				zap.String("payment_id", entry.PaymentID.String()),
				zap.String("entry_type", string(entry.EntryType)),
				zap.String("source_event_id", entry.SourceEventID),
			)
			continue
		}
		inserted++
	}
	return inserted, nil
}

func (s *Service) ListByPayment(ctx context.Context, paymentID snowflake.ID) ([]ledgerdomain.Entry, error) {
	var entries []ledgerdomain.Entry
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, payment_id, entry_type, amount, currency, source_event_id, created_at
		 FROM ledger_entries
		 WHERE payment_id = ?
		 ORDER BY created_at ASC, id ASC`,
		paymentID,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
