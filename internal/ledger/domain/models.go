package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// EntryType names one financial movement on a payment. Amounts are integer cents,
// always positive; the type carries the sign.
type EntryType string

const (
	EntryPaymentGross    EntryType = "PAYMENT_GROSS"
	EntryPlatformFee     EntryType = "PLATFORM_FEE"
	EntryProcessorFee    EntryType = "PROCESSOR_FEE"
	EntryRefundGross     EntryType = "REFUND_GROSS"
	EntryRefundFee       EntryType = "REFUND_FEE"
	EntryDisputeOpened   EntryType = "DISPUTE_OPENED"
	EntryDisputeWon      EntryType = "DISPUTE_WON"
	EntryChargebackDebit EntryType = "CHARGEBACK_DEBIT"
	EntryDisputeFee      EntryType = "DISPUTE_FEE"
)

// Derived statuses in addition to the payment's own status.
const (
	DerivedChargedBack       = "CHARGED_BACK"
	DerivedDisputed          = "DISPUTED"
	DerivedRefunded          = "REFUNDED"
	DerivedPartiallyRefunded = "PARTIALLY_REFUNDED"
)

var (
	ErrInvalidEntryType = errors.New("invalid_ledger_entry_type")
	ErrInvalidAmount    = errors.New("invalid_ledger_amount")
	ErrInvalidCurrency  = errors.New("invalid_ledger_currency")
	ErrInvalidSource    = errors.New("invalid_ledger_source")
	ErrInvalidPayment   = errors.New("invalid_ledger_payment")
)

// Entry is one immutable ledger posting.
type Entry struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID         snowflake.ID `json:"org_id"`
	PaymentID     snowflake.ID `json:"payment_id"`
	EntryType     EntryType    `json:"entry_type"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	SourceEventID string       `json:"source_event_id"`
	CreatedAt     time.Time    `json:"created_at"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "ledger_entries" }

func (t EntryType) Valid() bool {
	switch t {
	case EntryPaymentGross, EntryPlatformFee, EntryProcessorFee,
		EntryRefundGross, EntryRefundFee,
		EntryDisputeOpened, EntryDisputeWon, EntryChargebackDebit, EntryDisputeFee:
		return true
	}
	return false
}

// DerivedStatus reads the checkout status off the ledger with precedence
// dispute > refund > payment status. The result is never stored.
func DerivedStatus(entries []Entry, paymentStatus string) string {
	var (
		opened, won     int
		chargedBack     bool
		gross, refunded int64
	)
	for _, e := range entries {
		switch e.EntryType {
		case EntryChargebackDebit:
			chargedBack = true
		case EntryDisputeOpened:
			opened++
		case EntryDisputeWon:
			won++
		case EntryPaymentGross:
			gross += e.Amount
		case EntryRefundGross:
			refunded += e.Amount
		}
	}

	switch {
	case chargedBack:
		return DerivedChargedBack
	case opened > won:
		return DerivedDisputed
	case refunded > 0 && refunded >= gross:
		return DerivedRefunded
	case refunded > 0:
		return DerivedPartiallyRefunded
	default:
		return paymentStatus
	}
}

// Balance is gross minus every reversal and fee charged back to the organizer.
func Balance(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		switch e.EntryType {
		case EntryPaymentGross:
			total += e.Amount
		case EntryPlatformFee, EntryProcessorFee, EntryRefundGross, EntryRefundFee,
			EntryChargebackDebit, EntryDisputeFee:
			total -= e.Amount
		}
	}
	return total
}

type Service interface {
	// Record writes entries inside tx. Entries already present for the same
	// (payment, type, source event) are skipped; the count of new rows is returned.
	Record(ctx context.Context, tx *gorm.DB, entries []Entry) (int, error)
	ListByPayment(ctx context.Context, paymentID snowflake.ID) ([]Entry, error)
}
