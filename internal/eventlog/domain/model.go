package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventTypePaymentRegistered        = "payment.registered"
	EventTypePaymentStatusChanged     = "payment.status.changed"
	EventTypePaymentRefunded          = "payment.refunded"
	EventTypeEntitlementStatusChanged = "entitlement.status.changed"
	EventTypeEntitlementCheckedIn     = "entitlement.checked_in"
	EventTypeMatchScheduleChanged     = "match.schedule.changed"
	EventTypeOutboxReplayed           = "outbox.replayed"
)

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrNotFound         = errors.New("event_log_entry_not_found")
)

// Entry is an immutable business fact.
type Entry struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID   `json:"org_id" gorm:"not null;default:0"`
	EventType      string         `json:"event_type" gorm:"type:text;not null"`
	ActorUserID    *string        `json:"actor_user_id,omitempty" gorm:"type:text"`
	SourceType     *string        `json:"source_type,omitempty" gorm:"type:text"`
	SourceID       *string        `json:"source_id,omitempty" gorm:"type:text"`
	CorrelationID  *string        `json:"correlation_id,omitempty" gorm:"type:text"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty" gorm:"type:text"`
	Payload        datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "event_log" }

// Fact is the input to Append. An empty IdempotencyKey always records a new entry.
type Fact struct {
	OrgID          snowflake.ID
	EventType      string
	ActorUserID    string
	SourceType     string
	SourceID       string
	CorrelationID  string
	IdempotencyKey string
	Payload        any
}

// AppendResult reports whether Append created the entry or found an existing one.
type AppendResult struct {
	Entry    *Entry
	Inserted bool
}

type Service interface {
	// Append records fact inside tx, or in its own statement when tx is nil.
	Append(ctx context.Context, tx *gorm.DB, fact Fact) (AppendResult, error)
	Get(ctx context.Context, id snowflake.ID) (*Entry, error)
	ListBySource(ctx context.Context, orgID snowflake.ID, sourceType, sourceID string) ([]Entry, error)
}
