package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSending Status = "SENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// MaxLastErrorLength bounds the stored failure message.
const MaxLastErrorLength = 1024

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidDedupeKey = errors.New("invalid_dedupe_key")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrNotFound         = errors.New("outbox_event_not_found")
	ErrClaimLost        = errors.New("outbox_claim_lost")
	ErrNotDeadLettered  = errors.New("outbox_event_not_dead_lettered")
)

// Event is one unit of deferred work.
type Event struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID   `json:"org_id"`
	EventType      string         `json:"event_type"`
	Payload        datatypes.JSON `json:"payload"`
	DedupeKey      string         `json:"dedupe_key"`
	LogicalKey     string         `json:"logical_key"`
	CorrelationID  *string        `json:"correlation_id,omitempty"`
	Status         Status         `json:"status"`
	Retries        int            `json:"retries"`
	LastError      *string        `json:"last_error,omitempty"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty"`
	ClaimToken     *string        `json:"-"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	DeadLetteredAt *time.Time     `json:"dead_lettered_at,omitempty"`
}

func (Event) TableName() string { return "outbox_events" }

// IsDeadLettered reports whether the row exhausted its retry budget.
func (e Event) IsDeadLettered() bool {
	return e.DeadLetteredAt != nil
}

// Token returns the current claim token or "".
func (e Event) Token() string {
	if e.ClaimToken == nil {
		return ""
	}
	return *e.ClaimToken
}

// RecordRequest enqueues deferred work. Force inserts a new row even when the
// dedupe key already has one.
type RecordRequest struct {
	OrgID         snowflake.ID
	EventType     string
	Payload       any
	DedupeKey     string
	CorrelationID string
	Force         bool
}

type RecordResult struct {
	Event    *Event
	Inserted bool
}

// ClaimParams describes a compare-and-set claim of one candidate row.
type ClaimParams struct {
	ID            snowflake.ID
	ObservedToken string
	Token         string
	Now           time.Time
	LeaseUntil    time.Time
	MaxRetries    int
}

// FailureUpdate is written when a claimed row fails delivery.
type FailureUpdate struct {
	ID             snowflake.ID
	Token          string
	Retries        int
	LastError      string
	NextAttemptAt  time.Time
	DeadLetteredAt *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	FindByDedupeKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dedupeKey string) (*Event, error)
	ListReady(ctx context.Context, db *gorm.DB, now time.Time, maxRetries int, limit int) ([]Event, error)
	ExpireLeases(ctx context.Context, db *gorm.DB, now time.Time, maxRetries int) (int64, error)
	Claim(ctx context.Context, db *gorm.DB, params ClaimParams) (bool, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, update FailureUpdate) (bool, error)
	Replay(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	ListDeadLetters(ctx context.Context, db *gorm.DB, orgID snowflake.ID, afterID snowflake.ID, limit int) ([]Event, error)
}

type Service interface {
	// Record enqueues inside tx so the obligation commits with the business mutation.
	Record(ctx context.Context, tx *gorm.DB, req RecordRequest) (RecordResult, error)
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	MarkSent(ctx context.Context, event Event) error
	MarkFailed(ctx context.Context, event Event, cause error) (*Event, error)
	Replay(ctx context.Context, id snowflake.ID, actor string) (bool, error)
	Get(ctx context.Context, id snowflake.ID) (*Event, error)
	ListDeadLetters(ctx context.Context, orgID snowflake.ID, page pagination.Pagination) ([]Event, pagination.PageInfo, error)
}
