package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/tixgate/internal/ledger/domain"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusSucceeded   Status = "SUCCEEDED"
	StatusDisputed    Status = "DISPUTED"
	StatusChargedBack Status = "CHARGED_BACK"
	StatusRefunded    Status = "REFUNDED"
	StatusFailed      Status = "FAILED"
)

// Normalized gateway event types. Only these are fulfilled.
const (
	EventTypeCaptured       = "payment.captured"
	EventTypeDisputeCreated = "dispute.created"
	EventTypeDisputeWon     = "dispute.won"
	EventTypeDisputeLost    = "dispute.lost"
)

// Fulfillment outcome reasons.
const (
	ReasonApplied           = "APPLIED"
	ReasonEventNotSupported = "EVENT_NOT_SUPPORTED"
	ReasonPaymentIDMissing  = "PAYMENT_ID_MISSING"
	ReasonPaymentNotFound   = "PAYMENT_NOT_FOUND"
	ReasonAlreadyApplied    = "ALREADY_APPLIED"
	ReasonStaleTransition   = "STALE_TRANSITION"
)

var (
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("payment_provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrSignatureExpired = errors.New("signature_expired")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidItems     = errors.New("invalid_payment_items")
	ErrInvalidReference = errors.New("invalid_payment_reference")
	ErrNotFound         = errors.New("payment_not_found")
	ErrDuplicate        = errors.New("payment_reference_exists")
	ErrInvalidState     = errors.New("invalid_payment_state")
)

type Payment struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID              snowflake.ID `json:"org_id"`
	Reference          string       `json:"reference"`
	Provider           string       `json:"provider"`
	ProviderPaymentID  *string      `json:"provider_payment_id,omitempty"`
	OwnerIdentityID    *string      `json:"owner_identity_id,omitempty"`
	OwnerEmail         *string      `json:"owner_email,omitempty"`
	Currency           string       `json:"currency"`
	SubtotalAmount     int64        `json:"subtotal_amount"`
	DiscountAmount     int64        `json:"discount_amount"`
	PlatformFeeAmount  int64        `json:"platform_fee_amount"`
	ProcessorFeeAmount int64        `json:"processor_fee_amount"`
	TotalAmount        int64        `json:"total_amount"`
	Status             Status       `json:"status"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

type Item struct {
	ID              snowflake.ID           `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID           `json:"org_id"`
	PaymentID       snowflake.ID           `json:"payment_id"`
	EntitlementType entitlementdomain.Type `json:"entitlement_type"`
	ResourceType    string                 `json:"resource_type"`
	ResourceID      string                 `json:"resource_id"`
	Quantity        int                    `json:"quantity"`
	UnitAmount      int64                  `json:"unit_amount"`
	ValidUntil      *time.Time             `json:"valid_until,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

func (Item) TableName() string { return "payment_items" }

// GatewayEvent is the provider-neutral form of an inbound webhook.
type GatewayEvent struct {
	Provider   string
	ID         string
	Type       string
	RawType    string
	ObjectID   string
	PaymentRef string
	Amount     int64
	OccurredAt time.Time
}

type FulfillResult struct {
	Handled             bool         `json:"handled"`
	Updated             bool         `json:"updated"`
	Reason              string       `json:"reason"`
	PaymentID           string       `json:"payment_id,omitempty"`
	PreviousStatus      Status       `json:"previous_status,omitempty"`
	Status              Status       `json:"status,omitempty"`
	EntitlementsUpdated int64        `json:"entitlements_updated"`
	EventLogID          snowflake.ID `json:"event_log_id,omitempty"`
}

type ItemRequest struct {
	EntitlementType entitlementdomain.Type
	ResourceType    string
	ResourceID      string
	Quantity        int
	UnitAmount      int64
	ValidUntil      *time.Time
}

type RegisterRequest struct {
	OrgID             snowflake.ID
	Reference         string
	Provider          string
	ProviderPaymentID string
	OwnerIdentityID   string
	OwnerEmail        string
	Currency          string
	DiscountBps       int64
	Items             []ItemRequest
	IssuePending      bool
}

type RefundRequest struct {
	OrgID         snowflake.ID
	PaymentRef    string
	SourceEventID string
	Amount        int64
	FeeAmount     int64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	InsertItem(ctx context.Context, db *gorm.DB, item *Item) error
	FindByReference(ctx context.Context, db *gorm.DB, reference string, forUpdate bool) (*Payment, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	ListItems(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]Item, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, now time.Time) (bool, error)
}

type Service interface {
	Fulfill(ctx context.Context, event GatewayEvent) (FulfillResult, error)
	RegisterPayment(ctx context.Context, req RegisterRequest) (*Payment, []Item, error)
	RecordRefund(ctx context.Context, req RefundRequest) (int, error)
	Get(ctx context.Context, orgID snowflake.ID, reference string) (*Payment, error)
	Ledger(ctx context.Context, orgID snowflake.ID, reference string) ([]ledgerdomain.Entry, string, error)
}

// AdapterConfig carries what a provider adapter needs to verify deliveries. KeyID
// picks one signature when a provider signs a delivery with several keys.
type AdapterConfig struct {
	SigningSecret   string
	KeyID           string
	SignatureMaxAge time.Duration
	Now             func() time.Time
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// PaymentAdapter verifies and parses one provider's webhook format.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*GatewayEvent, error)
}

// WebhookService authenticates a raw gateway delivery and fulfills it.
type WebhookService interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (FulfillResult, error)
}
