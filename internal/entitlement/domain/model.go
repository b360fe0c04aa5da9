package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusRevoked   Status = "REVOKED"
	StatusExpired   Status = "EXPIRED"
)

// EffectiveStatus is what gates see. It is never stored.
type EffectiveStatus string

const (
	EffectivePending   EffectiveStatus = "PENDING"
	EffectiveActive    EffectiveStatus = "ACTIVE"
	EffectiveConsumed  EffectiveStatus = "CONSUMED"
	EffectiveSuspended EffectiveStatus = "SUSPENDED"
	EffectiveRevoked   EffectiveStatus = "REVOKED"
	EffectiveExpired   EffectiveStatus = "EXPIRED"
)

type Type string

const (
	TypeTicket    Type = "TICKET"
	TypeBooking   Type = "BOOKING"
	TypeEventPass Type = "EVENT_PASS"
)

type CheckinResult string

const (
	CheckinOK          CheckinResult = "OK"
	CheckinAlreadyUsed CheckinResult = "ALREADY_USED"
	CheckinInvalid     CheckinResult = "INVALID"
	CheckinBlocked     CheckinResult = "BLOCKED"
	CheckinWrongEvent  CheckinResult = "WRONG_EVENT"
)

var (
	ErrNotFound          = errors.New("entitlement_not_found")
	ErrInvalidTransition = errors.New("invalid_entitlement_transition")
	ErrInvalidStatus     = errors.New("invalid_entitlement_status")
	ErrInvalidResource   = errors.New("invalid_entitlement_resource")
)

type Entitlement struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID `json:"org_id"`
	Type            Type         `json:"type"`
	OwnerIdentityID *string      `json:"owner_identity_id,omitempty"`
	PaymentID       snowflake.ID `json:"payment_id"`
	PaymentItemID   snowflake.ID `json:"payment_item_id"`
	Seq             int          `json:"seq"`
	ResourceType    string       `json:"resource_type"`
	ResourceID      string       `json:"resource_id"`
	Status          Status       `json:"status"`
	ValidUntil      *time.Time   `json:"valid_until,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (Entitlement) TableName() string { return "entitlements" }

type Checkin struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID         snowflake.ID  `json:"org_id"`
	EntitlementID snowflake.ID  `json:"entitlement_id"`
	ResultCode    CheckinResult `json:"result_code"`
	GateID        *string       `json:"gate_id,omitempty"`
	ScannedAt     time.Time     `json:"scanned_at"`
}

func (Checkin) TableName() string { return "checkins" }
