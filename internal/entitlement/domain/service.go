package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TransitionResult lists the rows a bulk transition actually moved.
type TransitionResult struct {
	From    Status
	To      Status
	Updated []snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, ent *Entitlement) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Entitlement, error)
	ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]Entitlement, error)
	TransitionByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, from, to Status, now time.Time) (int64, error)
	TransitionOne(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, now time.Time) (bool, error)
	ListExpirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Entitlement, error)
	ListCheckins(ctx context.Context, db *gorm.DB, entitlementID snowflake.ID) ([]Checkin, error)
	InsertCheckin(ctx context.Context, db *gorm.DB, checkin *Checkin) (bool, error)
}

// CheckinRequest is what a gate scanner submits.
type CheckinRequest struct {
	OrgID         snowflake.ID
	EntitlementID snowflake.ID
	ResourceType  string
	ResourceID    string
	GateID        string
}

type CheckinOutcome struct {
	Checkin *Checkin `json:"checkin"`
	Access  Access   `json:"access"`
}

type Service interface {
	Get(ctx context.Context, orgID, id snowflake.ID) (*Entitlement, error)
	Effective(ctx context.Context, orgID, id snowflake.ID) (*Entitlement, Access, error)
	ListByPayment(ctx context.Context, paymentID snowflake.ID) ([]Entitlement, error)
	RecordCheckin(ctx context.Context, req CheckinRequest) (CheckinOutcome, error)
	ExpireDue(ctx context.Context, limit int) (int, error)
}
