package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	OutboxTypeScheduleChanged = "notification.schedule_changed"
	TemplateScheduleChanged   = "schedule_changed"
)

var (
	ErrInvalidMatch     = errors.New("invalid_match")
	ErrInvalidStartsAt  = errors.New("invalid_starts_at")
	ErrNoRecipients     = errors.New("no_recipients")
	ErrInvalidRecipient = errors.New("invalid_recipient")
)

type Recipient struct {
	ID    string
	Email string
	Name  string
}

// ScheduleChange identifies one logical change. Version must grow each time the
// same match is rescheduled so a real change is never mistaken for a retry.
type ScheduleChange struct {
	OrgID      snowflake.ID
	MatchID    string
	StartsAt   time.Time
	CourtID    string
	Version    int64
	Recipients []Recipient
}

type ScheduleChangeResult struct {
	EventLogID snowflake.ID `json:"event_log_id"`
	FactKey    string       `json:"fact_key"`
	Enqueued   int          `json:"enqueued"`
	Duplicates int          `json:"duplicates"`
}

type Service interface {
	NotifyScheduleChange(ctx context.Context, change ScheduleChange) (ScheduleChangeResult, error)
}
