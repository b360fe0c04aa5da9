package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/tixgate/internal/dedupe"
	eventlogdomain "github.com/smallbiznis/tixgate/internal/eventlog/domain"
	"github.com/smallbiznis/tixgate/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/tixgate/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/tixgate/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	EventLog   eventlogdomain.Service
	Outbox     outboxdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	eventLog   eventlogdomain.Service
	outbox     outboxdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("notification.service"),
		eventLog:   p.EventLog,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

type emailPayload struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data"`
}

// NotifyScheduleChange records the change once and enqueues one email per recipient.
// Calling it again with the same logical change enqueues nothing new.
func (s *Service) NotifyScheduleChange(ctx context.Context, change domain.ScheduleChange) (domain.ScheduleChangeResult, error) {
	matchID := strings.TrimSpace(change.MatchID)
	if matchID == "" {
		return domain.ScheduleChangeResult{}, domain.ErrInvalidMatch
	}
	if change.StartsAt.IsZero() {
		return domain.ScheduleChangeResult{}, domain.ErrInvalidStartsAt
	}
	recipients, err := normalizeRecipients(change.Recipients)
	if err != nil {
		return domain.ScheduleChangeResult{}, err
	}

	courtID := strings.TrimSpace(change.CourtID)
	startsAt := dedupe.Timestamp(change.StartsAt)
	factKey := dedupe.ScheduleChangeFact(change.OrgID.Int64(), matchID, change.StartsAt, courtID, change.Version)
	result := domain.ScheduleChangeResult{FactKey: factKey}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		appended, err := s.eventLog.Append(ctx, tx, eventlogdomain.Fact{
			OrgID:          change.OrgID,
			EventType:      eventlogdomain.EventTypeMatchScheduleChanged,
			SourceType:     "match",
			SourceID:       matchID,
			IdempotencyKey: factKey,
			Payload: map[string]any{
				"match_id":   matchID,
				"starts_at":  startsAt,
				"court_id":   courtID,
				"version":    change.Version,
				"recipients": len(recipients),
			},
		})
		if err != nil {
			return err
		}
		result.EventLogID = appended.Entry.ID

		for _, recipient := range recipients {
			res, err := s.outbox.Record(ctx, tx, outboxdomain.RecordRequest{
				OrgID:     change.OrgID,
				EventType: domain.OutboxTypeScheduleChanged,
				DedupeKey: dedupe.ScheduleChange(change.OrgID.Int64(), matchID, change.StartsAt, courtID, change.Version, recipient.ID),
				Payload: emailPayload{
					Template:  domain.TemplateScheduleChanged,
					Recipient: recipient.Email,
					Data: map[string]any{
						"match_id":       matchID,
						"starts_at":      startsAt,
						"court_id":       courtID,
						"version":        change.Version,
						"recipient_name": recipient.Name,
					},
				},
			})
			if err != nil {
				return err
			}
			if res.Inserted {
				result.Enqueued++
			} else {
				result.Duplicates++
			}
		}
		return nil
	})
	if err != nil {
		return domain.ScheduleChangeResult{}, err
	}

	s.obsMetrics.RecordNotification(ctx, domain.OutboxTypeScheduleChanged, result.Enqueued)
	s.log.Info("schedule change notified",
		zap.String("match_id", matchID),
		zap.Int64("version", change.Version),
		zap.Int("enqueued", result.Enqueued),
		zap.Int("duplicates", result.Duplicates),
	)
	return result, nil
}

// normalizeRecipients drops repeats of the same recipient so one person never
// gets two rows for one change.
func normalizeRecipients(in []domain.Recipient) ([]domain.Recipient, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Recipient, 0, len(in))
	for _, r := range in {
		r.Email = strings.TrimSpace(r.Email)
		r.ID = strings.TrimSpace(r.ID)
		r.Name = strings.TrimSpace(r.Name)
		if r.Email == "" {
			return nil, domain.ErrInvalidRecipient
		}
		if r.ID == "" {
			r.ID = strings.ToLower(r.Email)
		}
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, domain.ErrNoRecipients
	}
	return out, nil
}
