package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/dedupe"
	"github.com/smallbiznis/tixgate/internal/entitlement/domain"
	eventlogdomain "github.com/smallbiznis/tixgate/internal/eventlog/domain"
	outboxdomain "github.com/smallbiznis/tixgate/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	EventLog eventlogdomain.Service
	Outbox   outboxdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	eventLog eventlogdomain.Service
	outbox   outboxdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("entitlement.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		eventLog: p.EventLog,
		outbox:   p.Outbox,
	}
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (*domain.Entitlement, error) {
	ent, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, domain.ErrNotFound
	}
	return ent, nil
}

func (s *Service) Effective(ctx context.Context, orgID, id snowflake.ID) (*domain.Entitlement, domain.Access, error) {
	ent, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, domain.Access{}, err
	}
	checkins, err := s.repo.ListCheckins(ctx, s.db, ent.ID)
	if err != nil {
		return nil, domain.Access{}, err
	}
	return ent, domain.Evaluate(ent.Status, checkins), nil
}

func (s *Service) ListByPayment(ctx context.Context, paymentID snowflake.ID) ([]domain.Entitlement, error) {
	return s.repo.ListByPayment(ctx, s.db, paymentID)
}

// RecordCheckin stores the scan outcome. Every scan is kept, including rejected ones;
// only one OK scan can exist per entitlement, so a concurrent second OK becomes ALREADY_USED.
func (s *Service) RecordCheckin(ctx context.Context, req domain.CheckinRequest) (domain.CheckinOutcome, error) {
	var outcome domain.CheckinOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ent, err := s.repo.FindByID(ctx, tx, req.OrgID, req.EntitlementID)
		if err != nil {
			return err
		}
		if ent == nil {
			return domain.ErrNotFound
		}
		checkins, err := s.repo.ListCheckins(ctx, tx, ent.ID)
		if err != nil {
			return err
		}

		access := domain.Evaluate(ent.Status, checkins)
		result := access.GateResult()
		if !matchesResource(ent, req) {
			result = domain.CheckinWrongEvent
		}

		checkin := &domain.Checkin{
			ID:            s.genID.Generate(),
			OrgID:         ent.OrgID,
			EntitlementID: ent.ID,
			ResultCode:    result,
			ScannedAt:     s.clock.Now().UTC(),
		}
		if gate := strings.TrimSpace(req.GateID); gate != "" {
			checkin.GateID = &gate
		}

		inserted, err := s.repo.InsertCheckin(ctx, tx, checkin)
		if err != nil {
			return err
		}
		if !inserted && result == domain.CheckinOK {
			checkin.ID = s.genID.Generate()
			checkin.ResultCode = domain.CheckinAlreadyUsed
			if _, err := s.repo.InsertCheckin(ctx, tx, checkin); err != nil {
				return err
			}
		}

		if _, err := s.eventLog.Append(ctx, tx, eventlogdomain.Fact{
			OrgID:      ent.OrgID,
			EventType:  eventlogdomain.EventTypeEntitlementCheckedIn,
			SourceType: "entitlement",
			SourceID:   ent.ID.String(),
			Payload: map[string]any{
				"checkin_id":  checkin.ID.String(),
				"result_code": checkin.ResultCode,
				"gate_id":     strings.TrimSpace(req.GateID),
			},
		}); err != nil {
			return err
		}

		checkins = append(checkins, *checkin)
		outcome = domain.CheckinOutcome{
			Checkin: checkin,
			Access:  domain.Evaluate(ent.Status, checkins),
		}
		return nil
	})
	if err != nil {
		return domain.CheckinOutcome{}, err
	}

	s.log.Info("checkin recorded",
		zap.String("entitlement_id", req.EntitlementID.String()),
		zap.String("result_code", string(outcome.Checkin.ResultCode)),
	)
	return outcome, nil
}

func matchesResource(ent *domain.Entitlement, req domain.CheckinRequest) bool {
	resourceID := strings.TrimSpace(req.ResourceID)
	if resourceID == "" {
		return true
	}
	if resourceType := strings.TrimSpace(req.ResourceType); resourceType != "" &&
		!strings.EqualFold(resourceType, ent.ResourceType) {
		return false
	}
	return resourceID == ent.ResourceID
}

// ExpireDue moves ACTIVE entitlements past valid_until to EXPIRED, one
// transaction per entitlement, and returns how many it moved. Expiry is driven
// by the clock rather than a payment fact, so it is the one entitlement write
// made outside payment fulfillment. It uses the same CAS, fact and outbox row
// in one transaction.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.clock.Now().UTC()
	due, err := s.repo.ListExpirable(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, ent := range due {
		moved, err := s.expire(ctx, ent, now)
		if err != nil {
			return expired, err
		}
		if moved {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info("entitlements expired", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *Service) expire(ctx context.Context, ent domain.Entitlement, now time.Time) (bool, error) {
	var moved bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.TransitionOne(ctx, tx, ent.ID, domain.StatusActive, domain.StatusExpired, now)
		if err != nil || !ok {
			return err
		}

		key := dedupe.EntitlementStatus(ent.OrgID.Int64(), ent.ID.String(), string(domain.StatusExpired))
		payload := map[string]any{
			"entitlement_id": ent.ID.String(),
			"payment_id":     ent.PaymentID.String(),
			"resource_type":  ent.ResourceType,
			"resource_id":    ent.ResourceID,
			"from":           domain.StatusActive,
			"status":         domain.StatusExpired,
		}
		if _, err := s.eventLog.Append(ctx, tx, eventlogdomain.Fact{
			OrgID:          ent.OrgID,
			EventType:      eventlogdomain.EventTypeEntitlementStatusChanged,
			SourceType:     "entitlement",
			SourceID:       ent.ID.String(),
			IdempotencyKey: key,
			Payload:        payload,
		}); err != nil {
			return err
		}
		if _, err := s.outbox.Record(ctx, tx, outboxdomain.RecordRequest{
			OrgID:     ent.OrgID,
			EventType: eventlogdomain.EventTypeEntitlementStatusChanged,
			Payload:   payload,
			DedupeKey: key,
		}); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}
