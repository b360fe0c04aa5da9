package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/config"
	"github.com/smallbiznis/tixgate/internal/dedupe"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
	eventlogdomain "github.com/smallbiznis/tixgate/internal/eventlog/domain"
	ledgerdomain "github.com/smallbiznis/tixgate/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/tixgate/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/tixgate/internal/outbox/domain"
	"github.com/smallbiznis/tixgate/internal/payment/domain"
	"github.com/smallbiznis/tixgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	OutboxTypeStatusChanged = "payment.status.changed"
	OutboxTypeRefunded      = "payment.refunded"
	OutboxTypeNotification  = "notification.payment_status_changed"

	notificationTemplate = "payment_status_changed"
	sourceTypePayment    = "payment"
)

// errTransitionLost rolls back a fulfillment whose status CAS lost to a concurrent writer.
var errTransitionLost = errors.New("payment_transition_lost")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       config.Config
	Repo         domain.Repository
	Entitlements entitlementdomain.Repository
	Ledger       ledgerdomain.Service
	EventLog     eventlogdomain.Service
	Outbox       outboxdomain.Service
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	fees         config.PaymentConfig
	repo         domain.Repository
	entitlements entitlementdomain.Repository
	ledger       ledgerdomain.Service
	eventLog     eventlogdomain.Service
	outbox       outboxdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		fees:         p.Config.Payment,
		repo:         p.Repo,
		entitlements: p.Entitlements,
		ledger:       p.Ledger,
		eventLog:     p.EventLog,
		outbox:       p.Outbox,
		obsMetrics:   p.ObsMetrics,
	}
}

type statusChangedPayload struct {
	PaymentID           string `json:"payment_id"`
	OrgID               string `json:"org_id"`
	Provider            string `json:"provider"`
	SourceEventID       string `json:"source_event_id"`
	GatewayEventType    string `json:"gateway_event_type"`
	From                string `json:"from"`
	Status              string `json:"status"`
	EntitlementsUpdated int64  `json:"entitlements_updated"`
	OccurredAt          string `json:"occurred_at,omitempty"`
}

type notificationPayload struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data"`
}

// Fulfill applies a verified gateway event. Redeliveries of the same event and
// events that arrive after the payment has moved on are acknowledged without side effects.
func (s *Service) Fulfill(ctx context.Context, event domain.GatewayEvent) (domain.FulfillResult, error) {
	eventType := strings.TrimSpace(event.Type)
	rule, ok := domain.RuleFor(eventType)
	if !ok {
		s.log.Info("gateway event not supported",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.RawType),
		)
		result := domain.FulfillResult{Handled: false, Reason: domain.ReasonEventNotSupported}
		s.obsMetrics.RecordFulfillment(ctx, event.Provider, eventType, result.Reason, false)
		return result, nil
	}

	reference := strings.TrimSpace(event.PaymentRef)
	if reference == "" {
		s.log.Info("gateway event without payment id",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.ID),
			zap.String("event_type", eventType),
		)
		result := domain.FulfillResult{Handled: false, Reason: domain.ReasonPaymentIDMissing}
		s.obsMetrics.RecordFulfillment(ctx, event.Provider, eventType, result.Reason, false)
		return result, nil
	}

	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return domain.FulfillResult{}, domain.ErrInvalidEvent
	}

	result := domain.FulfillResult{Handled: true, PaymentID: reference}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByReference(ctx, tx, reference, true)
		if err != nil {
			return err
		}
		if payment == nil {
			result.Reason = domain.ReasonPaymentNotFound
			return nil
		}

		result.PreviousStatus = payment.Status
		result.Status = payment.Status
		if payment.Status == rule.To {
			result.Reason = domain.ReasonAlreadyApplied
			return nil
		}
		if !rule.Allows(payment.Status) {
			result.Reason = domain.ReasonStaleTransition
			return nil
		}

		return s.applyRule(ctx, tx, rule, payment, event, &result)
	})
	if errors.Is(err, errTransitionLost) {
		result.Updated = false
		result.Reason = domain.ReasonStaleTransition
		result.EntitlementsUpdated = 0
		result.EventLogID = 0
		err = nil
	}
	if err != nil {
		s.log.Error("fulfill gateway event failed",
			zap.String("provider", event.Provider),
			zap.String("event_id", eventID),
			zap.String("payment_id", reference),
			zap.Error(err),
		)
		return domain.FulfillResult{}, err
	}

	s.obsMetrics.RecordFulfillment(ctx, event.Provider, eventType, result.Reason, result.Updated)
	fields := []zap.Field{
		zap.String("provider", event.Provider),
		zap.String("event_id", eventID),
		zap.String("event_type", eventType),
		zap.String("payment_id", reference),
		zap.String("reason", result.Reason),
		zap.String("status", string(result.Status)),
	}
	if result.Updated {
		s.log.Info("payment status changed", append(fields, zap.Int64("entitlements_updated", result.EntitlementsUpdated))...)
	} else {
		s.log.Info("gateway event acknowledged without change", fields...)
	}
	return result, nil
}

func (s *Service) applyRule(ctx context.Context, tx *gorm.DB, rule domain.Rule, payment *domain.Payment, event domain.GatewayEvent, result *domain.FulfillResult) error {
	now := s.clock.Now().UTC()
	key := dedupe.PaymentStatus(payment.OrgID.Int64(), payment.Reference, string(rule.To), event.ID)

	if rule.Issue {
		if err := s.issueEntitlements(ctx, tx, payment, now); err != nil {
			return err
		}
	}

	moved, err := s.repo.UpdateStatus(ctx, tx, payment.ID, payment.Status, rule.To, now)
	if err != nil {
		return err
	}
	if !moved {
		return errTransitionLost
	}

	entitlementsUpdated, err := s.entitlements.TransitionByPayment(ctx, tx, payment.ID, rule.EntFrom, rule.EntTo, now)
	if err != nil {
		return err
	}

	payload := statusChangedPayload{
		PaymentID:           payment.Reference,
		OrgID:               payment.OrgID.String(),
		Provider:            event.Provider,
		SourceEventID:       event.ID,
		GatewayEventType:    rule.EventType,
		From:                string(payment.Status),
		Status:              string(rule.To),
		EntitlementsUpdated: entitlementsUpdated,
	}
	if !event.OccurredAt.IsZero() {
		payload.OccurredAt = event.OccurredAt.UTC().Format(time.RFC3339)
	}

	appended, err := s.eventLog.Append(ctx, tx, eventlogdomain.Fact{
		OrgID:          payment.OrgID,
		EventType:      eventlogdomain.EventTypePaymentStatusChanged,
		SourceType:     sourceTypePayment,
		SourceID:       payment.Reference,
		IdempotencyKey: key,
		Payload:        payload,
	})
	if err != nil {
		return err
	}
	if !appended.Inserted {
		// The status CAS above already proves this is a fresh transition, so a
		// present key means another writer raced us with the same event.
		return errTransitionLost
	}

	if _, err := s.ledger.Record(ctx, tx, ledgerEntries(rule, payment, event, s.fees.DisputeFee)); err != nil {
		return err
	}

	if _, err := s.outbox.Record(ctx, tx, outboxdomain.RecordRequest{
		OrgID:     payment.OrgID,
		EventType: OutboxTypeStatusChanged,
		Payload:   payload,
		DedupeKey: key,
	}); err != nil {
		return err
	}

	if payment.OwnerEmail != nil && strings.TrimSpace(*payment.OwnerEmail) != "" {
		if _, err := s.outbox.Record(ctx, tx, outboxdomain.RecordRequest{
			OrgID:     payment.OrgID,
			EventType: OutboxTypeNotification,
			Payload: notificationPayload{
				Template:  notificationTemplate,
				Recipient: strings.TrimSpace(*payment.OwnerEmail),
				Data: map[string]any{
					"payment_id": payment.Reference,
					"status":     string(rule.To),
				},
			},
			DedupeKey: dedupe.PaymentNotice(payment.OrgID.Int64(), payment.Reference, string(rule.To), event.ID),
		}); err != nil {
			return err
		}
	}

	result.Updated = true
	result.Reason = domain.ReasonApplied
	result.Status = rule.To
	result.EntitlementsUpdated = entitlementsUpdated
	result.EventLogID = appended.Entry.ID
	return nil
}

// issueEntitlements creates one PENDING entitlement per purchased unit. Units issued
// earlier, at registration or by a previous capture attempt, are left untouched.
func (s *Service) issueEntitlements(ctx context.Context, tx *gorm.DB, payment *domain.Payment, now time.Time) error {
	items, err := s.repo.ListItems(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		for seq := 1; seq <= item.Quantity; seq++ {
			ent := &entitlementdomain.Entitlement{
				ID:              s.genID.Generate(),
				OrgID:           payment.OrgID,
				Type:            item.EntitlementType,
				OwnerIdentityID: payment.OwnerIdentityID,
				PaymentID:       payment.ID,
				PaymentItemID:   item.ID,
				Seq:             seq,
				ResourceType:    item.ResourceType,
				ResourceID:      item.ResourceID,
				Status:          entitlementdomain.StatusPending,
				ValidUntil:      item.ValidUntil,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if _, err := s.entitlements.Insert(ctx, tx, ent); err != nil {
				return err
			}
		}
	}
	return nil
}

func ledgerEntries(rule domain.Rule, payment *domain.Payment, event domain.GatewayEvent, disputeFee int64) []ledgerdomain.Entry {
	amount := payment.TotalAmount
	if amount <= 0 {
		amount = event.Amount
	}
	entry := func(entryType ledgerdomain.EntryType, value int64) ledgerdomain.Entry {
		return ledgerdomain.Entry{
			OrgID:         payment.OrgID,
			PaymentID:     payment.ID,
			EntryType:     entryType,
			Amount:        value,
			Currency:      payment.Currency,
			SourceEventID: event.ID,
		}
	}

	switch rule.EventType {
	case domain.EventTypeCaptured:
		return []ledgerdomain.Entry{
			entry(ledgerdomain.EntryPaymentGross, amount),
			entry(ledgerdomain.EntryPlatformFee, payment.PlatformFeeAmount),
			entry(ledgerdomain.EntryProcessorFee, payment.ProcessorFeeAmount),
		}
	case domain.EventTypeDisputeCreated:
		return []ledgerdomain.Entry{entry(ledgerdomain.EntryDisputeOpened, disputeAmount(event, amount))}
	case domain.EventTypeDisputeWon:
		return []ledgerdomain.Entry{entry(ledgerdomain.EntryDisputeWon, disputeAmount(event, amount))}
	case domain.EventTypeDisputeLost:
		return []ledgerdomain.Entry{
			entry(ledgerdomain.EntryChargebackDebit, disputeAmount(event, amount)),
			entry(ledgerdomain.EntryDisputeFee, disputeFee),
		}
	}
	return nil
}

func disputeAmount(event domain.GatewayEvent, fallback int64) int64 {
	if event.Amount > 0 {
		return event.Amount
	}
	return fallback
}

// RegisterPayment stores a payment, its line items and the computed fees.
func (s *Service) RegisterPayment(ctx context.Context, req domain.RegisterRequest) (*domain.Payment, []domain.Item, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, nil, domain.ErrInvalidCurrency
	}
	if len(req.Items) == 0 {
		return nil, nil, domain.ErrInvalidItems
	}

	var subtotal int64
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitAmount < 0 {
			return nil, nil, domain.ErrInvalidItems
		}
		if strings.TrimSpace(item.ResourceType) == "" || strings.TrimSpace(item.ResourceID) == "" {
			return nil, nil, domain.ErrInvalidItems
		}
		subtotal += int64(item.Quantity) * item.UnitAmount
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return nil, nil, domain.ErrInvalidProvider
	}

	fees := domain.ComputeFees(subtotal, domain.FeeConfig{
		DiscountBps:     req.DiscountBps,
		PlatformFeeBps:  s.fees.PlatformFeeBps,
		ProcessorFeeBps: s.fees.ProcessorFeeBps,
		ProcessorFixed:  s.fees.ProcessorFixed,
	})

	now := s.clock.Now().UTC()
	id := s.genID.Generate()
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = "pay_" + id.String()
	}

	payment := &domain.Payment{
		ID:                 id,
		OrgID:              req.OrgID,
		Reference:          reference,
		Provider:           provider,
		ProviderPaymentID:  optionalString(req.ProviderPaymentID),
		OwnerIdentityID:    optionalString(req.OwnerIdentityID),
		OwnerEmail:         optionalString(req.OwnerEmail),
		Currency:           currency,
		SubtotalAmount:     fees.Subtotal,
		DiscountAmount:     fees.Discount,
		PlatformFeeAmount:  fees.PlatformFee,
		ProcessorFeeAmount: fees.ProcessorFee,
		TotalAmount:        fees.Total,
		Status:             domain.StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	items := make([]domain.Item, 0, len(req.Items))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, payment); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicate
			}
			return err
		}

		for _, reqItem := range req.Items {
			entType := reqItem.EntitlementType
			if entType == "" {
				entType = entitlementdomain.TypeTicket
			}
			item := domain.Item{
				ID:              s.genID.Generate(),
				OrgID:           req.OrgID,
				PaymentID:       payment.ID,
				EntitlementType: entType,
				ResourceType:    strings.TrimSpace(reqItem.ResourceType),
				ResourceID:      strings.TrimSpace(reqItem.ResourceID),
				Quantity:        reqItem.Quantity,
				UnitAmount:      reqItem.UnitAmount,
				ValidUntil:      reqItem.ValidUntil,
				CreatedAt:       now,
			}
			if err := s.repo.InsertItem(ctx, tx, &item); err != nil {
				return err
			}
			items = append(items, item)
		}

		if req.IssuePending {
			if err := s.issueEntitlements(ctx, tx, payment, now); err != nil {
				return err
			}
		}

		_, err := s.eventLog.Append(ctx, tx, eventlogdomain.Fact{
			OrgID:      payment.OrgID,
			EventType:  eventlogdomain.EventTypePaymentRegistered,
			SourceType: sourceTypePayment,
			SourceID:   payment.Reference,
			Payload: map[string]any{
				"payment_id": payment.Reference,
				"provider":   payment.Provider,
				"currency":   payment.Currency,
				"fees":       fees,
			},
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("payment registered",
		zap.String("payment_id", payment.Reference),
		zap.String("org_id", payment.OrgID.String()),
		zap.Int64("total_amount", payment.TotalAmount),
	)
	return payment, items, nil
}

// RecordRefund posts a refund against a settled payment. Repeating the same
// source event is a no-op and returns zero.
func (s *Service) RecordRefund(ctx context.Context, req domain.RefundRequest) (int, error) {
	reference := strings.TrimSpace(req.PaymentRef)
	if reference == "" {
		return 0, domain.ErrInvalidReference
	}
	sourceEventID := strings.TrimSpace(req.SourceEventID)
	if sourceEventID == "" {
		return 0, domain.ErrInvalidEvent
	}
	if req.Amount <= 0 || req.FeeAmount < 0 {
		return 0, domain.ErrInvalidAmount
	}

	var recorded int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByReference(ctx, tx, reference, true)
		if err != nil {
			return err
		}
		if payment == nil || payment.OrgID != req.OrgID {
			return domain.ErrNotFound
		}
		if payment.Status != domain.StatusSucceeded && payment.Status != domain.StatusRefunded {
			return domain.ErrInvalidState
		}

		entries := []ledgerdomain.Entry{{
			OrgID:         payment.OrgID,
			PaymentID:     payment.ID,
			EntryType:     ledgerdomain.EntryRefundGross,
			Amount:        req.Amount,
			Currency:      payment.Currency,
			SourceEventID: sourceEventID,
		}, {
			OrgID:         payment.OrgID,
			PaymentID:     payment.ID,
			EntryType:     ledgerdomain.EntryRefundFee,
			Amount:        req.FeeAmount,
			Currency:      payment.Currency,
			SourceEventID: sourceEventID,
		}}
		recorded, err = s.ledger.Record(ctx, tx, entries)
		if err != nil {
			return err
		}
		if recorded == 0 {
			return nil
		}

		key := dedupe.Key(eventlogdomain.EventTypePaymentRefunded, payment.OrgID.String(), payment.Reference, sourceEventID)
		payload := map[string]any{
			"payment_id":      payment.Reference,
			"amount":          req.Amount,
			"fee_amount":      req.FeeAmount,
			"source_event_id": sourceEventID,
		}
		if _, err := s.eventLog.Append(ctx, tx, eventlogdomain.Fact{
			OrgID:          payment.OrgID,
			EventType:      eventlogdomain.EventTypePaymentRefunded,
			SourceType:     sourceTypePayment,
			SourceID:       payment.Reference,
			IdempotencyKey: key,
			Payload:        payload,
		}); err != nil {
			return err
		}
		_, err = s.outbox.Record(ctx, tx, outboxdomain.RecordRequest{
			OrgID:     payment.OrgID,
			EventType: OutboxTypeRefunded,
			Payload:   payload,
			DedupeKey: key,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return recorded, nil
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID, reference string) (*domain.Payment, error) {
	payment, err := s.repo.FindByReference(ctx, s.db, strings.TrimSpace(reference), false)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.OrgID != orgID {
		return nil, domain.ErrNotFound
	}
	return payment, nil
}

// Ledger returns the postings for a payment along with the status they imply.
func (s *Service) Ledger(ctx context.Context, orgID snowflake.ID, reference string) ([]ledgerdomain.Entry, string, error) {
	payment, err := s.Get(ctx, orgID, reference)
	if err != nil {
		return nil, "", err
	}
	entries, err := s.ledger.ListByPayment(ctx, payment.ID)
	if err != nil {
		return nil, "", err
	}
	return entries, ledgerdomain.DerivedStatus(entries, string(payment.Status)), nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
