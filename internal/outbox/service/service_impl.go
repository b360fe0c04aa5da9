package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/config"
	eventlogdomain "github.com/smallbiznis/tixgate/internal/eventlog/domain"
	obsmetrics "github.com/smallbiznis/tixgate/internal/observability/metrics"
	"github.com/smallbiznis/tixgate/internal/outbox/domain"
	"github.com/smallbiznis/tixgate/pkg/db/pagination"
	"github.com/smallbiznis/tixgate/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Config struct {
	MaxRetries   int
	LeaseTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		LeaseTimeout: 2 * time.Minute,
	}
}

// ConfigFromApp maps the outbox section of the application config.
func ConfigFromApp(cfg config.Config) Config {
	return Config{
		MaxRetries:   cfg.Outbox.MaxRetries,
		LeaseTimeout: cfg.Outbox.LeaseTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = def.LeaseTimeout
	}
	return c
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	EventLog   eventlogdomain.Service
	Config     Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	eventLog   eventlogdomain.Service
	cfg        Config
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("outbox.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		eventLog:   p.EventLog,
		cfg:        p.Config.withDefaults(),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, req domain.RecordRequest) (domain.RecordResult, error) {
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		return domain.RecordResult{}, domain.ErrInvalidEventType
	}
	dedupeKey := strings.TrimSpace(req.DedupeKey)
	if dedupeKey == "" {
		return domain.RecordResult{}, domain.ErrInvalidDedupeKey
	}
	payload, err := encodePayload(req.Payload)
	if err != nil {
		return domain.RecordResult{}, err
	}
	if tx == nil {
		tx = s.db
	}

	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = correlation.ExtractCorrelationID(ctx)
	}

	id := s.genID.Generate()
	event := &domain.Event{
		ID:         id,
		OrgID:      req.OrgID,
		EventType:  eventType,
		Payload:    payload,
		DedupeKey:  dedupeKey,
		LogicalKey: dedupeKey,
		Status:     domain.StatusPending,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if req.Force {
		event.DedupeKey = dedupeKey + "#" + id.String()
	}
	if correlationID != "" {
		event.CorrelationID = &correlationID
	}

	inserted, err := s.repo.Insert(ctx, tx, event)
	if err != nil {
		return domain.RecordResult{}, err
	}
	s.obsMetrics.RecordOutboxEnqueue(ctx, eventType, inserted)
	if inserted {
		return domain.RecordResult{Event: event, Inserted: true}, nil
	}

	existing, err := s.repo.FindByDedupeKey(ctx, tx, event.OrgID, event.DedupeKey)
	if err != nil {
		return domain.RecordResult{}, err
	}
	if existing == nil {
		return domain.RecordResult{}, domain.ErrNotFound
	}
	return domain.RecordResult{Event: existing, Inserted: false}, nil
}

// ClaimBatch expires stale leases, then claims up to limit ready rows. Rows taken by
// another worker between the read and the CAS are skipped.
func (s *Service) ClaimBatch(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.clock.Now().UTC()

	expired, err := s.repo.ExpireLeases(ctx, s.db, now, s.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	if expired > 0 {
		s.log.Warn("outbox leases expired", zap.Int64("count", expired))
	}

	candidates, err := s.repo.ListReady(ctx, s.db, now, s.cfg.MaxRetries, limit)
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.Event, 0, len(candidates))
	for _, candidate := range candidates {
		token := uuid.NewString()
		leaseUntil := now.Add(s.cfg.LeaseTimeout)
		ok, err := s.repo.Claim(ctx, s.db, domain.ClaimParams{
			ID:            candidate.ID,
			ObservedToken: candidate.Token(),
			Token:         token,
			Now:           now,
			LeaseUntil:    leaseUntil,
			MaxRetries:    s.cfg.MaxRetries,
		})
		if err != nil {
			return claimed, err
		}
		if !ok {
			s.log.Debug("outbox claim lost", zap.String("outbox_id", candidate.ID.String()))
			continue
		}
		candidate.Status = domain.StatusSending
		candidate.ClaimToken = &token
		candidate.ClaimedAt = &now
		candidate.NextAttemptAt = &leaseUntil
		claimed = append(claimed, candidate)
	}
	return claimed, nil
}

func (s *Service) MarkSent(ctx context.Context, event domain.Event) error {
	ok, err := s.repo.MarkSent(ctx, s.db, event.ID, event.Token(), s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrClaimLost
	}
	return nil
}

// MarkFailed records a failed attempt and returns the row as written.
func (s *Service) MarkFailed(ctx context.Context, event domain.Event, cause error) (*domain.Event, error) {
	now := s.clock.Now().UTC()
	retries := event.Retries + 1
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	message = domain.TruncateError(message)

	update := domain.FailureUpdate{
		ID:            event.ID,
		Token:         event.Token(),
		Retries:       retries,
		LastError:     message,
		NextAttemptAt: domain.NextAttemptAt(now, retries),
	}
	if retries >= s.cfg.MaxRetries {
		update.DeadLetteredAt = &now
	}

	ok, err := s.repo.MarkFailed(ctx, s.db, update)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrClaimLost
	}

	event.Status = domain.StatusFailed
	event.Retries = retries
	event.LastError = &message
	event.NextAttemptAt = &update.NextAttemptAt
	event.DeadLetteredAt = update.DeadLetteredAt
	event.ClaimToken = nil
	if event.IsDeadLettered() {
		s.log.Warn("outbox event dead-lettered",
			zap.String("outbox_id", event.ID.String()),
			zap.String("event_type", event.EventType),
			zap.Int("retries", retries),
			zap.String("last_error", message),
		)
	}
	return &event, nil
}

// Replay re-arms a dead-lettered row and records who did it. A second replay of the
// same row returns false.
func (s *Service) Replay(ctx context.Context, id snowflake.ID, actor string) (bool, error) {
	var replayed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if event == nil {
			return domain.ErrNotFound
		}
		if !event.IsDeadLettered() {
			return nil
		}

		ok, err := s.repo.Replay(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		_, err = s.eventLog.Append(ctx, tx, eventlogdomain.Fact{
			OrgID:       event.OrgID,
			EventType:   eventlogdomain.EventTypeOutboxReplayed,
			ActorUserID: actor,
			SourceType:  "outbox_event",
			SourceID:    event.ID.String(),
			Payload: map[string]any{
				"dedupe_key": event.DedupeKey,
				"event_type": event.EventType,
				"retries":    event.Retries,
				"last_error": event.LastError,
			},
		})
		if err != nil {
			return err
		}
		replayed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return replayed, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Event, error) {
	event, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrNotFound
	}
	return event, nil
}

func (s *Service) ListDeadLetters(ctx context.Context, orgID snowflake.ID, page pagination.Pagination) ([]domain.Event, pagination.PageInfo, error) {
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var afterID snowflake.ID
	if cursor != nil {
		afterID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.PageInfo{}, pagination.ErrInvalidCursor
		}
	}

	limit := page.Limit()
	events, err := s.repo.ListDeadLetters(ctx, s.db, orgID, afterID, limit+1)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return pagination.BuildCursorPage(events, limit, func(e domain.Event) pagination.Cursor {
		return pagination.Cursor{
			ID:        e.ID.String(),
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		}
	})
}

func encodePayload(payload any) (datatypes.JSON, error) {
	switch v := payload.(type) {
	case nil:
		return datatypes.JSON([]byte("{}")), nil
	case datatypes.JSON:
		if !json.Valid(v) {
			return nil, domain.ErrInvalidPayload
		}
		return v, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, domain.ErrInvalidPayload
		}
		return datatypes.JSON(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Join(domain.ErrInvalidPayload, err)
		}
		return datatypes.JSON(raw), nil
	}
}
