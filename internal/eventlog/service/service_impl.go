package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/eventlog/domain"
	obsmetrics "github.com/smallbiznis/tixgate/internal/observability/metrics"
	"github.com/smallbiznis/tixgate/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("eventlog.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

const entryColumns = `id, org_id, event_type, actor_user_id, source_type, source_id,
	correlation_id, idempotency_key, payload, created_at`

func (s *Service) Append(ctx context.Context, tx *gorm.DB, fact domain.Fact) (domain.AppendResult, error) {
	eventType := strings.TrimSpace(fact.EventType)
	if eventType == "" {
		return domain.AppendResult{}, domain.ErrInvalidEventType
	}
	payload, err := encodePayload(fact.Payload)
	if err != nil {
		return domain.AppendResult{}, err
	}
	if tx == nil {
		tx = s.db
	}

	correlationID := strings.TrimSpace(fact.CorrelationID)
	if correlationID == "" {
		correlationID = correlation.ExtractCorrelationID(ctx)
	}

	entry := &domain.Entry{
		ID:             s.genID.Generate(),
		OrgID:          fact.OrgID,
		EventType:      eventType,
		ActorUserID:    optional(fact.ActorUserID),
		SourceType:     optional(fact.SourceType),
		SourceID:       optional(fact.SourceID),
		CorrelationID:  optional(correlationID),
		IdempotencyKey: optional(fact.IdempotencyKey),
		Payload:        payload,
		CreatedAt:      s.clock.Now().UTC(),
	}

	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return domain.AppendResult{}, result.Error
	}

	if result.RowsAffected > 0 {
		s.obsMetrics.RecordEventLogAppend(ctx, eventType, false)
		return domain.AppendResult{Entry: entry, Inserted: true}, nil
	}
	if entry.IdempotencyKey == nil {
		// Only a snowflake collision can land here.
		return domain.AppendResult{}, gorm.ErrDuplicatedKey
	}

	existing, err := s.findByIdempotencyKey(ctx, tx, fact.OrgID, *entry.IdempotencyKey)
	if err != nil {
		return domain.AppendResult{}, err
	}
	if existing == nil {
		return domain.AppendResult{}, domain.ErrNotFound
	}
	s.log.Debug("event log append deduplicated",
		zap.String("event_type", eventType),
		zap.String("entry_id", existing.ID.String()),
	)
	s.obsMetrics.RecordEventLogAppend(ctx, eventType, true)
	return domain.AppendResult{Entry: existing, Inserted: false}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Entry, error) {
	var entry domain.Entry
	err := s.db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`
		 FROM event_log
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}

func (s *Service) ListBySource(ctx context.Context, orgID snowflake.ID, sourceType, sourceID string) ([]domain.Entry, error) {
	var entries []domain.Entry
	err := s.db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`
		 FROM event_log
		 WHERE org_id = ? AND source_type = ? AND source_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orgID,
		strings.TrimSpace(sourceType),
		strings.TrimSpace(sourceID),
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`
		 FROM event_log
		 WHERE org_id = ? AND idempotency_key = ?
		 LIMIT 1`,
		orgID,
		key,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
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
			return nil, domain.ErrInvalidPayload
		}
		return datatypes.JSON(raw), nil
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
