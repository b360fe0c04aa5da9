package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	outboxdomain "github.com/smallbiznis/tixgate/internal/outbox/domain"
	amqpprovider "github.com/smallbiznis/tixgate/internal/providers/amqp"
	"github.com/smallbiznis/tixgate/internal/providers/email"
	"github.com/smallbiznis/tixgate/internal/providers/slack"
	"github.com/smallbiznis/tixgate/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// Executor performs the side effect behind one outbox row. A returned error fails the row.
type Executor interface {
	Name() string
	Execute(ctx context.Context, event outboxdomain.Event) error
}

type ExecutorFunc struct {
	ExecutorName string
	Fn           func(ctx context.Context, event outboxdomain.Event) error
}

func (f ExecutorFunc) Name() string { return f.ExecutorName }

func (f ExecutorFunc) Execute(ctx context.Context, event outboxdomain.Event) error {
	return f.Fn(ctx, event)
}

var (
	ErrMissingRecipient = errors.New("notification_missing_recipient")
	ErrMissingTemplate  = errors.New("notification_missing_template")
)

// notificationPayload is the envelope written by notification producers.
type notificationPayload struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Channel   string         `json:"channel"`
	Data      map[string]any `json:"data"`
	Text      string         `json:"text"`
}

func decodeNotification(event outboxdomain.Event) (notificationPayload, error) {
	var payload notificationPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode notification payload: %w", err)
	}
	return payload, nil
}

type emailExecutor struct {
	provider email.Provider
}

func NewEmailExecutor(provider email.Provider) Executor {
	return &emailExecutor{provider: provider}
}

func (e *emailExecutor) Name() string { return "email" }

func (e *emailExecutor) Execute(ctx context.Context, event outboxdomain.Event) error {
	payload, err := decodeNotification(event)
	if err != nil {
		return err
	}
	if strings.TrimSpace(payload.Recipient) == "" {
		return ErrMissingRecipient
	}
	if strings.TrimSpace(payload.Template) == "" {
		return ErrMissingTemplate
	}
	return e.provider.SendTemplate(ctx, []string{payload.Recipient}, payload.Template, payload.Data)
}

type slackExecutor struct {
	provider slack.Provider
}

func NewSlackExecutor(provider slack.Provider) Executor {
	return &slackExecutor{provider: provider}
}

func (e *slackExecutor) Name() string { return "slack" }

func (e *slackExecutor) Execute(ctx context.Context, event outboxdomain.Event) error {
	payload, err := decodeNotification(event)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		text = fmt.Sprintf("[%s] %s", event.EventType, string(event.Payload))
	}
	return e.provider.PostMessage(ctx, payload.Channel, text)
}

type amqpExecutor struct {
	publisher amqpprovider.Publisher
}

func NewAMQPExecutor(publisher amqpprovider.Publisher) Executor {
	return &amqpExecutor{publisher: publisher}
}

func (e *amqpExecutor) Name() string { return "amqp" }

// Execute publishes the payload with the event type as routing key. The dedupe key travels
// as message_id so consumers can drop redeliveries.
func (e *amqpExecutor) Execute(ctx context.Context, event outboxdomain.Event) error {
	headers := correlation.Headers(ctx)
	headers["message_id"] = event.DedupeKey
	headers["org_id"] = event.OrgID.String()
	return e.publisher.Publish(ctx, event.EventType, headers, event.Payload)
}

type logExecutor struct {
	log *zap.Logger
}

func NewLogExecutor(log *zap.Logger) Executor {
	return &logExecutor{log: log.Named("outbox.delivery.log")}
}

func (e *logExecutor) Name() string { return "log" }

func (e *logExecutor) Execute(ctx context.Context, event outboxdomain.Event) error {
	e.log.Info("outbox event delivered to log",
		zap.String("outbox_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("dedupe_key", event.DedupeKey),
	)
	return nil
}
