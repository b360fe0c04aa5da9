package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/tixgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("amqp_not_configured")

type Publisher interface {
	Publish(ctx context.Context, routingKey string, headers map[string]string, body []byte) error
}

var Module = fx.Module("providers.amqp",
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// NewFromConfig dials lazily so the API process starts even when the broker is down.
func NewFromConfig(p Params) Publisher {
	url := strings.TrimSpace(p.Config.AMQP.URL)
	if url == "" {
		return NoOpPublisher{}
	}
	pub := &RabbitPublisher{
		url:      url,
		exchange: p.Config.AMQP.Exchange,
		log:      p.Log.Named("providers.amqp"),
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub
}

type NoOpPublisher struct{}

func (NoOpPublisher) Publish(ctx context.Context, routingKey string, headers map[string]string, body []byte) error {
	return ErrNotConfigured
}

type RabbitPublisher struct {
	url      string
	exchange string
	log      *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (p *RabbitPublisher) connect() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.ch = ch
	p.log.Info("amqp publisher connected", zap.String("exchange", p.exchange))
	return ch, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, headers map[string]string, body []byte) error {
	if !json.Valid(body) {
		return errors.New("amqp_invalid_body")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.connect()
	if err != nil {
		return err
	}

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      table,
		Body:         body,
	})
	if err != nil {
		p.closeLocked()
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *RabbitPublisher) closeLocked() error {
	var err error
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}
