package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqClient struct {
	conn     *amqp091.Connection
	exchange string
	logger   zerolog.Logger
}

// NewAMQP dials RabbitMQ and declares a durable topic exchange
func NewAMQP(url, exchange string, logger zerolog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &rmqClient{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With().Str("component", "amqp_publisher").Logger(),
	}, nil
}

func (r *rmqClient) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := msgID
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: cid,
			Type:          msg.Meta.Type,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("broker nacked publish")
	}

	r.logger.Debug().Str("key", key).Str("exchange", r.exchange).Msg("published")
	return nil
}

func (r *rmqClient) Close() error {
	return r.conn.Close()
}

// FallbackPublisher drops events with a warning when no broker is configured
type FallbackPublisher struct {
	logger zerolog.Logger
}

func NewFallback(logger zerolog.Logger) Publisher {
	return &FallbackPublisher{logger: logger}
}

func (p *FallbackPublisher) Publish(_ context.Context, key string, _ Envelope) error {
	p.logger.Warn().Str("key", key).Msg("fallback publisher: skipped publish")
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}
