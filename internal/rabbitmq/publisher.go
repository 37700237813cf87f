package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"social-events/internal/observability"
	"social-events/internal/telemetry"
)

// Publisher publishes JSON events to a durable queue named by routingKey.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is disabled.
// A broker that is unreachable at start is redialed on the next publish.
func NewPublisher(amqpURL string, log zerolog.Logger) Publisher {
	if amqpURL == "" {
		log.Warn().Str("reason", "empty amqp url").Msg("rabbitmq disabled, using noop")
		return noopPublisher{reason: "empty amqp url", log: log}
	}

	p := &amqpPublisher{
		url:      amqpURL,
		declared: make(map[string]struct{}),
		log:      log,
		dial:     amqp.Dial,
	}
	p.mu.Lock()
	err := p.connectLocked()
	p.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable, will redial on publish")
	} else {
		log.Info().Msg("rabbitmq publisher connected")
	}
	return p
}

type amqpPublisher struct {
	url  string
	dial func(url string) (*amqp.Connection, error)
	log  zerolog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]struct{}
}

func (p *amqpPublisher) connectLocked() error {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	p.resetLocked()

	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	p.conn = conn
	p.ch = ch
	return nil
}

func (p *amqpPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch = nil
	p.conn = nil
	p.declared = make(map[string]struct{})
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	if requestID := telemetry.RequestIDFromContext(ctx); requestID != "" {
		headers[telemetry.RequestIDHeader] = requestID
	}
	telemetry.InjectAMQP(ctx, headers)

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		observability.IncAMQPPublishError()
		return err
	}
	if _, ok := p.declared[routingKey]; !ok {
		if err := declareQueue(p.ch, routingKey, nil); err != nil {
			observability.IncAMQPPublishError()
			p.resetLocked()
			return err
		}
		p.declared[routingKey] = struct{}{}
	}

	if err := p.ch.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		observability.IncAMQPPublishError()
		p.log.Error().Err(err).Str("routing_key", routingKey).Msg("rabbitmq publish failed")
		p.resetLocked()
		return err
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		err = p.conn.Close()
		if errors.Is(err, amqp.ErrClosed) {
			err = nil
		}
	}
	p.ch = nil
	p.conn = nil
	return err
}

type noopPublisher struct {
	reason string
	log    zerolog.Logger
}

func (p noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	p.log.Debug().
		Str("routing_key", routingKey).
		Str("request_id", telemetry.RequestIDFromContext(ctx)).
		Interface("event", event).
		Msg("rabbitmq noop publish")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	case *noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	switch publisher := p.(type) {
	case noopPublisher:
		return publisher.reason
	case *noopPublisher:
		return publisher.reason
	default:
		return ""
	}
}
