package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"social-events/internal/apperrors"
	"social-events/internal/observability"
	"social-events/internal/telemetry"
)

const (
	RetryCountHeader  = "x-retry-count"
	DeathReasonHeader = "x-death-reason"
)

// State is the consumer lifecycle stage.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConsuming
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Handler processes one delivery body. Errors are classified with apperrors.
type Handler func(ctx context.Context, body []byte) error

type ConsumerConfig struct {
	URL            string
	Topology       Topology
	Prefetch       int
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

type republisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer reads the notification queue with manual acknowledgement.
type Consumer struct {
	cfg     ConsumerConfig
	handler Handler
	log     zerolog.Logger
	tracer  trace.Tracer
	state   atomic.Int32
}

func NewConsumer(cfg ConsumerConfig, handler Handler, log zerolog.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.BaseRetryDelay {
		cfg.MaxRetryDelay = cfg.BaseRetryDelay
	}
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		log:     log,
		tracer:  telemetry.Tracer("social-events/rabbitmq"),
	}
}

func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

// Run connects, declares the topology and consumes until ctx is cancelled or
// the connection is lost. It always returns a non-nil error; callers restart
// it on anything other than ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	c.setState(StateConnecting)
	defer c.setState(StateDisconnected)

	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := c.cfg.Topology.Declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Topology.Queue, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.setState(StateConsuming)
	c.log.Info().
		Str("queue", c.cfg.Topology.Queue).
		Int("prefetch", c.cfg.Prefetch).
		Msg("notification consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("amqp connection closed")
			}
			return fmt.Errorf("amqp connection closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, ch, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, pub republisher, d amqp.Delivery) {
	c.setState(StateProcessing)
	defer c.setState(StateConsuming)

	msgCtx := telemetry.ExtractAMQP(ctx, d.Headers)
	if requestID, ok := d.Headers[telemetry.RequestIDHeader].(string); ok {
		msgCtx = telemetry.WithRequestID(msgCtx, requestID)
	}
	msgCtx, span := c.tracer.Start(msgCtx, "notifications.consume", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	attempt := retryCount(d.Headers)
	span.SetAttributes(
		attribute.String("messaging.message.id", d.MessageId),
		attribute.Int("messaging.retry_count", attempt),
	)
	log := c.log.With().
		Str("message_id", d.MessageId).
		Str("request_id", telemetry.RequestIDFromContext(msgCtx)).
		Int("retry_count", attempt).
		Logger()

	err := c.handler(msgCtx, d.Body)
	if err == nil {
		c.ack(d, log)
		observability.IncNotificationConsumed("ack")
		return
	}
	span.RecordError(err)

	if !apperrors.IsRetryable(err) {
		log.Error().Err(err).Str("kind", string(apperrors.KindOf(err))).Msg("dropping notification")
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error().Err(nackErr).Msg("nack failed")
		}
		observability.IncNotificationConsumed("drop")
		return
	}

	next := attempt + 1
	target, outcome := c.cfg.Topology.RetryQueue, "retry"
	msg := forward(d)
	msg.Headers[RetryCountHeader] = int32(next)
	if next > c.cfg.MaxRetries {
		target, outcome = c.cfg.Topology.DeadLetterQueue, "dead_letter"
		msg.Headers[DeathReasonHeader] = err.Error()
		msg.Headers[RetryCountHeader] = int32(attempt)
	} else {
		msg.Expiration = strconv.FormatInt(c.retryDelay(next).Milliseconds(), 10)
	}

	if pubErr := pub.PublishWithContext(msgCtx, "", target, false, false, msg); pubErr != nil {
		log.Error().Err(pubErr).Str("target", target).Msg("republish failed, requeueing")
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error().Err(nackErr).Msg("nack failed")
		}
		observability.IncNotificationConsumed("requeue")
		return
	}

	if outcome == "dead_letter" {
		log.Error().Err(err).Msg("notification dead-lettered after retries")
	} else {
		log.Warn().Err(err).Int("next_attempt", next).Str("delay", msg.Expiration+"ms").Msg("notification scheduled for retry")
	}
	c.ack(d, log)
	observability.IncNotificationConsumed(outcome)
}

func (c *Consumer) ack(d amqp.Delivery, log zerolog.Logger) {
	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Msg("ack failed")
	}
}

// retryDelay is base*2^(n-1), capped at MaxRetryDelay.
func (c *Consumer) retryDelay(n int) time.Duration {
	delay := c.cfg.BaseRetryDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= c.cfg.MaxRetryDelay {
			return c.cfg.MaxRetryDelay
		}
	}
	if delay > c.cfg.MaxRetryDelay {
		return c.cfg.MaxRetryDelay
	}
	return delay
}

func forward(d amqp.Delivery) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		if k == "x-death" {
			continue
		}
		headers[k] = v
	}
	return amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Headers:      headers,
		Body:         d.Body,
	}
}

func retryCount(headers amqp.Table) int {
	switch v := headers[RetryCountHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return 0
}
