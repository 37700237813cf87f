// Package notifications moves notification events from the services that
// raise them to the per-recipient store.
package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"social-events/internal/models"
	"social-events/internal/observability"
	"social-events/internal/rabbitmq"
)

type pending struct {
	ctx   context.Context
	event models.NotificationEvent
}

// Producer hands notification events to the queue without blocking callers.
// Events are buffered in memory and published by Run; a full buffer drops the
// event with a warning.
type Producer struct {
	publisher      rabbitmq.Publisher
	queue          string
	publishTimeout time.Duration
	buf            chan pending
	log            zerolog.Logger
}

func NewProducer(publisher rabbitmq.Publisher, queue string, buffer int, log zerolog.Logger) *Producer {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Producer{
		publisher:      publisher,
		queue:          queue,
		publishTimeout: 5 * time.Second,
		buf:            make(chan pending, buffer),
		log:            log,
	}
}

// Publish validates and enqueues event. It never returns an error to the
// caller; the domain action that raised the event has already succeeded.
func (p *Producer) Publish(ctx context.Context, event models.NotificationEvent) {
	if err := event.Validate(); err != nil {
		p.log.Warn().Err(err).Str("action", string(event.Action)).Msg("notification rejected")
		observability.IncNotificationPublished("invalid")
		return
	}
	if event.RecipientID == event.SenderID {
		observability.IncNotificationPublished("self")
		return
	}

	select {
	case p.buf <- pending{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		p.log.Warn().
			Int64("recipient_id", event.RecipientID).
			Str("action", string(event.Action)).
			Msg("notification buffer full, dropping event")
		observability.IncNotificationPublished("dropped")
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case item := <-p.buf:
			p.publish(item)
		}
	}
}

func (p *Producer) flush() {
	for {
		select {
		case item := <-p.buf:
			p.publish(item)
		default:
			return
		}
	}
}

func (p *Producer) publish(item pending) {
	ctx, cancel := context.WithTimeout(item.ctx, p.publishTimeout)
	defer cancel()

	if err := p.publisher.Publish(ctx, p.queue, item.event); err != nil {
		p.log.Error().Err(err).
			Int64("recipient_id", item.event.RecipientID).
			Int64("sender_id", item.event.SenderID).
			Str("action", string(item.event.Action)).
			Msg("notification publish failed")
		observability.IncNotificationPublished("error")
		return
	}
	observability.IncNotificationPublished("ok")
}
