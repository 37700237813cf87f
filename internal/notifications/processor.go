package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"social-events/internal/apperrors"
	"social-events/internal/models"
	"social-events/internal/repositories"
)

// Processor persists queued notification events.
type Processor struct {
	repo    repositories.NotificationRepository
	timeout time.Duration
	log     zerolog.Logger
}

func NewProcessor(repo repositories.NotificationRepository, timeout time.Duration, log zerolog.Logger) *Processor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Processor{repo: repo, timeout: timeout, log: log}
}

// Process is a rabbitmq.Handler. Undecodable or invalid payloads are
// permanent; store failures are transient unless Postgres reports a data or
// integrity violation.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	var event models.NotificationEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return apperrors.Permanent(fmt.Errorf("decode notification: %w", err))
	}
	if err := event.Validate(); err != nil {
		return apperrors.Permanent(err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	n, err := p.repo.Create(ctx, event)
	if err != nil {
		if isPermanentStoreError(err) {
			return apperrors.Permanent(fmt.Errorf("store notification: %w", err))
		}
		return apperrors.Transient(fmt.Errorf("store notification: %w", err))
	}

	p.log.Debug().
		Int64("notification_id", n.ID).
		Int64("recipient_id", n.RecipientID).
		Str("action", string(n.Action)).
		Msg("notification stored")
	return nil
}

// SQLSTATE class 22 is data exception, 23 integrity constraint violation.
func isPermanentStoreError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	class := pqErr.Code.Class()
	return class == "22" || class == "23"
}
