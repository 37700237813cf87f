package main

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

type runner interface {
	Run(ctx context.Context) error
}

// superviseConsumer restarts r with exponential backoff until ctx is done.
// A run that lasted longer than a minute resets the backoff.
func superviseConsumer(ctx context.Context, r runner, log zerolog.Logger) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := r.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if time.Since(started) > time.Minute {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		log.Error().Err(err).Dur("retry_in", wait).Msg("notification consumer stopped, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
