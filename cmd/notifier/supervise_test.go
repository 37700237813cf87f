package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyRunner struct {
	calls  atomic.Int32
	cancel context.CancelFunc
}

func (f *flakyRunner) Run(ctx context.Context) error {
	if f.calls.Add(1) >= 3 {
		f.cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	return errors.New("connection refused")
}

func TestSuperviseConsumerRestartsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &flakyRunner{cancel: cancel}

	done := make(chan error, 1)
	go func() { done <- superviseConsumer(ctx, r, zerolog.Nop()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, int32(3), r.calls.Load())
}
