package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"social-events/internal/apperrors"
	"social-events/internal/mocks"
	"social-events/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []any
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, routingKey)
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func validEvent() models.NotificationEvent {
	return models.NotificationEvent{RecipientID: 2, SenderID: 1, Action: models.ActionFollowRequested, TargetID: 1}
}

func TestProducerPublishesBufferedEvents(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, "notifications", 8, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Publish(context.Background(), validEvent())

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "notifications", pub.keys[0])
	assert.Equal(t, validEvent(), pub.events[0])
}

func TestProducerSkipsSelfAndInvalidEvents(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, "notifications", 8, zerolog.Nop())

	self := validEvent()
	self.RecipientID = self.SenderID
	p.Publish(context.Background(), self)

	invalid := validEvent()
	invalid.Action = "poke"
	p.Publish(context.Background(), invalid)

	assert.Len(t, p.buf, 0)
}

func TestProducerNeverBlocksWhenBufferFull(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, "notifications", 1, zerolog.Nop())

	finished := make(chan struct{})
	go func() {
		p.Publish(context.Background(), validEvent())
		p.Publish(context.Background(), validEvent())
		p.Publish(context.Background(), validEvent())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
	assert.Len(t, p.buf, 1)
}

func TestProducerFlushesOnShutdownAndSurvivesErrors(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "notifications", validEvent()).Return(errors.New("broker down")).Twice()
	p := NewProducer(pub, "notifications", 4, zerolog.Nop())

	p.Publish(context.Background(), validEvent())
	p.Publish(context.Background(), validEvent())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	pub.AssertExpectations(t)
}

func TestProcessStoresValidEvent(t *testing.T) {
	repo := new(mocks.NotificationRepositoryMock)
	repo.On("Create", mock.Anything, validEvent()).Return(models.Notification{ID: 7, RecipientID: 2}, nil)
	p := NewProcessor(repo, time.Second, zerolog.Nop())

	err := p.Process(context.Background(), []byte(`{"recipientId":2,"senderId":1,"action":"follow-requested","targetId":1}`))

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestProcessClassifiesFailures(t *testing.T) {
	p := NewProcessor(new(mocks.NotificationRepositoryMock), time.Second, zerolog.Nop())

	err := p.Process(context.Background(), []byte(`{not json`))
	assert.Equal(t, apperrors.KindPermanent, apperrors.KindOf(err))

	err = p.Process(context.Background(), []byte(`{"recipientId":2,"senderId":1,"action":"wave","targetId":1}`))
	assert.Equal(t, apperrors.KindPermanent, apperrors.KindOf(err))
}

func TestProcessClassifiesStoreErrors(t *testing.T) {
	body := []byte(`{"recipientId":2,"senderId":1,"action":"follow-requested","targetId":1}`)

	cases := []struct {
		name string
		err  error
		want apperrors.Kind
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), apperrors.KindTransient},
		{"deadline", context.DeadlineExceeded, apperrors.KindTransient},
		{"check violation", &pq.Error{Code: "23514"}, apperrors.KindPermanent},
		{"bad text", &pq.Error{Code: "22021"}, apperrors.KindPermanent},
		{"serialization failure", &pq.Error{Code: "40001"}, apperrors.KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(mocks.NotificationRepositoryMock)
			repo.On("Create", mock.Anything, mock.Anything).Return(nil, tc.err)
			p := NewProcessor(repo, time.Second, zerolog.Nop())

			err := p.Process(context.Background(), body)
			require.Error(t, err)
			assert.Equal(t, tc.want, apperrors.KindOf(err))
		})
	}
}
