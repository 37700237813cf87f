package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-events/internal/apperrors"
)

type fakeAcker struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

type published struct {
	key string
	msg amqp.Publishing
}

type fakeRepublisher struct {
	sent []published
	err  error
}

func (f *fakeRepublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, msg: msg})
	return nil
}

func newTestConsumer(handler Handler) *Consumer {
	return NewConsumer(ConsumerConfig{
		Topology: Topology{
			Queue:           "notifications",
			RetryQueue:      "notifications.retry",
			DeadLetterQueue: "notifications.dead",
		},
		Prefetch:       5,
		MaxRetries:     3,
		BaseRetryDelay: time.Second,
		MaxRetryDelay:  5 * time.Second,
	}, handler, zerolog.Nop())
}

func delivery(acker *fakeAcker, headers amqp.Table) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: acker,
		MessageId:    "m-1",
		ContentType:  "application/json",
		Headers:      headers,
		Body:         []byte(`{"recipientId":1}`),
	}
}

func TestHandleAcksOnSuccess(t *testing.T) {
	var got []byte
	c := newTestConsumer(func(ctx context.Context, body []byte) error {
		got = body
		return nil
	})
	acker := &fakeAcker{}
	pub := &fakeRepublisher{}

	c.handle(context.Background(), pub, delivery(acker, nil))

	assert.Equal(t, `{"recipientId":1}`, string(got))
	assert.Equal(t, 1, acker.acks)
	assert.Zero(t, acker.nacks)
	assert.Empty(t, pub.sent)
	assert.Equal(t, StateConsuming, c.State())
}

func TestHandleDropsPermanentFailures(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, body []byte) error {
		return apperrors.Permanent(errors.New("bad payload"))
	})
	acker := &fakeAcker{}
	pub := &fakeRepublisher{}

	c.handle(context.Background(), pub, delivery(acker, nil))

	assert.Zero(t, acker.acks)
	assert.Equal(t, 1, acker.nacks)
	assert.False(t, acker.requeued)
	assert.Empty(t, pub.sent)
}

func TestHandleSchedulesRetryForTransientFailures(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, body []byte) error {
		return apperrors.Transient(errors.New("db down"))
	})
	acker := &fakeAcker{}
	pub := &fakeRepublisher{}

	c.handle(context.Background(), pub, delivery(acker, amqp.Table{RetryCountHeader: int32(1), "X-Request-ID": "req-9"}))

	require.Len(t, pub.sent, 1)
	out := pub.sent[0]
	assert.Equal(t, "notifications.retry", out.key)
	assert.Equal(t, int32(2), out.msg.Headers[RetryCountHeader])
	assert.Equal(t, "req-9", out.msg.Headers["X-Request-ID"])
	assert.Equal(t, "2000", out.msg.Expiration)
	assert.Equal(t, "m-1", out.msg.MessageId)
	assert.Equal(t, uint8(amqp.Persistent), out.msg.DeliveryMode)
	assert.Equal(t, 1, acker.acks)
	assert.Zero(t, acker.nacks)
}

func TestHandleUnclassifiedErrorsAreRetried(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, body []byte) error {
		return errors.New("timeout")
	})
	pub := &fakeRepublisher{}

	c.handle(context.Background(), pub, delivery(&fakeAcker{}, nil))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "notifications.retry", pub.sent[0].key)
	assert.Equal(t, int32(1), pub.sent[0].msg.Headers[RetryCountHeader])
	assert.Equal(t, "1000", pub.sent[0].msg.Expiration)
}

func TestHandleDeadLettersAfterMaxRetries(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, body []byte) error {
		return apperrors.Transient(errors.New("still down"))
	})
	acker := &fakeAcker{}
	pub := &fakeRepublisher{}

	c.handle(context.Background(), pub, delivery(acker, amqp.Table{RetryCountHeader: int64(3)}))

	require.Len(t, pub.sent, 1)
	out := pub.sent[0]
	assert.Equal(t, "notifications.dead", out.key)
	assert.Empty(t, out.msg.Expiration)
	assert.Contains(t, out.msg.Headers[DeathReasonHeader], "still down")
	assert.Equal(t, 1, acker.acks)
}

func TestHandleRequeuesWhenRepublishFails(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, body []byte) error {
		return apperrors.Transient(errors.New("db down"))
	})
	acker := &fakeAcker{}
	pub := &fakeRepublisher{err: errors.New("channel closed")}

	c.handle(context.Background(), pub, delivery(acker, nil))

	assert.Zero(t, acker.acks)
	assert.Equal(t, 1, acker.nacks)
	assert.True(t, acker.requeued)
}

func TestRetryDelayIsExponentialAndCapped(t *testing.T) {
	c := newTestConsumer(nil)

	assert.Equal(t, time.Second, c.retryDelay(1))
	assert.Equal(t, 2*time.Second, c.retryDelay(2))
	assert.Equal(t, 4*time.Second, c.retryDelay(3))
	assert.Equal(t, 5*time.Second, c.retryDelay(4))
	assert.Equal(t, 5*time.Second, c.retryDelay(40))
}

func TestRetryCountParsesHeaderTypes(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 2, retryCount(amqp.Table{RetryCountHeader: int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{RetryCountHeader: int64(3)}))
	assert.Equal(t, 4, retryCount(amqp.Table{RetryCountHeader: "4"}))
	assert.Equal(t, 0, retryCount(amqp.Table{RetryCountHeader: "x"}))
}

func TestStateString(t *testing.T) {
	c := newTestConsumer(nil)
	assert.Equal(t, "disconnected", c.State().String())
	assert.Equal(t, "processing", StateProcessing.String())
}

type recordingDeclarer struct {
	names []string
	args  []amqp.Table
}

func (r *recordingDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	r.names = append(r.names, name)
	r.args = append(r.args, args)
	return amqp.Queue{Name: name}, nil
}

func TestTopologyDeclare(t *testing.T) {
	d := &recordingDeclarer{}
	top := Topology{Queue: "q", RetryQueue: "q.retry", DeadLetterQueue: "q.dead"}

	require.NoError(t, top.Declare(d))
	assert.Equal(t, []string{"q", "q.retry", "q.dead"}, d.names)
	assert.Equal(t, "q", d.args[1]["x-dead-letter-routing-key"])
	assert.Equal(t, "", d.args[1]["x-dead-letter-exchange"])
}
