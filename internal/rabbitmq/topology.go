package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names the queues used for notification delivery.
type Topology struct {
	Queue           string
	RetryQueue      string
	DeadLetterQueue string
}

type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

func declareQueue(ch queueDeclarer, name string, args amqp.Table) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// Declare creates the three durable queues. The retry queue has no consumer;
// messages expire there and are dead-lettered back to the main queue.
// Declaring is idempotent as long as the arguments do not change.
func (t Topology) Declare(ch queueDeclarer) error {
	if err := declareQueue(ch, t.Queue, nil); err != nil {
		return err
	}
	if err := declareQueue(ch, t.RetryQueue, t.retryArgs()); err != nil {
		return err
	}
	return declareQueue(ch, t.DeadLetterQueue, nil)
}

func (t Topology) retryArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.Queue,
	}
}
