package amqp

import (
	"fmt"

	"github.com/kilianp07/organlink/core/messaging"
)

// DeclareTopology declares every exchange and queue of the pipeline with
// their bindings. Each work queue gets a dead-letter queue bound to the
// dead-letter exchange under the work queue's name. Declarations are
// idempotent.
func DeclareTopology(ch Channel) error {
	for _, ex := range messaging.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, ex.Kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
		}
	}
	for _, q := range messaging.Queues {
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
		if err := ch.QueueBind(q.Name, q.Key, q.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q.Name, err)
		}
		dlq := messaging.DeadLetterQueue(q.Name)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, q.Name, messaging.ExchangeDeadLetter, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", dlq, err)
		}
	}
	return nil
}
