package amqp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/infra/logger"
)

// RawPublisher publishes an already encoded body.
type RawPublisher interface {
	PublishRaw(ctx context.Context, exchange, key string, body []byte, headers amqp.Table) error
}

// Publisher publishes events on a channel obtained from a ConnectionManager.
// The channel is reopened after a failed publish.
type Publisher struct {
	conn *ConnectionManager
	log  logger.Logger
	now  func() time.Time

	mu sync.Mutex
	ch Channel
}

// NewPublisher returns a Publisher using conn.
func NewPublisher(conn *ConnectionManager, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Publisher{conn: conn, log: log, now: time.Now}
}

// Publish encodes e and sends it to the route it declares.
func (p *Publisher) Publish(ctx context.Context, e messaging.Event) error {
	body, err := messaging.Encode(e, p.now())
	if err != nil {
		return err
	}
	r := e.Route()
	if err := p.PublishRaw(ctx, r.Exchange, r.Key, body, nil); err != nil {
		return err
	}
	p.log.Debugf("published %s to %s/%s", e.Kind(), r.Exchange, r.Key)
	return nil
}

// PublishRaw sends body as a persistent JSON message.
func (p *Publisher) PublishRaw(ctx context.Context, exchange, key string, body []byte, headers amqp.Table) error {
	const op = "publish"
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		ch, err := p.conn.Channel(ctx)
		if err != nil {
			return errs.Messaging(op, err)
		}
		p.ch = ch
	}
	msg := amqp.Publishing{
		ContentType:  messaging.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now().UTC(),
		Headers:      headers,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		_ = p.ch.Close()
		p.ch = nil
		return errs.Messaging(op, err)
	}
	return nil
}

// Close closes the publishing channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
