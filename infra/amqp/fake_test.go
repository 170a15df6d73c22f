package amqp

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type settlement struct {
	ack     bool
	nack    bool
	requeue bool
}

type fakeAcker struct {
	mu  sync.Mutex
	log []settlement
}

func (f *fakeAcker) Ack(uint64, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, settlement{ack: true})
	return nil
}

func (f *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, settlement{nack: true, requeue: requeue})
	return nil
}

func (f *fakeAcker) Reject(_ uint64, requeue bool) error {
	return f.Nack(0, false, requeue)
}

func (f *fakeAcker) last() settlement {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.log) == 0 {
		return settlement{}
	}
	return f.log[len(f.log)-1]
}

type published struct {
	exchange string
	key      string
	body     []byte
	headers  amqp.Table
}

type fakeRawPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeRawPublisher) PublishRaw(_ context.Context, exchange, key string, body []byte, headers amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{exchange, key, body, headers})
	return nil
}

func (f *fakeRawPublisher) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[len(f.msgs)-1]
}

type binding struct{ queue, key, exchange string }

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  map[string]string
	queues     []string
	bindings   []binding
	published  []published
	publishErr error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{exchanges: map[string]string{}}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges[name] = kind
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.exchanges[exchange]; !ok {
		return errors.New("unknown exchange " + exchange)
	}
	c.bindings = append(c.bindings, binding{name, key, exchange})
	return nil
}

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	ch := make(chan amqp.Delivery)
	close(ch)
	return ch, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{exchange, key, msg.Body, msg.Headers})
	return nil
}

func (c *fakeChannel) NotifyClose(ch chan *amqp.Error) chan *amqp.Error { return ch }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeConn struct {
	mu       sync.Mutex
	channels []*fakeChannel
	closed   bool
	notify   chan *amqp.Error
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := newFakeChannel()
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyClose(ch chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = ch
	return ch
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
