// Package amqp connects the pipeline to RabbitMQ: connection management with
// reconnection, topology declaration, publishing and consumption with the
// bounded retry policy.
package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/infra/logger"
)

// Config holds the broker settings.
type Config struct {
	URL                  string        `json:"url" koanf:"url"`
	Prefetch             int           `json:"prefetch" koanf:"prefetch"`
	ReconnectBackoff     time.Duration `json:"reconnect_backoff" koanf:"reconnect_backoff"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" koanf:"max_reconnect_attempts"`
	RetryMaxAttempts     int           `json:"retry_max_attempts" koanf:"retry_max_attempts"`
	RetryBackoff         time.Duration `json:"retry_backoff" koanf:"retry_backoff"`
}

// Channel is the subset of *amqp.Channel used by this package.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connection is the subset of *amqp.Connection used by this package.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

type amqpConn struct{ *amqp.Connection }

func (c amqpConn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Dialer opens a broker connection.
type Dialer func(url string) (Connection, error)

var dialAMQP Dialer = func(url string) (Connection, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConn{c}, nil
}

// ConnectionManager owns the broker connection. Publishers and consumers ask
// it for channels and it reconnects with a fixed backoff when the connection
// drops. Dialing is serialized on dialMu; mu only guards the current
// connection so status checks never wait for a reconnect.
type ConnectionManager struct {
	url         string
	dial        Dialer
	backoff     time.Duration
	maxAttempts int
	log         logger.Logger

	dialMu sync.Mutex
	mu     sync.Mutex
	conn   Connection
}

// NewConnectionManager builds a manager for cfg. It does not connect.
func NewConnectionManager(cfg Config, log logger.Logger) *ConnectionManager {
	if log == nil {
		log = logger.NopLogger{}
	}
	backoff := cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &ConnectionManager{url: cfg.URL, dial: dialAMQP, backoff: backoff, maxAttempts: cfg.MaxReconnectAttempts, log: log}
}

func (m *ConnectionManager) current() Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Connect dials the broker, retrying every backoff until it succeeds, the
// context ends or the configured number of attempts is spent.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	_, err := m.connect(ctx)
	return err
}

func (m *ConnectionManager) connect(ctx context.Context) (Connection, error) {
	if c := m.current(); c != nil && !c.IsClosed() {
		return c, nil
	}
	m.dialMu.Lock()
	defer m.dialMu.Unlock()
	return m.dialLocked(ctx)
}

// dialLocked requires dialMu.
func (m *ConnectionManager) dialLocked(ctx context.Context) (Connection, error) {
	if c := m.current(); c != nil && !c.IsClosed() {
		return c, nil
	}
	for attempt := 1; ; attempt++ {
		conn, err := m.dial(m.url)
		if err == nil {
			m.mu.Lock()
			m.conn = conn
			m.mu.Unlock()
			m.log.Infof("connected to broker after %d attempt(s)", attempt)
			return conn, nil
		}
		m.log.Warnf("broker connection attempt %d failed: %v", attempt, err)
		if m.maxAttempts > 0 && attempt >= m.maxAttempts {
			return nil, errs.Messaging("connect broker", fmt.Errorf("giving up after %d attempts: %w", attempt, err))
		}
		select {
		case <-ctx.Done():
			return nil, errs.Messaging("connect broker", ctx.Err())
		case <-time.After(m.backoff):
		}
	}
}

// Reconnect drops the current connection and dials again.
func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	_, err := m.replace(ctx, m.current())
	return err
}

// replace closes stale and dials a new connection. When stale is no longer
// the current connection another caller already replaced it and the
// current one is returned.
func (m *ConnectionManager) replace(ctx context.Context, stale Connection) (Connection, error) {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()
	m.mu.Lock()
	if m.conn != stale {
		conn := m.conn
		m.mu.Unlock()
		if conn != nil && !conn.IsClosed() {
			return conn, nil
		}
		return m.dialLocked(ctx)
	}
	m.conn = nil
	m.mu.Unlock()
	if stale != nil {
		_ = stale.Close()
	}
	return m.dialLocked(ctx)
}

// Channel opens a channel, reconnecting first when the connection is gone.
func (m *ConnectionManager) Channel(ctx context.Context) (Channel, error) {
	conn, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err == nil {
		return ch, nil
	}
	m.log.Warnf("open channel: %v, reconnecting", err)
	if conn, err = m.replace(ctx, conn); err != nil {
		return nil, err
	}
	ch, err = conn.Channel()
	if err != nil {
		return nil, errs.Messaging("open channel", err)
	}
	return ch, nil
}

// Watch reconnects whenever the broker closes the connection, until ctx is
// done. A close notification for a connection that was already replaced is
// ignored.
func (m *ConnectionManager) Watch(ctx context.Context) {
	for {
		conn, err := m.connect(ctx)
		if err != nil {
			return
		}
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			return
		case err, ok := <-closed:
			if !ok && ctx.Err() != nil {
				return
			}
			if m.current() != conn {
				m.log.Debugf("stale close notification: %v", err)
				continue
			}
			m.log.Warnf("broker connection closed: %v", err)
			if _, err := m.replace(ctx, conn); err != nil {
				m.log.Errorf("reconnect: %v", err)
				return
			}
		}
	}
}

// Connected reports whether the broker connection is open.
func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && !m.conn.IsClosed()
}

// Close closes the connection.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}
