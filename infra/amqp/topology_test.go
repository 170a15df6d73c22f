package amqp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/messaging"
)

func TestDeclareTopology(t *testing.T) {
	ch := newFakeChannel()
	require.NoError(t, DeclareTopology(ch))

	assert.Len(t, ch.exchanges, len(messaging.Exchanges))
	assert.Equal(t, "topic", ch.exchanges[messaging.ExchangeStatus])
	assert.Equal(t, "direct", ch.exchanges[messaging.ExchangeDeadLetter])
	assert.Len(t, ch.queues, 2*len(messaging.Queues))

	assert.Contains(t, ch.bindings, binding{messaging.QueueDeliveryStatus, "*.status", messaging.ExchangeStatus})
	assert.Contains(t, ch.bindings, binding{messaging.DeadLetterQueue(messaging.QueueError), messaging.QueueError, messaging.ExchangeDeadLetter})
}

func TestConnectionManagerRetriesDial(t *testing.T) {
	attempts := 0
	conn := &fakeConn{}
	m := NewConnectionManager(Config{ReconnectBackoff: time.Millisecond, MaxReconnectAttempts: 5}, nil)
	m.dial = func(string) (Connection, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("refused")
		}
		return conn, nil
	}

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 3, attempts)

	ch, err := m.Channel(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ch)
	assert.Equal(t, 3, attempts, "open connection is reused")
}

func TestConnectionManagerGivesUp(t *testing.T) {
	m := NewConnectionManager(Config{ReconnectBackoff: time.Millisecond, MaxReconnectAttempts: 2}, nil)
	m.dial = func(string) (Connection, error) { return nil, errors.New("refused") }

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindMessaging, errs.KindOf(err))
}

func TestConnectionManagerReconnectsClosedConnection(t *testing.T) {
	var conns []*fakeConn
	m := NewConnectionManager(Config{ReconnectBackoff: time.Millisecond}, nil)
	m.dial = func(string) (Connection, error) {
		c := &fakeConn{}
		conns = append(conns, c)
		return c, nil
	}
	require.NoError(t, m.Connect(context.Background()))
	_ = conns[0].Close()

	_, err := m.Channel(context.Background())
	require.NoError(t, err)
	assert.Len(t, conns, 2)
}

func (c *fakeConn) watched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify != nil
}

func (c *fakeConn) notifyChan() chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify
}

func TestWatchIgnoresCloseOfReplacedConnection(t *testing.T) {
	var mu sync.Mutex
	var conns []*fakeConn
	m := NewConnectionManager(Config{ReconnectBackoff: time.Millisecond}, nil)
	m.dial = func(string) (Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		c := &fakeConn{}
		conns = append(conns, c)
		return c, nil
	}
	dialed := func() []*fakeConn {
		mu.Lock()
		defer mu.Unlock()
		return append([]*fakeConn(nil), conns...)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	go m.Watch(ctx)
	require.Eventually(t, dialed()[0].watched, time.Second, time.Millisecond)

	_ = dialed()[0].Close()
	_, err := m.Channel(ctx)
	require.NoError(t, err)
	require.Len(t, dialed(), 2)

	dialed()[0].notifyChan() <- &amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"}
	require.Eventually(t, dialed()[1].watched, time.Second, time.Millisecond)
	assert.Len(t, dialed(), 2, "no extra dial")
	assert.False(t, dialed()[1].IsClosed())
	assert.True(t, m.Connected())
}

func TestConnectedDoesNotWaitForReconnect(t *testing.T) {
	hold := make(chan struct{})
	dialing := make(chan struct{}, 1)
	first := true
	m := NewConnectionManager(Config{ReconnectBackoff: time.Millisecond}, nil)
	m.dial = func(string) (Connection, error) {
		if first {
			first = false
			return &fakeConn{}, nil
		}
		dialing <- struct{}{}
		<-hold
		return &fakeConn{}, nil
	}
	require.NoError(t, m.Connect(context.Background()))

	done := make(chan error, 1)
	go func() { done <- m.Reconnect(context.Background()) }()
	<-dialing

	status := make(chan bool, 1)
	go func() { status <- m.Connected() }()
	select {
	case ok := <-status:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Connected blocked during reconnect")
	}
	close(hold)
	require.NoError(t, <-done)
	assert.True(t, m.Connected())
}

func TestPublisherResetsChannelOnFailure(t *testing.T) {
	conn := &fakeConn{}
	m := NewConnectionManager(Config{}, nil)
	m.dial = func(string) (Connection, error) { return conn, nil }
	p := NewPublisher(m, nil)

	require.NoError(t, p.Publish(context.Background(), messaging.MatchRequested{RecipientID: "r1"}))
	require.Len(t, conn.channels, 1)
	first := conn.channels[0]
	require.Len(t, first.published, 1)
	assert.Equal(t, messaging.ExchangeRequestOrgan, first.published[0].exchange)
	assert.Equal(t, messaging.KeyMatchRequest, first.published[0].key)

	first.publishErr = errors.New("channel closed")
	err := p.Publish(context.Background(), messaging.MatchRequested{RecipientID: "r2"})
	require.Error(t, err)
	assert.Equal(t, errs.KindMessaging, errs.KindOf(err))
	assert.True(t, first.closed)

	require.NoError(t, p.Publish(context.Background(), messaging.MatchRequested{RecipientID: "r3"}))
	assert.Len(t, conn.channels, 2)
}

func TestPublisherRejectsInvalidEvents(t *testing.T) {
	m := NewConnectionManager(Config{}, nil)
	m.dial = func(string) (Connection, error) { return &fakeConn{}, nil }
	p := NewPublisher(m, nil)

	err := p.Publish(context.Background(), messaging.MatchRequested{})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}
