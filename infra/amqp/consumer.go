package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/metrics"
	"github.com/kilianp07/organlink/infra/logger"
)

// Headers set on dead-lettered messages.
const (
	HeaderDeathReason = "x-death-reason"
	HeaderDeathQueue  = "x-death-queue"
)

// Consumer runs handlers on queues with manual acknowledgement. Failed
// messages are republished with an incremented retry count until the policy
// gives up, then moved to the dead-letter exchange.
type Consumer struct {
	conn     *ConnectionManager
	pub      RawPublisher
	policy   messaging.RetryPolicy
	prefetch int
	backoff  time.Duration
	sink     metrics.MessageRecorder
	log      logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewConsumer returns a Consumer. Retries and dead letters go through pub.
func NewConsumer(conn *ConnectionManager, pub RawPublisher, policy messaging.RetryPolicy, prefetch int, sink metrics.MessageRecorder, log logger.Logger) *Consumer {
	if log == nil {
		log = logger.NopLogger{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	backoff := 5 * time.Second
	if conn != nil && conn.backoff > 0 {
		backoff = conn.backoff
	}
	return &Consumer{
		conn:     conn,
		pub:      pub,
		policy:   policy,
		prefetch: prefetch,
		backoff:  backoff,
		sink:     sink,
		log:      log,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run consumes queue until ctx is done. A closed delivery channel triggers a
// new channel after the reconnect backoff.
func (c *Consumer) Run(ctx context.Context, queue string, h messaging.Handler) error {
	log := c.log.With("queue", queue)
	for {
		err := c.consume(ctx, queue, h)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Warnf("consumer stopped: %v", err)
		} else {
			log.Warnf("delivery channel closed")
		}
		if err := c.sleep(ctx, c.backoff); err != nil {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, queue string, h messaging.Handler) error {
	ch, err := c.conn.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return errs.Messaging("set qos", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return errs.Messaging("consume "+queue, err)
	}
	c.log.Infof("consuming %s", queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.Handle(ctx, queue, d, h)
		}
	}
}

// Handle processes one delivery and settles it. It returns the decision that
// was applied.
func (c *Consumer) Handle(ctx context.Context, queue string, d amqp.Delivery, h messaging.Handler) messaging.Decision {
	start := time.Now()
	count := RetryCount(d.Headers)
	msg, err := messaging.Decode(d.Body)
	if err == nil {
		if msg.RetryCount > count {
			count = msg.RetryCount
		}
		err = c.invoke(ctx, h, msg)
	}
	decision := c.policy.Decide(count, err)
	log := c.log.With("queue", queue)

	switch decision {
	case messaging.Ack:
		c.ack(log, d)
	case messaging.Retry:
		log.Warnf("message %s failed (attempt %d): %v", msg.ID, count+1, err)
		if rerr := c.retry(ctx, d, msg, count); rerr != nil {
			log.Errorf("republish: %v", rerr)
			if nerr := d.Nack(false, true); nerr != nil {
				log.Errorf("nack: %v", nerr)
			}
		} else {
			c.ack(log, d)
		}
	case messaging.DeadLetter:
		log.Errorf("dead-lettering message after %d attempt(s): %v", count+1, err)
		if derr := c.deadLetter(ctx, queue, d, err); derr != nil {
			log.Errorf("dead-letter: %v", derr)
			if nerr := d.Nack(false, true); nerr != nil {
				log.Errorf("nack: %v", nerr)
			}
		} else {
			c.ack(log, d)
		}
	}

	if merr := c.sink.RecordMessage(metrics.MessageEvent{
		Queue:    queue,
		Decision: decision.String(),
		Latency:  time.Since(start),
		Time:     time.Now(),
	}); merr != nil {
		log.Warnf("record message metric: %v", merr)
	}
	return decision
}

func (c *Consumer) invoke(ctx context.Context, h messaging.Handler, m messaging.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.E(errs.KindInternal, "handle "+string(m.Kind), fmt.Errorf("panic: %v", r))
		}
	}()
	return h(ctx, m)
}

func (c *Consumer) ack(log logger.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Errorf("ack: %v", err)
	}
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, m messaging.Message, count int) error {
	if err := c.sleep(ctx, c.policy.Delay(count)); err != nil {
		return err
	}
	env := m.Envelope
	env.RetryCount = count + 1
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	headers := copyHeaders(d.Headers)
	headers[messaging.RetryHeader] = int32(count + 1)
	return c.pub.PublishRaw(ctx, d.Exchange, d.RoutingKey, body, headers)
}

func (c *Consumer) deadLetter(ctx context.Context, queue string, d amqp.Delivery, cause error) error {
	headers := copyHeaders(d.Headers)
	headers[HeaderDeathQueue] = queue
	if cause != nil {
		headers[HeaderDeathReason] = cause.Error()
	}
	return c.pub.PublishRaw(ctx, messaging.ExchangeDeadLetter, queue, d.Body, headers)
}

func copyHeaders(h amqp.Table) amqp.Table {
	out := make(amqp.Table, len(h)+2)
	for k, v := range h {
		out[k] = v
	}
	return out
}

// RetryCount reads the retry header. Missing or malformed values count as
// zero.
func RetryCount(h amqp.Table) int {
	v, ok := h[messaging.RetryHeader]
	if !ok {
		return 0
	}
	var n int
	switch t := v.(type) {
	case int:
		n = t
	case int8:
		n = int(t)
	case int16:
		n = int(t)
	case int32:
		n = int(t)
	case int64:
		n = int(t)
	case uint8:
		n = int(t)
	case uint16:
		n = int(t)
	case uint32:
		n = int(t)
	case float64:
		n = int(t)
	case string:
		n, _ = strconv.Atoi(t)
	}
	if n < 0 {
		return 0
	}
	return n
}
