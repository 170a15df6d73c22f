package messaging

import (
	"time"

	"github.com/kilianp07/organlink/core/errs"
)

// RetryHeader carries the number of times a message was already retried.
const RetryHeader = "x-retry-count"

// Decision is the outcome of a handled message.
type Decision int

const (
	// Ack removes the message.
	Ack Decision = iota
	// Retry republishes the message with an incremented retry count and
	// acknowledges the original.
	Retry
	// DeadLetter publishes the message to the dead-letter exchange and
	// acknowledges the original.
	DeadLetter
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	default:
		return "dead_letter"
	}
}

// RetryPolicy bounds the number of times a failing handler sees a message.
type RetryPolicy struct {
	// MaxAttempts is the total number of handler invocations, first one
	// included.
	MaxAttempts int
	// Backoff is the delay before the first retry. It doubles on every
	// further retry, up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy allows three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

// Decide returns what to do with a message that was retried retryCount times
// and whose handler returned err. Validation errors are never retried.
func (p RetryPolicy) Decide(retryCount int, err error) Decision {
	if err == nil {
		return Ack
	}
	if !errs.Retryable(err) {
		return DeadLetter
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if retryCount+1 < attempts {
		return Retry
	}
	return DeadLetter
}

// Delay returns the wait before republishing a message retried retryCount
// times.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 0; i < retryCount; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
