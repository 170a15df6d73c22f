package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/organlink/core/errs"
)

// ContentType is the content type of every published body.
const ContentType = "application/json"

// Envelope is the wire form of a message.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	ID         string          `json:"id"`
	OccurredAt time.Time       `json:"occurredAt"`
	RetryCount int             `json:"retryCount,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Message is a decoded Envelope.
type Message struct {
	Envelope
	Event Event
	// Body is the raw message as received.
	Body []byte
}

// Handler processes one message. A nil error acknowledges it.
type Handler func(ctx context.Context, m Message) error

// Publisher publishes events to the route each event declares.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NewEnvelope wraps e in an Envelope with a fresh id.
func NewEnvelope(e Event, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return Envelope{Kind: e.Kind(), ID: uuid.NewString(), OccurredAt: now.UTC(), Payload: payload}, nil
}

// Encode validates e and returns its wire form.
func Encode(e Event, now time.Time) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	env, err := NewEnvelope(e, now)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

var decoders = map[Kind]func([]byte) (Event, error){
	KindMatchRequested:    decodeAs[MatchRequested],
	KindCompatibilityTest: decodeAs[CompatibilityTestRequested],
	KindTestResult:        decodeAs[TestResult],
	KindOrderCreated:      decodeAs[OrderCreated],
	KindDriverRequested:   decodeAs[DriverRequested],
	KindDeliveryStatus:    decodeAs[DeliveryStatusChanged],
	KindActivity:          decodeAs[Activity],
	KindError:             decodeAs[ErrorRaised],
}

func decodeAs[T Event](raw []byte) (Event, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode parses body into a Message. Malformed envelopes, unknown kinds and
// invalid payloads yield an errs.KindValidation error.
func Decode(body []byte) (Message, error) {
	const op = "decode message"
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Message{}, errs.E(errs.KindValidation, op, err)
	}
	dec, ok := decoders[env.Kind]
	if !ok {
		return Message{}, errs.Validation(op, "unknown kind %q", env.Kind)
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return Message{}, errs.Validation(op, "%s: missing payload", env.Kind)
	}
	ev, err := dec(env.Payload)
	if err != nil {
		return Message{}, errs.E(errs.KindValidation, op, fmt.Errorf("%s payload: %w", env.Kind, err))
	}
	if err := ev.Validate(); err != nil {
		return Message{}, err
	}
	return Message{Envelope: env, Event: ev, Body: body}, nil
}

// As returns the event of m as a T, or a validation error when m carries a
// different variant.
func As[T Event](m Message) (T, error) {
	v, ok := m.Event.(T)
	if !ok {
		var zero T
		return zero, errs.Validation("handle message", "unexpected %s message", m.Kind)
	}
	return v, nil
}
