// Package messaging defines the message variants exchanged over the broker,
// the exchange and queue topology, the Publisher port and the bounded retry
// policy applied by consumers.
//
// Every message body is an Envelope whose payload is decoded into exactly one
// Event variant according to its kind. Unknown kinds and payloads failing
// validation are rejected with an errs.KindValidation error.
package messaging
