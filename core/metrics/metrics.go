package metrics

import (
	"time"

	"github.com/kilianp07/organlink/core/model"
)

// MatchTestEvent is the outcome of one compatibility test run.
type MatchTestEvent struct {
	RecipientID string
	Candidates  int
	Qualified   int
	Time        time.Time
}

// TransitionEvent is a delivery status change.
type TransitionEvent struct {
	DeliveryID string
	From       model.DeliveryStatus
	To         model.DeliveryStatus
	Time       time.Time
}

// DriverSelectionEvent describes how a courier was found for a delivery.
type DriverSelectionEvent struct {
	DeliveryID string
	DriverID   string
	Hospital   string
	// Fallback is true when the driver came from another hospital.
	Fallback bool
	// Probed is the number of hospitals inspected.
	Probed int
	Found  bool
	Time   time.Time
}

// MessageEvent is the outcome of a consumed message.
type MessageEvent struct {
	Queue    string
	Decision string
	Latency  time.Duration
	Time     time.Time
}

// PositionEvent is a courier position report.
type PositionEvent struct {
	DeliveryID string
	DriverID   string
	Coord      model.Coord
	Progress   float64
	Deviated   bool
	Time       time.Time
}

type MatchTestRecorder interface {
	RecordMatchTest(ev MatchTestEvent) error
}

type TransitionRecorder interface {
	RecordTransition(ev TransitionEvent) error
}

type DriverSelectionRecorder interface {
	RecordDriverSelection(ev DriverSelectionEvent) error
}

type MessageRecorder interface {
	RecordMessage(ev MessageEvent) error
}

type PositionRecorder interface {
	RecordPosition(ev PositionEvent) error
}

// Sink records every event kind.
type Sink interface {
	MatchTestRecorder
	TransitionRecorder
	DriverSelectionRecorder
	MessageRecorder
	PositionRecorder
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) RecordMatchTest(MatchTestEvent) error             { return nil }
func (NopSink) RecordTransition(TransitionEvent) error           { return nil }
func (NopSink) RecordDriverSelection(DriverSelectionEvent) error { return nil }
func (NopSink) RecordMessage(MessageEvent) error                 { return nil }
func (NopSink) RecordPosition(PositionEvent) error               { return nil }
