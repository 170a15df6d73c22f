package metrics

import "errors"

// MultiSink forwards every event to all its sinks. Every sink sees the event
// even when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) each(f func(Sink) error) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := f(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordMatchTest(ev MatchTestEvent) error {
	return m.each(func(s Sink) error { return s.RecordMatchTest(ev) })
}

func (m *MultiSink) RecordTransition(ev TransitionEvent) error {
	return m.each(func(s Sink) error { return s.RecordTransition(ev) })
}

func (m *MultiSink) RecordDriverSelection(ev DriverSelectionEvent) error {
	return m.each(func(s Sink) error { return s.RecordDriverSelection(ev) })
}

func (m *MultiSink) RecordMessage(ev MessageEvent) error {
	return m.each(func(s Sink) error { return s.RecordMessage(ev) })
}

func (m *MultiSink) RecordPosition(ev PositionEvent) error {
	return m.each(func(s Sink) error { return s.RecordPosition(ev) })
}
