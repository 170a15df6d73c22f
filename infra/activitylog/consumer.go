package activitylog

import (
	"context"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/infra/logger"
)

// Recorder turns activity and error messages into entries.
type Recorder struct {
	store Store
	log   logger.Logger
}

func NewRecorder(store Store, log logger.Logger) *Recorder {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Recorder{store: store, log: log}
}

// Handle is a messaging.Handler for the activity and error queues.
func (r *Recorder) Handle(ctx context.Context, m messaging.Message) error {
	e, err := EntryFor(m)
	if err != nil {
		return err
	}
	if e.Level == LevelError {
		r.log.Warnf("[%s] %s", e.Source, e.Message)
	} else {
		r.log.Debugf("[%s] %s", e.Source, e.Message)
	}
	if err := r.store.Append(ctx, e); err != nil {
		return errs.Downstream("append activity", err)
	}
	return nil
}

// EntryFor maps an Activity or ErrorRaised message to an Entry keyed by the
// message id.
func EntryFor(m messaging.Message) (Entry, error) {
	e := Entry{ID: m.ID, Time: m.OccurredAt}
	switch ev := m.Event.(type) {
	case messaging.Activity:
		e.Level = LevelInfo
		e.Source = ev.Source
		e.Subject = ev.Subject
		e.Message = ev.Message
	case messaging.ErrorRaised:
		e.Level = LevelError
		e.Source = ev.Source
		e.Message = ev.Error
		e.ErrorKind = ev.ErrorKind
		e.Payload = ev.Payload
	default:
		return Entry{}, errs.Validation("record activity", "unexpected %s message", m.Kind)
	}
	return e, nil
}
