package mqtt

import (
	"context"

	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/infra/logger"
	"github.com/kilianp07/organlink/internal/eventbus"
)

// Sender delivers a notice to a courier.
type Sender interface {
	Notify(ctx context.Context, n Notice) error
}

// Relay consumes delivery status messages and hands them to the courier
// bus. Notices without a driver (the searching state) are not relayed, and
// nothing is relayed while no notifier subscribes to the bus.
type Relay struct {
	bus *eventbus.TypedBus[Notice]
	log logger.Logger
}

func NewRelay(bus *eventbus.TypedBus[Notice], log logger.Logger) *Relay {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Relay{bus: bus, log: log}
}

// Handle is a messaging.Handler for the delivery status queue.
func (r *Relay) Handle(_ context.Context, m messaging.Message) error {
	ev, err := messaging.As[messaging.DeliveryStatusChanged](m)
	if err != nil {
		return err
	}
	if ev.DriverID == "" {
		return nil
	}
	n := Notice{
		DeliveryID: ev.DeliveryID,
		DriverID:   ev.DriverID,
		Status:     string(ev.Status),
		Progress:   ev.Progress,
		Timestamp:  m.OccurredAt,
	}
	if r.bus.Subscribers() == 0 {
		r.log.Debugf("courier notifications disabled, %s notice for %s dropped", n.Status, n.DeliveryID)
		return nil
	}
	if delivered := r.bus.Publish(n); delivered == 0 {
		r.log.Warnf("no courier subscriber took %s notice for %s", n.Status, n.DeliveryID)
	}
	return nil
}

// Forward sends every notice of sub through s until ctx is done or the bus
// closes. Failures are logged.
func Forward(ctx context.Context, sub <-chan Notice, s Sender, log logger.Logger) {
	if log == nil {
		log = logger.NopLogger{}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub:
			if !ok {
				return
			}
			if err := s.Notify(ctx, n); err != nil {
				log.Errorf("notify courier %s: %v", n.DriverID, err)
			}
		}
	}
}
