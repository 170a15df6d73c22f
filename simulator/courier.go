// Package simulator drives a courier along the route of a delivery through
// the public API.
package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/organlink/core/geo"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/infra/logger"
)

// Acker acknowledges an assignment on behalf of the courier.
type Acker interface {
	Acknowledge(ctx context.Context, driverID, deliveryID string) error
}

// Courier walks a delivery polyline, one position report per interval.
type Courier struct {
	api      *APIClient
	acker    Acker
	interval time.Duration
	stepKm   float64
	log      logger.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewCourier returns a courier. acker may be nil.
func NewCourier(api *APIClient, acker Acker, interval time.Duration, stepKm float64, log logger.Logger) *Courier {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Courier{api: api, acker: acker, interval: interval, stepKm: stepKm, log: log, sleep: sleepCtx}
}

// Run waits for the delivery to be assigned, acknowledges it, reports every
// point of the route and completes the delivery.
func (c *Courier) Run(ctx context.Context, deliveryID string) (model.Delivery, error) {
	d, err := c.awaitDriver(ctx, deliveryID)
	if err != nil {
		return model.Delivery{}, err
	}
	log := c.log.With("delivery", deliveryID).With("driver", d.DriverID)
	if c.acker != nil {
		if err := c.acker.Acknowledge(ctx, d.DriverID, deliveryID); err != nil {
			return model.Delivery{}, fmt.Errorf("acknowledge: %w", err)
		}
		log.Infof("assignment acknowledged")
	}

	path, err := Path(d.Polyline, c.stepKm)
	if err != nil {
		return model.Delivery{}, err
	}
	for i, p := range path {
		res, err := c.api.Track(ctx, deliveryID, p)
		if err != nil {
			return model.Delivery{}, fmt.Errorf("report %d/%d: %w", i+1, len(path), err)
		}
		log.Debugw("position reported", map[string]any{
			"lat": p.Lat, "lng": p.Lng, "progress": res.Progress, "status": string(res.Delivery.Status),
		})
		if len(res.Transitions) > 0 {
			log.Infof("status %s at %.0f%%", res.Delivery.Status, res.Progress*100)
		}
		if i < len(path)-1 {
			if err := c.sleep(ctx, c.interval); err != nil {
				return model.Delivery{}, err
			}
		}
	}
	done, err := c.api.End(ctx, deliveryID, d.DriverID)
	if err != nil {
		return model.Delivery{}, fmt.Errorf("end delivery: %w", err)
	}
	log.Infof("delivery completed")
	return done, nil
}

func (c *Courier) awaitDriver(ctx context.Context, deliveryID string) (model.Delivery, error) {
	for {
		d, err := c.api.Delivery(ctx, deliveryID)
		if err != nil {
			return model.Delivery{}, err
		}
		switch {
		case d.Status == model.StatusCompleted:
			return model.Delivery{}, fmt.Errorf("delivery %s is already completed", deliveryID)
		case d.DriverID != "":
			return d, nil
		}
		c.log.Debugf("delivery %s has no driver yet", deliveryID)
		if err := c.sleep(ctx, c.interval); err != nil {
			return model.Delivery{}, err
		}
	}
}

// Path decodes polyline and inserts points so that two consecutive reports
// are at most stepKm apart.
func Path(polyline string, stepKm float64) ([]model.Coord, error) {
	pts, err := geo.DecodePolyline(polyline)
	if err != nil {
		return nil, fmt.Errorf("decode route: %w", err)
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("empty route")
	}
	out := []model.Coord{pts[0]}
	for i := 1; i < len(pts); i++ {
		seg := geo.Interpolate(pts[i-1], pts[i], stepKm)
		out = append(out, seg[1:]...)
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
