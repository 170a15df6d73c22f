// Package tracking advances deliveries through their lifecycle from courier
// position reports and completes them on request.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/geo"
	"github.com/kilianp07/organlink/core/logger"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/metrics"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/store"
)

// Source names this component in activity and error events.
const Source = "track_delivery"

// Releaser frees the driver of a finished delivery.
type Releaser interface {
	Release(ctx context.Context, driverID, deliveryID string) error
}

// Sink is the subset of metrics the tracker reports.
type Sink interface {
	metrics.TransitionRecorder
	metrics.PositionRecorder
}

// Tracker applies position reports and completions to deliveries.
type Tracker struct {
	deliveries  store.DeliveryStore
	maps        geo.MapProvider
	drivers     Releaser
	pub         messaging.Publisher
	metrics     Sink
	log         logger.Logger
	deviationKm float64
	now         func() time.Time
}

// New wires a Tracker. A non-positive deviationKm selects
// geo.DefaultDeviationKm.
func New(deliveries store.DeliveryStore, maps geo.MapProvider, drivers Releaser, pub messaging.Publisher,
	sink Sink, log logger.Logger, deviationKm float64) *Tracker {
	if deviationKm <= 0 {
		deviationKm = geo.DefaultDeviationKm
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Tracker{
		deliveries:  deliveries,
		maps:        maps,
		drivers:     drivers,
		pub:         pub,
		metrics:     sink,
		log:         log,
		deviationKm: deviationKm,
		now:         time.Now,
	}
}

// TrackRequest is a courier position report.
type TrackRequest struct {
	DeliveryID  string      `json:"deliveryId"`
	DriverCoord model.Coord `json:"driverCoord"`
}

func (r TrackRequest) Validate() error {
	if r.DeliveryID == "" {
		return errs.Validation("track delivery", "deliveryId is required")
	}
	c := r.DriverCoord
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return errs.Validation("track delivery", "driverCoord %s out of range", c)
	}
	return nil
}

// TrackResult describes the effect of a position report.
type TrackResult struct {
	Delivery    model.Delivery         `json:"delivery"`
	Progress    float64                `json:"progress"`
	Deviated    bool                   `json:"deviated"`
	Transitions []model.DeliveryStatus `json:"transitions"`
}

// Track records the driver position of an active delivery. A driver off the
// stored route gets a new route to the destination; a routing failure blocks
// the whole update. Status advances with the progress along the route and
// each status entered is notified.
func (t *Tracker) Track(ctx context.Context, req TrackRequest) (TrackResult, error) {
	const op = "track delivery"
	if err := req.Validate(); err != nil {
		return TrackResult{}, err
	}
	d, err := t.deliveries.GetDelivery(ctx, req.DeliveryID)
	if err != nil {
		return TrackResult{}, fmt.Errorf("%s: %w", op, err)
	}
	switch d.Status {
	case model.StatusCompleted:
		return TrackResult{}, errs.Conflict(op, "delivery %s is completed", d.DeliveryID)
	case model.StatusSearching:
		return TrackResult{}, errs.Validation(op, "delivery %s has no driver yet", d.DeliveryID)
	}

	pos := req.DriverCoord
	route, err := geo.DecodePolyline(d.Polyline)
	if err != nil {
		t.log.Warnf("delivery %s: stored polyline unusable: %v", d.DeliveryID, err)
		route = nil
	}
	deviated := geo.IsDeviated(route, pos, t.deviationKm)
	polyline := d.Polyline
	if deviated {
		r, err := t.maps.Route(ctx, pos, d.DestinationCoord)
		if err != nil {
			return TrackResult{}, errs.Routing(op, fmt.Errorf("reroute delivery %s: %w", d.DeliveryID, err))
		}
		polyline = r.Polyline
	}

	p := geo.Progress(ctx, t.maps, d.PickupCoord, d.DestinationCoord, pos)
	steps := Advance(d.Status, p)
	from := d.Status

	update := model.DeliveryUpdate{Polyline: &polyline, DriverCoord: &pos}
	if len(steps) > 0 {
		final := steps[len(steps)-1]
		update.Status = &final
	}
	if err := t.deliveries.UpdateDelivery(ctx, d.DeliveryID, update); err != nil {
		return TrackResult{}, fmt.Errorf("%s: %w", op, err)
	}
	store.ApplyDeliveryUpdate(&d, update)

	now := t.now()
	if err := t.metrics.RecordPosition(metrics.PositionEvent{
		DeliveryID: d.DeliveryID,
		DriverID:   d.DriverID,
		Coord:      pos,
		Progress:   p,
		Deviated:   deviated,
		Time:       now,
	}); err != nil {
		t.log.Warnf("record position: %v", err)
	}
	if deviated {
		t.log.Infof("delivery %s rerouted, driver at %s", d.DeliveryID, pos)
		if err := t.pub.Publish(ctx, messaging.Activity{
			Source:  Source,
			Subject: d.DeliveryID,
			Message: fmt.Sprintf("driver deviated from route at %s, route recomputed", pos),
		}); err != nil {
			return TrackResult{}, errs.Messaging(op, err)
		}
	}
	prev := from
	for _, s := range steps {
		if err := t.notify(ctx, d, prev, s, p, now); err != nil {
			return TrackResult{}, err
		}
		prev = s
	}
	return TrackResult{Delivery: d, Progress: p, Deviated: deviated, Transitions: steps}, nil
}

func (t *Tracker) notify(ctx context.Context, d model.Delivery, from, to model.DeliveryStatus, p float64, at time.Time) error {
	if err := t.pub.Publish(ctx, messaging.DeliveryStatusChanged{
		DeliveryID:  d.DeliveryID,
		DriverID:    d.DriverID,
		DoctorID:    d.DoctorID,
		From:        from,
		Status:      to,
		Progress:    p,
		DriverCoord: d.DriverCoord,
	}); err != nil {
		return errs.Messaging("notify status", err)
	}
	if err := t.pub.Publish(ctx, messaging.Activity{
		Source:  Source,
		Subject: d.DeliveryID,
		Message: fmt.Sprintf("status %s -> %s at %.0f%%", from, to, p*100),
	}); err != nil {
		return errs.Messaging("notify status", err)
	}
	if err := t.metrics.RecordTransition(metrics.TransitionEvent{DeliveryID: d.DeliveryID, From: from, To: to, Time: at}); err != nil {
		t.log.Warnf("record transition: %v", err)
	}
	return nil
}

// EndRequest completes a delivery.
type EndRequest struct {
	DeliveryID string `json:"deliveryId"`
	DriverID   string `json:"driverId"`
}

// EndDelivery marks the delivery completed and releases its driver.
func (t *Tracker) EndDelivery(ctx context.Context, req EndRequest) (model.Delivery, error) {
	const op = "end delivery"
	if req.DeliveryID == "" || req.DriverID == "" {
		return model.Delivery{}, errs.Validation(op, "deliveryId and driverId are required")
	}
	d, err := t.deliveries.GetDelivery(ctx, req.DeliveryID)
	if err != nil {
		return model.Delivery{}, fmt.Errorf("%s: %w", op, err)
	}
	if d.Status == model.StatusCompleted {
		return model.Delivery{}, errs.Conflict(op, "delivery %s is already completed", d.DeliveryID)
	}
	if d.DriverID == "" {
		return model.Delivery{}, errs.Validation(op, "delivery %s has no driver yet", d.DeliveryID)
	}
	if d.DriverID != req.DriverID {
		return model.Delivery{}, errs.Conflict(op, "driver %s is not assigned to delivery %s", req.DriverID, d.DeliveryID)
	}

	completed := model.StatusCompleted
	if err := t.deliveries.UpdateDelivery(ctx, d.DeliveryID, model.DeliveryUpdate{Status: &completed}); err != nil {
		return model.Delivery{}, fmt.Errorf("%s: %w", op, err)
	}
	from := d.Status
	d.Status = completed
	if err := t.drivers.Release(ctx, req.DriverID, d.DeliveryID); err != nil {
		if !errs.Is(err, errs.KindConflict) {
			return model.Delivery{}, fmt.Errorf("%s: %w", op, err)
		}
		t.log.Warnf("delivery %s completed, driver kept: %v", d.DeliveryID, err)
	}
	if err := t.notify(ctx, d, from, completed, 1, t.now()); err != nil {
		return model.Delivery{}, err
	}
	t.log.Infof("delivery %s completed by %s", d.DeliveryID, req.DriverID)
	return d, nil
}
