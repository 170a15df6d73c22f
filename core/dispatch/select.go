package dispatch

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/geo"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/metrics"
	"github.com/kilianp07/organlink/core/model"
)

// SelectDriver assigns an available driver to a searching delivery. Drivers
// stationed at originHospital come first, in random order. Otherwise the
// other hospitals are probed by ascending driving time from the origin.
// ErrNoDriver is returned when every hospital was probed in vain.
func (c *Coordinator) SelectDriver(ctx context.Context, deliveryID, originHospital string) (model.Driver, error) {
	const op = "select driver"
	if deliveryID == "" || originHospital == "" {
		return model.Driver{}, errs.Validation(op, "deliveryId and originHospital are required")
	}
	unlock, err := c.lockDelivery(ctx, deliveryID)
	if err != nil {
		return model.Driver{}, err
	}
	defer unlock()
	d, err := c.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		return model.Driver{}, fmt.Errorf("%s: %w", op, err)
	}
	if d.Status != model.StatusSearching {
		return model.Driver{}, errs.Conflict(op, "delivery %s is %s", deliveryID, d.Status)
	}
	drivers, err := c.drivers.ListDrivers(ctx)
	if err != nil {
		return model.Driver{}, fmt.Errorf("%s: %w", op, err)
	}

	ev := metrics.DriverSelectionEvent{DeliveryID: deliveryID, Hospital: originHospital, Time: c.now()}
	defer func() {
		if err := c.metrics.RecordDriverSelection(ev); err != nil {
			c.log.Warnf("record driver selection: %v", err)
		}
	}()

	ev.Probed = 1
	drv, ok, err := c.tryHospital(ctx, d, drivers, originHospital)
	if err != nil || ok {
		ev.DriverID, ev.Found = drv.DriverID, ok
		return drv, err
	}

	others := knownHospitals(drivers, originHospital)
	if len(others) == 0 {
		return model.Driver{}, ErrNoDriver
	}
	ordered, err := c.byDrivingTime(ctx, originHospital, others)
	if err != nil {
		return model.Driver{}, err
	}
	for _, h := range ordered {
		ev.Probed++
		drv, ok, err := c.tryHospital(ctx, d, drivers, h)
		if err != nil {
			return model.Driver{}, err
		}
		if ok {
			ev.DriverID, ev.Found, ev.Fallback = drv.DriverID, true, true
			c.log.Infof("delivery %s: driver %s found at %s", deliveryID, drv.DriverID, h)
			return drv, nil
		}
	}
	return model.Driver{}, ErrNoDriver
}

// DeliveryLockKey is the claim key serializing driver selection for one
// delivery. It shares the Claimer with driver claims.
func DeliveryLockKey(deliveryID string) string { return "delivery:" + deliveryID }

// lockDelivery claims the delivery for this selection only. A selection
// already running for the same delivery makes it a conflict.
func (c *Coordinator) lockDelivery(ctx context.Context, deliveryID string) (func(), error) {
	key, token := DeliveryLockKey(deliveryID), uuid.NewString()
	ok, err := c.claims.Claim(ctx, key, token)
	if err != nil {
		return nil, fmt.Errorf("lock delivery %s: %w", deliveryID, err)
	}
	if !ok {
		return nil, errs.Conflict("select driver", "driver selection for delivery %s already in progress", deliveryID)
	}
	return func() {
		if err := c.claims.Release(context.WithoutCancel(ctx), key, token); err != nil {
			c.log.Warnf("unlock delivery %s: %v", deliveryID, err)
		}
	}, nil
}

// byDrivingTime sorts hospitals by driving time from origin. Hospitals the
// provider cannot route to are probed last.
func (c *Coordinator) byDrivingTime(ctx context.Context, origin string, hospitals []string) ([]string, error) {
	from, err := c.maps.Geocode(ctx, origin)
	if err != nil {
		return nil, errs.Routing("select driver", fmt.Errorf("geocode %q: %w", origin, err))
	}
	durations := make([]float64, len(hospitals))
	for i, h := range hospitals {
		durations[i] = math.Inf(1)
		to, err := c.maps.Geocode(ctx, h)
		if err != nil {
			c.log.Warnf("geocode %q: %v", h, err)
			continue
		}
		secs, err := geo.RouteDurationSeconds(ctx, c.maps, from, to)
		if err != nil {
			c.log.Warnf("route %q -> %q: %v", origin, h, err)
			continue
		}
		durations[i] = float64(secs)
	}
	idx := make([]int, len(hospitals))
	floats.ArgsortStable(durations, idx)
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = hospitals[j]
	}
	return out, nil
}

// tryHospital assigns the first available driver of hospital whose claim
// succeeds.
func (c *Coordinator) tryHospital(ctx context.Context, d model.Delivery, drivers []model.Driver, hospital string) (model.Driver, bool, error) {
	candidates := available(drivers, hospital)
	c.shuffle(candidates)
	for _, drv := range candidates {
		ok, err := c.claims.Claim(ctx, drv.DriverID, d.DeliveryID)
		if err != nil {
			return model.Driver{}, false, fmt.Errorf("claim driver %s: %w", drv.DriverID, err)
		}
		if !ok {
			c.log.Debugf("driver %s already claimed", drv.DriverID)
			continue
		}
		if err := c.assign(ctx, d, drv); err != nil {
			return model.Driver{}, false, err
		}
		up := model.AssignTo(d.DeliveryID)
		drv.IsBooked, drv.AwaitingAcknowledgement, drv.CurrentAssignedDeliveryID =
			up.IsBooked, up.AwaitingAcknowledgement, up.CurrentAssignedDeliveryID
		return drv, true, nil
	}
	return model.Driver{}, false, nil
}

// assign books a claimed driver and moves the delivery to assigned. A failed
// store update rolls the claim back.
func (c *Coordinator) assign(ctx context.Context, d model.Delivery, drv model.Driver) error {
	if err := c.drivers.UpdateDriver(ctx, drv.DriverID, model.AssignTo(d.DeliveryID)); err != nil {
		c.releaseClaim(ctx, drv.DriverID, d.DeliveryID)
		return fmt.Errorf("book driver %s: %w", drv.DriverID, err)
	}
	status := model.StatusAssigned
	driverID := drv.DriverID
	if err := c.deliveries.UpdateDelivery(ctx, d.DeliveryID, model.DeliveryUpdate{Status: &status, DriverID: &driverID}); err != nil {
		if rerr := c.drivers.UpdateDriver(ctx, drv.DriverID, model.ReleaseUpdate()); rerr != nil {
			c.log.Errorf("unbook driver %s: %v", drv.DriverID, rerr)
		}
		c.releaseClaim(ctx, drv.DriverID, d.DeliveryID)
		return fmt.Errorf("assign delivery %s: %w", d.DeliveryID, err)
	}
	if err := c.pub.Publish(ctx, messaging.DeliveryStatusChanged{
		DeliveryID: d.DeliveryID,
		DriverID:   drv.DriverID,
		DoctorID:   d.DoctorID,
		From:       model.StatusSearching,
		Status:     model.StatusAssigned,
	}); err != nil {
		return errs.Messaging("assign driver", err)
	}
	if err := c.pub.Publish(ctx, messaging.Activity{
		Source:  Source,
		Subject: d.DeliveryID,
		Message: fmt.Sprintf("driver %s assigned", drv.DriverID),
	}); err != nil {
		c.log.Warnf("activity for delivery %s: %v", d.DeliveryID, err)
	}
	return nil
}

// Release clears the booking of a driver once deliveryID is over. A driver
// already moved on to another delivery is left untouched and reported as a
// conflict; a driver with no assignment is only unclaimed.
func (c *Coordinator) Release(ctx context.Context, driverID, deliveryID string) error {
	const op = "release driver"
	if driverID == "" || deliveryID == "" {
		return errs.Validation(op, "driverId and deliveryId are required")
	}
	drv, err := c.findDriver(ctx, op, driverID)
	if err != nil {
		return err
	}
	switch drv.CurrentAssignedDeliveryID {
	case deliveryID:
		if err := c.drivers.UpdateDriver(ctx, driverID, model.ReleaseUpdate()); err != nil {
			return fmt.Errorf("release driver %s: %w", driverID, err)
		}
	case "":
		c.log.Debugf("driver %s already released", driverID)
	default:
		return errs.Conflict(op, "driver %s is assigned to delivery %s, not %s",
			driverID, drv.CurrentAssignedDeliveryID, deliveryID)
	}
	c.releaseClaim(ctx, driverID, deliveryID)
	return nil
}

func (c *Coordinator) findDriver(ctx context.Context, op, driverID string) (model.Driver, error) {
	drivers, err := c.drivers.ListDrivers(ctx)
	if err != nil {
		return model.Driver{}, fmt.Errorf("list drivers: %w", err)
	}
	for _, d := range drivers {
		if d.DriverID == driverID {
			return d, nil
		}
	}
	return model.Driver{}, errs.NotFound(op, "driver %s", driverID)
}

func (c *Coordinator) releaseClaim(ctx context.Context, driverID, deliveryID string) {
	if err := c.claims.Release(ctx, driverID, deliveryID); err != nil {
		c.log.Warnf("release claim on %s: %v", driverID, err)
	}
}
