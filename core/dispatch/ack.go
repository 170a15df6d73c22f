package dispatch

import (
	"context"
	"fmt"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/model"
)

// Acknowledge records that a courier accepted the delivery it was assigned.
// The driver stays booked and no longer awaits acknowledgement. Acknowledging
// a delivery the driver does not hold is a conflict; acknowledging twice is
// a no-op.
func (c *Coordinator) Acknowledge(ctx context.Context, driverID, deliveryID string) error {
	const op = "acknowledge delivery"
	if driverID == "" || deliveryID == "" {
		return errs.Validation(op, "driverId and deliveryId are required")
	}
	drv, err := c.findDriver(ctx, op, driverID)
	if err != nil {
		return err
	}
	if drv.CurrentAssignedDeliveryID != deliveryID {
		return errs.Conflict(op, "driver %s is not assigned to delivery %s", driverID, deliveryID)
	}
	if !drv.AwaitingAcknowledgement {
		return nil
	}
	up := model.DriverUpdate{IsBooked: true, CurrentAssignedDeliveryID: deliveryID}
	if err := c.drivers.UpdateDriver(ctx, driverID, up); err != nil {
		return fmt.Errorf("acknowledge driver %s: %w", driverID, err)
	}
	c.log.Infof("driver %s acknowledged delivery %s", driverID, deliveryID)
	if err := c.pub.Publish(ctx, messaging.Activity{
		Source:  Source,
		Subject: deliveryID,
		Message: fmt.Sprintf("driver %s acknowledged", driverID),
	}); err != nil {
		c.log.Warnf("activity for delivery %s: %v", deliveryID, err)
	}
	return nil
}
