// Package dispatch creates deliveries for confirmed orders and assigns them
// a courier, preferring drivers stationed at the pickup hospital and falling
// back to the nearest other hospitals by driving time.
package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/geo"
	"github.com/kilianp07/organlink/core/logger"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/metrics"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/store"
)

// Source names this component in activity and error events.
const Source = "select_driver"

// ErrNoDriver is returned when no hospital has an available driver.
var ErrNoDriver = errs.NotFound("select driver", "no available driver")

// Coordinator creates deliveries and assigns drivers to them.
type Coordinator struct {
	drivers    store.DriverStore
	deliveries store.DeliveryStore
	maps       geo.MapProvider
	claims     Claimer
	pub        messaging.Publisher
	metrics    metrics.DriverSelectionRecorder
	log        logger.Logger

	shuffle func([]model.Driver)
	now     func() time.Time
}

// New wires a Coordinator. A nil claimer defaults to a MemoryClaimer.
func New(s store.Stores, maps geo.MapProvider, claims Claimer, pub messaging.Publisher,
	sink metrics.DriverSelectionRecorder, log logger.Logger) *Coordinator {
	if claims == nil {
		claims = NewMemoryClaimer()
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Coordinator{
		drivers:    s.Drivers,
		deliveries: s.Deliveries,
		maps:       maps,
		claims:     claims,
		pub:        pub,
		metrics:    sink,
		log:        log,
		shuffle: func(d []model.Driver) {
			rand.Shuffle(len(d), func(i, j int) { d[i], d[j] = d[j], d[i] })
		},
		now: time.Now,
	}
}

// DeliveryIDFor derives the delivery id of an order so that a redelivered
// order-created event maps to the same delivery.
func DeliveryIDFor(orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("delivery:"+orderID)).String()
}

// CreateDelivery geocodes the order's hospitals, fetches the initial route
// and persists the delivery in the searching state. The driver search itself
// is requested asynchronously.
func (c *Coordinator) CreateDelivery(ctx context.Context, order model.Order) (model.Delivery, error) {
	const op = "create delivery"
	if order.OrderID == "" || order.StartHospital == "" || order.EndHospital == "" {
		return model.Delivery{}, errs.Validation(op, "orderId, startHospital and endHospital are required")
	}
	id := DeliveryIDFor(order.OrderID)
	existing, err := c.deliveries.GetDelivery(ctx, id)
	switch {
	case err == nil:
		if existing.Status != model.StatusSearching {
			return existing, nil
		}
		c.log.Infof("delivery %s already exists, requesting driver again", id)
		return existing, c.requestDriver(ctx, existing)
	case !errs.Is(err, errs.KindNotFound):
		return model.Delivery{}, fmt.Errorf("%s: %w", op, err)
	}

	pickup, err := c.maps.Geocode(ctx, order.StartHospital)
	if err != nil {
		return model.Delivery{}, errs.Routing(op, fmt.Errorf("geocode %q: %w", order.StartHospital, err))
	}
	dest, err := c.maps.Geocode(ctx, order.EndHospital)
	if err != nil {
		return model.Delivery{}, errs.Routing(op, fmt.Errorf("geocode %q: %w", order.EndHospital, err))
	}
	route, err := c.maps.Route(ctx, pickup, dest)
	if err != nil {
		return model.Delivery{}, errs.Routing(op, err)
	}

	now := c.now().UTC()
	d := model.Delivery{
		DeliveryID:       id,
		OrderID:          order.OrderID,
		MatchID:          order.MatchID,
		Pickup:           order.StartHospital,
		Destination:      order.EndHospital,
		PickupCoord:      pickup,
		DestinationCoord: dest,
		Polyline:         route.Polyline,
		Status:           model.StatusSearching,
		DoctorID:         order.DoctorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.deliveries.CreateDelivery(ctx, d); err != nil {
		return model.Delivery{}, fmt.Errorf("%s: %w", op, err)
	}
	c.log.Infow("delivery created", map[string]any{
		"delivery_id": d.DeliveryID,
		"order_id":    d.OrderID,
		"duration_s":  route.DurationSeconds,
	})
	if err := c.pub.Publish(ctx, messaging.DeliveryStatusChanged{
		DeliveryID: d.DeliveryID,
		DoctorID:   d.DoctorID,
		Status:     model.StatusSearching,
	}); err != nil {
		return d, errs.Messaging(op, err)
	}
	return d, c.requestDriver(ctx, d)
}

func (c *Coordinator) requestDriver(ctx context.Context, d model.Delivery) error {
	if err := c.pub.Publish(ctx, messaging.DriverRequested{DeliveryID: d.DeliveryID, OriginHospital: d.Pickup}); err != nil {
		return errs.Messaging("request driver", err)
	}
	return nil
}

// HandleOrderCreated creates the delivery of a newly confirmed order.
func (c *Coordinator) HandleOrderCreated(ctx context.Context, msg messaging.Message) error {
	ev, err := messaging.As[messaging.OrderCreated](msg)
	if err != nil {
		return err
	}
	if _, err := c.CreateDelivery(ctx, ev.Order); err != nil {
		return c.asyncFailure(ctx, err, msg.Body)
	}
	return nil
}

// HandleDriverRequest selects a driver for the requested delivery.
func (c *Coordinator) HandleDriverRequest(ctx context.Context, msg messaging.Message) error {
	ev, err := messaging.As[messaging.DriverRequested](msg)
	if err != nil {
		return err
	}
	if _, err := c.SelectDriver(ctx, ev.DeliveryID, ev.OriginHospital); err != nil {
		if errs.Is(err, errs.KindConflict) {
			c.log.Infof("delivery %s: %v", ev.DeliveryID, err)
			return nil
		}
		return c.asyncFailure(ctx, err, msg.Body)
	}
	return nil
}

// asyncFailure reports a failed asynchronous step. Broker failures and
// malformed input are returned for the retry policy; any other failure is
// published as an error event and the message acknowledged.
func (c *Coordinator) asyncFailure(ctx context.Context, err error, body []byte) error {
	if errs.Is(err, errs.KindMessaging) || errs.Is(err, errs.KindValidation) {
		return err
	}
	c.log.Errorf("%v", err)
	return c.pub.Publish(ctx, messaging.NewErrorRaised(Source, err, body))
}

func sameHospital(a, b string) bool {
	return geo.NormalizeAddress(a) == geo.NormalizeAddress(b)
}

func available(drivers []model.Driver, hospital string) []model.Driver {
	var out []model.Driver
	for _, d := range drivers {
		if d.Available() && sameHospital(d.StationedHospital, hospital) {
			out = append(out, d)
		}
	}
	return out
}

// knownHospitals returns the distinct hospitals drivers are stationed at,
// origin excluded, in first-seen order.
func knownHospitals(drivers []model.Driver, origin string) []string {
	seen := map[string]bool{geo.NormalizeAddress(origin): true}
	var out []string
	for _, d := range drivers {
		key := geo.NormalizeAddress(d.StationedHospital)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(d.StationedHospital))
	}
	return out
}
