package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/organlink/core/dispatch"
	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/geo"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/store"
)

var (
	pickup = model.Coord{Lat: 0, Lng: 0}
	dest   = model.Coord{Lat: 0, Lng: 0.1}
)

func TestNext(t *testing.T) {
	cases := []struct {
		from model.DeliveryStatus
		p    float64
		want model.DeliveryStatus
	}{
		{model.StatusSearching, 1, model.StatusSearching},
		{model.StatusAssigned, 0, model.StatusAssigned},
		{model.StatusAssigned, 0.01, model.StatusOnTheWay},
		{model.StatusOnTheWay, 0.5, model.StatusOnTheWay},
		{model.StatusOnTheWay, 0.51, model.StatusHalfway},
		{model.StatusHalfway, 0.75, model.StatusHalfway},
		{model.StatusHalfway, 0.76, model.StatusCloseBy},
		{model.StatusCloseBy, 0.94, model.StatusCloseBy},
		{model.StatusCloseBy, 0.95, model.StatusArrived},
		{model.StatusArrived, 1, model.StatusArrived},
		{model.StatusCompleted, 1, model.StatusCompleted},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Next(c.from, c.p), "%s at %.2f", c.from, c.p)
	}
}

func TestAdvanceCascades(t *testing.T) {
	assert.Equal(t,
		[]model.DeliveryStatus{model.StatusOnTheWay, model.StatusHalfway, model.StatusCloseBy, model.StatusArrived},
		Advance(model.StatusAssigned, 1))
	assert.Empty(t, Advance(model.StatusCloseBy, 0.2), "no regression")
	for _, s := range Advance(model.StatusOnTheWay, 0.8) {
		assert.True(t, model.StatusOnTheWay.Before(s))
	}
}

type releaser struct {
	released []string
	err      error
}

func (r *releaser) Release(_ context.Context, driverID, _ string) error {
	r.released = append(r.released, driverID)
	return r.err
}

type noRoutes struct{ geo.MapProvider }

func (noRoutes) Route(context.Context, model.Coord, model.Coord) (geo.Route, error) {
	return geo.Route{}, errors.New("quota exceeded")
}

type fixture struct {
	mem *store.Memory
	pub *messaging.Recorder
	rel *releaser
	tr  *Tracker
}

func newFixture(t *testing.T, status model.DeliveryStatus, maps geo.MapProvider) *fixture {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateDelivery(context.Background(), model.Delivery{
		DeliveryID:       "del-1",
		PickupCoord:      pickup,
		DestinationCoord: dest,
		Polyline:         geo.EncodePolyline(geo.Interpolate(pickup, dest, 0.025)),
		DriverID:         "drv-1",
		Status:           status,
	}))
	if maps == nil {
		maps = geo.NewStraightLineProvider(nil, 60)
	}
	pub := &messaging.Recorder{}
	rel := &releaser{}
	return &fixture{mem: mem, pub: pub, rel: rel, tr: New(mem, maps, rel, pub, nil, nil, 0)}
}

func (f *fixture) track(t *testing.T, lat, lng float64) TrackResult {
	t.Helper()
	res, err := f.tr.Track(context.Background(), TrackRequest{DeliveryID: "del-1", DriverCoord: model.Coord{Lat: lat, Lng: lng}})
	require.NoError(t, err)
	return res
}

func (f *fixture) statusKeys() []string {
	var keys []string
	for _, e := range f.pub.OfKind(messaging.KindDeliveryStatus) {
		keys = append(keys, e.Route().Key)
	}
	return keys
}

func TestTrackProgression(t *testing.T) {
	f := newFixture(t, model.StatusAssigned, nil)

	res := f.track(t, 0, 0.03)
	assert.False(t, res.Deviated)
	assert.InDelta(t, 0.3, res.Progress, 0.01)
	assert.Equal(t, []model.DeliveryStatus{model.StatusOnTheWay}, res.Transitions)

	res = f.track(t, 0, 0.08)
	assert.Equal(t, []model.DeliveryStatus{model.StatusHalfway, model.StatusCloseBy}, res.Transitions)

	res = f.track(t, 0, 0.02)
	assert.Empty(t, res.Transitions)
	assert.Equal(t, model.StatusCloseBy, res.Delivery.Status, "status never regresses")

	res = f.track(t, 0, 0.0999)
	assert.Equal(t, []model.DeliveryStatus{model.StatusArrived}, res.Transitions)

	assert.Equal(t, []string{"on_the_way.status", "halfway.status", "close_by.status", "arrived.status"}, f.statusKeys())
	assert.Len(t, f.pub.OfKind(messaging.KindActivity), 4)

	d, err := f.mem.GetDelivery(context.Background(), "del-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArrived, d.Status)
	require.NotNil(t, d.DriverCoord)
	assert.Equal(t, model.Coord{Lat: 0, Lng: 0.0999}, *d.DriverCoord)

	last := f.pub.OfKind(messaging.KindDeliveryStatus)[3].(messaging.DeliveryStatusChanged)
	assert.Equal(t, model.StatusCloseBy, last.From)
}

func TestTrackReroutesOnDeviation(t *testing.T) {
	f := newFixture(t, model.StatusOnTheWay, nil)
	before, _ := f.mem.GetDelivery(context.Background(), "del-1")

	res := f.track(t, 0.005, 0.02)
	assert.True(t, res.Deviated)
	assert.Empty(t, res.Transitions)
	assert.NotEqual(t, before.Polyline, res.Delivery.Polyline)

	pts, err := geo.DecodePolyline(res.Delivery.Polyline)
	require.NoError(t, err)
	assert.InDelta(t, 0.005, pts[0].Lat, 1e-5)
	assert.InDelta(t, 0.02, pts[0].Lng, 1e-5)
	assert.InDelta(t, dest.Lng, pts[len(pts)-1].Lng, 1e-5)

	stored, _ := f.mem.GetDelivery(context.Background(), "del-1")
	assert.Equal(t, res.Delivery.Polyline, stored.Polyline)
	assert.Equal(t, model.StatusOnTheWay, stored.Status)
}

func TestTrackRerouteFailureBlocksUpdate(t *testing.T) {
	f := newFixture(t, model.StatusOnTheWay, noRoutes{})
	_, err := f.tr.Track(context.Background(), TrackRequest{DeliveryID: "del-1", DriverCoord: model.Coord{Lat: 0.01, Lng: 0.05}})
	require.Error(t, err)
	assert.Equal(t, errs.KindRoutingProvider, errs.KindOf(err))
	assert.Equal(t, 500, errs.HTTPStatus(err))

	stored, _ := f.mem.GetDelivery(context.Background(), "del-1")
	assert.Nil(t, stored.DriverCoord)
	assert.Empty(t, f.pub.Events())
}

func TestTrackProviderFailureMeansNoProgress(t *testing.T) {
	f := newFixture(t, model.StatusAssigned, noRoutes{})
	res := f.track(t, 0, 0.05)
	assert.False(t, res.Deviated)
	assert.Zero(t, res.Progress)
	assert.Empty(t, res.Transitions)
	require.NotNil(t, res.Delivery.DriverCoord)
}

func TestTrackRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.StatusCompleted, nil)
	_, err := f.tr.Track(ctx, TrackRequest{DeliveryID: "del-1"})
	assert.Equal(t, 409, errs.HTTPStatus(err))

	f = newFixture(t, model.StatusSearching, nil)
	_, err = f.tr.Track(ctx, TrackRequest{DeliveryID: "del-1"})
	assert.Equal(t, 400, errs.HTTPStatus(err))

	_, err = f.tr.Track(ctx, TrackRequest{DeliveryID: "nope"})
	assert.Equal(t, 404, errs.HTTPStatus(err))

	_, err = f.tr.Track(ctx, TrackRequest{DeliveryID: "del-1", DriverCoord: model.Coord{Lat: 91}})
	assert.Equal(t, 400, errs.HTTPStatus(err))
}

func TestEndDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.StatusArrived, nil)

	_, err := f.tr.EndDelivery(ctx, EndRequest{DeliveryID: "del-1", DriverID: "someone-else"})
	assert.Equal(t, 409, errs.HTTPStatus(err))

	d, err := f.tr.EndDelivery(ctx, EndRequest{DeliveryID: "del-1", DriverID: "drv-1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, d.Status)
	assert.Equal(t, []string{"drv-1"}, f.rel.released)
	assert.Equal(t, []string{"completed.status"}, f.statusKeys())

	_, err = f.tr.EndDelivery(ctx, EndRequest{DeliveryID: "del-1", DriverID: "drv-1"})
	assert.Equal(t, 409, errs.HTTPStatus(err))

	_, err = f.tr.Track(ctx, TrackRequest{DeliveryID: "del-1", DriverCoord: dest})
	assert.Equal(t, 409, errs.HTTPStatus(err), "completed only through EndDelivery and final")
}

func TestEndDeliveryValidation(t *testing.T) {
	f := newFixture(t, model.StatusArrived, nil)
	_, err := f.tr.EndDelivery(context.Background(), EndRequest{DeliveryID: "del-1"})
	assert.Equal(t, 400, errs.HTTPStatus(err))
}

func TestEndDeliveryWithoutDriverKeepsOtherBooking(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.PutDriver(model.Driver{DriverID: "busy", StationedHospital: "General Hospital"})
	for _, id := range []string{"del-a", "del-b"} {
		require.NoError(t, mem.CreateDelivery(ctx, model.Delivery{
			DeliveryID:       id,
			Pickup:           "General Hospital",
			PickupCoord:      pickup,
			DestinationCoord: dest,
			Status:           model.StatusSearching,
		}))
	}
	maps := geo.NewStraightLineProvider(map[string]model.Coord{"General Hospital": pickup}, 60)
	pub := &messaging.Recorder{}
	coord := dispatch.New(mem.Stores(), maps, nil, pub, nil, nil)
	_, err := coord.SelectDriver(ctx, "del-a", "General Hospital")
	require.NoError(t, err)

	tr := New(mem, maps, coord, pub, nil, nil, 0)
	_, err = tr.EndDelivery(ctx, EndRequest{DeliveryID: "del-b", DriverID: "busy"})
	assert.Equal(t, 400, errs.HTTPStatus(err))

	drv, _ := mem.Driver("busy")
	assert.True(t, drv.IsBooked)
	assert.True(t, drv.AwaitingAcknowledgement)
	assert.Equal(t, "del-a", drv.CurrentAssignedDeliveryID)
	b, err := mem.GetDelivery(ctx, "del-b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSearching, b.Status)
}

func TestEndDeliveryReleaseConflictStillCompletes(t *testing.T) {
	f := newFixture(t, model.StatusArrived, nil)
	f.rel.err = errs.Conflict("release driver", "driver drv-1 is assigned to delivery del-9, not del-1")
	d, err := f.tr.EndDelivery(context.Background(), EndRequest{DeliveryID: "del-1", DriverID: "drv-1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, d.Status)

	f = newFixture(t, model.StatusArrived, nil)
	f.rel.err = errs.Downstream("release driver", errors.New("driver store down"))
	_, err = f.tr.EndDelivery(context.Background(), EndRequest{DeliveryID: "del-1", DriverID: "drv-1"})
	assert.Equal(t, errs.KindDownstream, errs.KindOf(err))
}

func TestTrackBrokerFailure(t *testing.T) {
	f := newFixture(t, model.StatusAssigned, nil)
	f.pub.Err = errors.New("channel closed")
	f.tr.now = func() time.Time { return time.Unix(0, 0) }
	_, err := f.tr.Track(context.Background(), TrackRequest{DeliveryID: "del-1", DriverCoord: model.Coord{Lat: 0, Lng: 0.03}})
	assert.Equal(t, errs.KindMessaging, errs.KindOf(err))
}
