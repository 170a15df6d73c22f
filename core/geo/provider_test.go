package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/model"
)

type failingProvider struct{}

func (failingProvider) Geocode(context.Context, string) (model.Coord, error) {
	return model.Coord{}, errors.New("down")
}

func (failingProvider) Route(context.Context, model.Coord, model.Coord) (Route, error) {
	return Route{}, errors.New("down")
}

type countingProvider struct {
	MapProvider
	geocodes, routes int
}

func (c *countingProvider) Geocode(ctx context.Context, a string) (model.Coord, error) {
	c.geocodes++
	return c.MapProvider.Geocode(ctx, a)
}

func (c *countingProvider) Route(ctx context.Context, from, to model.Coord) (Route, error) {
	c.routes++
	return c.MapProvider.Route(ctx, from, to)
}

func TestRouteDurationSecondsProviderFailure(t *testing.T) {
	_, err := RouteDurationSeconds(context.Background(), failingProvider{}, paris, london)
	require.Error(t, err)
	assert.Equal(t, errs.KindRoutingProvider, errs.KindOf(err))
}

func TestProgress(t *testing.T) {
	p := NewStraightLineProvider(nil, 60)
	origin := model.Coord{Lat: 0, Lng: 0}
	dest := model.Coord{Lat: 0, Lng: 0.1}
	ctx := context.Background()

	assert.Zero(t, Progress(ctx, p, origin, dest, origin))
	assert.InDelta(t, 0.5, Progress(ctx, p, origin, dest, model.Coord{Lat: 0, Lng: 0.05}), 0.01)
	assert.Equal(t, 1.0, Progress(ctx, p, origin, dest, model.Coord{Lat: 0, Lng: 0.2}))
}

func TestProgressDegenerate(t *testing.T) {
	ctx := context.Background()
	assert.Zero(t, Progress(ctx, NewStraightLineProvider(nil, 0), paris, paris, london))
	assert.Zero(t, Progress(ctx, failingProvider{}, paris, london, lille))
}

func TestStraightLineProvider(t *testing.T) {
	p := NewStraightLineProvider(map[string]model.Coord{"General  Hospital": paris}, 0)
	c, err := p.Geocode(context.Background(), "general hospital")
	require.NoError(t, err)
	assert.Equal(t, paris, c)

	_, err = p.Geocode(context.Background(), "nowhere")
	assert.Equal(t, errs.KindRoutingProvider, errs.KindOf(err))

	r, err := p.Route(context.Background(), paris, lille)
	require.NoError(t, err)
	pts, err := DecodePolyline(r.Polyline)
	require.NoError(t, err)
	mid := model.Coord{Lat: (paris.Lat + lille.Lat) / 2, Lng: (paris.Lng + lille.Lng) / 2}
	assert.False(t, IsDeviated(pts, mid, DefaultDeviationKm))
	assert.Greater(t, r.DurationSeconds, 0)
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{MapProvider: NewStraightLineProvider(map[string]model.Coord{"A": paris}, 0)}
	p := NewCachedProvider(inner, NewMemoryCache(0), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.Geocode(ctx, " a ")
		require.NoError(t, err)
		_, err = p.Route(ctx, paris, london)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.geocodes)
	assert.Equal(t, 1, inner.routes)

	_, err := NewCachedProvider(failingProvider{}, NewMemoryCache(0), nil).Route(ctx, paris, london)
	assert.Error(t, err)
}
