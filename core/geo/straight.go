package geo

import (
	"context"
	"math"
	"strings"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/model"
)

// StraightLineProvider is an offline MapProvider. Addresses resolve through a
// fixed table and routes follow the straight segment between the endpoints,
// sampled densely enough for deviation checks.
type StraightLineProvider struct {
	places   map[string]model.Coord
	speedKmh float64
	stepKm   float64
}

// NewStraightLineProvider builds a provider for the given places travelling
// at speedKmh. A non-positive speed defaults to 40 km/h.
func NewStraightLineProvider(places map[string]model.Coord, speedKmh float64) *StraightLineProvider {
	if speedKmh <= 0 {
		speedKmh = 40
	}
	norm := make(map[string]model.Coord, len(places))
	for k, v := range places {
		norm[NormalizeAddress(k)] = v
	}
	return &StraightLineProvider{places: norm, speedKmh: speedKmh, stepKm: DefaultDeviationKm / 2}
}

func (p *StraightLineProvider) Geocode(_ context.Context, address string) (model.Coord, error) {
	c, ok := p.places[NormalizeAddress(address)]
	if !ok {
		return model.Coord{}, errs.E(errs.KindRoutingProvider, "geocode", errs.NotFound("geocode", "unknown address %q", address))
	}
	return c, nil
}

func (p *StraightLineProvider) Route(_ context.Context, from, to model.Coord) (Route, error) {
	km := Haversine(from, to)
	pts := Interpolate(from, to, p.stepKm)
	return Route{
		Polyline:        EncodePolyline(pts),
		DurationSeconds: int(math.Round(km / p.speedKmh * 3600)),
		DistanceMeters:  int(math.Round(km * 1000)),
	}, nil
}

// NormalizeAddress collapses whitespace and case so equivalent addresses
// share a cache key.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
