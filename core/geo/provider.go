package geo

import (
	"context"
	"fmt"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/model"
)

// Route is a driving route between two coordinates.
type Route struct {
	Polyline        string `json:"polyline"`
	DurationSeconds int    `json:"durationSeconds"`
	DistanceMeters  int    `json:"distanceMeters"`
}

// MapProvider resolves addresses and computes driving routes.
type MapProvider interface {
	// Geocode resolves an address to a coordinate.
	Geocode(ctx context.Context, address string) (model.Coord, error)
	// Route returns the driving route from one coordinate to another.
	Route(ctx context.Context, from, to model.Coord) (Route, error)
}

// RouteDurationSeconds returns the driving time from a to b. Provider
// failures are reported as routing provider errors.
func RouteDurationSeconds(ctx context.Context, p MapProvider, a, b model.Coord) (int, error) {
	if a == b {
		return 0, nil
	}
	r, err := p.Route(ctx, a, b)
	if err != nil {
		if errs.Is(err, errs.KindRoutingProvider) {
			return 0, err
		}
		return 0, errs.Routing("route duration", err)
	}
	if r.DurationSeconds < 0 {
		return 0, errs.Routing("route duration", fmt.Errorf("negative duration %d", r.DurationSeconds))
	}
	return r.DurationSeconds, nil
}

// Progress estimates how far along the route from origin to destination the
// current position is, as the ratio of driving times. The result is clamped
// to [0,1]; it is 0 when the total duration is 0 or the provider fails.
func Progress(ctx context.Context, p MapProvider, origin, destination, current model.Coord) float64 {
	total, err := RouteDurationSeconds(ctx, p, origin, destination)
	if err != nil || total == 0 {
		return 0
	}
	done, err := RouteDurationSeconds(ctx, p, origin, current)
	if err != nil {
		return 0
	}
	return clamp01(float64(done) / float64(total))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
