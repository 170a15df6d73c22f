package geo

import (
	"math"

	"github.com/kilianp07/organlink/core/model"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// DefaultDeviationKm is the distance from the route beyond which a driver is
// considered off course (50 metres).
const DefaultDeviationKm = 0.05

// Haversine returns the great-circle distance between p1 and p2 in kilometres.
func Haversine(p1, p2 model.Coord) float64 {
	lat1 := p1.Lat * math.Pi / 180
	lat2 := p2.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (p2.Lng - p1.Lng) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// NearestDistance returns the smallest distance in kilometres from p to any
// route point and the index of that point. An empty route yields +Inf and -1.
func NearestDistance(route []model.Coord, p model.Coord) (float64, int) {
	best, idx := math.Inf(1), -1
	for i, rp := range route {
		if d := Haversine(rp, p); d < best {
			best, idx = d, i
		}
	}
	return best, idx
}

// IsDeviated reports whether driver is farther than thresholdKm from every
// point of the route.
func IsDeviated(route []model.Coord, driver model.Coord, thresholdKm float64) bool {
	d, _ := NearestDistance(route, driver)
	return d > thresholdKm
}

// Interpolate returns points from a to b (both included) spaced at most
// stepKm apart along the great circle approximation.
func Interpolate(a, b model.Coord, stepKm float64) []model.Coord {
	dist := Haversine(a, b)
	n := 1
	if stepKm > 0 {
		n = int(math.Ceil(dist / stepKm))
	}
	if n < 1 {
		n = 1
	}
	pts := make([]model.Coord, 0, n+1)
	for i := 0; i <= n; i++ {
		f := float64(i) / float64(n)
		pts = append(pts, model.Coord{
			Lat: a.Lat + (b.Lat-a.Lat)*f,
			Lng: a.Lng + (b.Lng-a.Lng)*f,
		})
	}
	return pts
}
