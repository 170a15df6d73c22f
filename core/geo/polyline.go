package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kilianp07/organlink/core/model"
)

const polylinePrecision = 1e5

var (
	// ErrTruncatedPolyline is returned when the input ends inside a value.
	ErrTruncatedPolyline = errors.New("polyline: truncated input")
	// ErrInvalidPolyline is returned for characters outside the encoding alphabet.
	ErrInvalidPolyline = errors.New("polyline: invalid character")
)

// DecodePolyline decodes an encoded polyline into its ordered coordinates.
// Each value is a zig-zag encoded delta split into 5-bit groups, offset by 63,
// with 0x20 marking continuation.
func DecodePolyline(encoded string) ([]model.Coord, error) {
	coords := make([]model.Coord, 0, len(encoded)/4)
	var lat, lng int64
	for i := 0; i < len(encoded); {
		dlat, next, err := decodeValue(encoded, i)
		if err != nil {
			return nil, err
		}
		dlng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next
		lat += dlat
		lng += dlng
		coords = append(coords, model.Coord{
			Lat: float64(lat) / polylinePrecision,
			Lng: float64(lng) / polylinePrecision,
		})
	}
	return coords, nil
}

func decodeValue(s string, i int) (int64, int, error) {
	var result int64
	var shift uint
	for {
		if i >= len(s) {
			return 0, i, ErrTruncatedPolyline
		}
		b := int64(s[i]) - 63
		if b < 0 || b > 0x3f {
			return 0, i, fmt.Errorf("%w %q at %d", ErrInvalidPolyline, s[i], i)
		}
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
		if shift > 60 {
			return 0, i, fmt.Errorf("%w: value overflow at %d", ErrInvalidPolyline, i)
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

// EncodePolyline is the inverse of DecodePolyline at 5 decimal places.
func EncodePolyline(coords []model.Coord) string {
	var b strings.Builder
	var prevLat, prevLng int64
	for _, c := range coords {
		lat := int64(math.Round(c.Lat * polylinePrecision))
		lng := int64(math.Round(c.Lng * polylinePrecision))
		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

func encodeValue(b *strings.Builder, v int64) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		b.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	b.WriteByte(byte(u + 63))
}
