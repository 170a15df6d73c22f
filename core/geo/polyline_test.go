package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/organlink/core/model"
)

func TestDecodePolylineReferenceVector(t *testing.T) {
	pts, err := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	want := []model.Coord{{Lat: 38.5, Lng: -120.2}, {Lat: 40.7, Lng: -120.95}, {Lat: 43.252, Lng: -126.453}}
	require.Len(t, pts, len(want))
	for i := range want {
		assert.InDelta(t, want[i].Lat, pts[i].Lat, 1e-9)
		assert.InDelta(t, want[i].Lng, pts[i].Lng, 1e-9)
	}
}

func TestEncodePolylineReferenceVector(t *testing.T) {
	got := EncodePolyline([]model.Coord{{Lat: 38.5, Lng: -120.2}, {Lat: 40.7, Lng: -120.95}, {Lat: 43.252, Lng: -126.453}})
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", got)
}

func TestPolylineRoundTrip(t *testing.T) {
	in := []model.Coord{
		{Lat: 1.29027, Lng: 103.85195},
		{Lat: 1.30012, Lng: 103.83456},
		{Lat: -33.86785, Lng: 151.20732},
		{Lat: 0, Lng: 0},
		{Lat: 89.99999, Lng: -179.99999},
		{Lat: 1.2902712345, Lng: 103.8519549},
	}
	out, err := DecodePolyline(EncodePolyline(in))
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, math.Round(in[i].Lat*1e5)/1e5, out[i].Lat, 1e-9)
		assert.InDelta(t, math.Round(in[i].Lng*1e5)/1e5, out[i].Lng, 1e-9)
	}
}

func TestDecodePolylineEmpty(t *testing.T) {
	pts, err := DecodePolyline("")
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestDecodePolylineTruncated(t *testing.T) {
	for _, s := range []string{"_p~iF", "_p~iF~ps|", "_"} {
		_, err := DecodePolyline(s)
		if !errors.Is(err, ErrTruncatedPolyline) {
			t.Errorf("%q: expected truncated error, got %v", s, err)
		}
	}
}

func TestDecodePolylineInvalidCharacter(t *testing.T) {
	_, err := DecodePolyline("_p~iF\x10ps|U")
	assert.ErrorIs(t, err, ErrInvalidPolyline)
}
