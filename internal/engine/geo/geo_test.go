package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/circletap/internal/model"
)

var rome = model.LatLng{Lat: 41.9028, Lng: 12.4964}

func TestHaversineDistance(t *testing.T) {
	points := []model.LatLng{rome, {Lat: 0, Lng: 0}, {Lat: -33.8688, Lng: 151.2093}, {Lat: 40.7128, Lng: -74.006}}

	for _, p := range points {
		assert.Zero(t, HaversineDistance(p.Lat, p.Lng, p.Lat, p.Lng))
	}
	for _, a := range points {
		for _, b := range points {
			assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-6)
		}
	}

	// One degree of latitude is about 111.2 km on the mean sphere.
	assert.InDelta(t, 111195, HaversineDistance(0, 0, 1, 0), 1)
}

func TestOffsetCoordinates(t *testing.T) {
	t.Run("zero offset is identity", func(t *testing.T) {
		p := OffsetCoordinates(rome.Lat, rome.Lng, 0, 0)
		assert.Equal(t, rome, p)
	})

	t.Run("north only moves latitude", func(t *testing.T) {
		p := OffsetCoordinates(rome.Lat, rome.Lng, 0, 1.11)
		assert.InDelta(t, rome.Lat+0.01, p.Lat, 1e-12)
		assert.Equal(t, rome.Lng, p.Lng)
	})

	t.Run("longitude delta grows with latitude", func(t *testing.T) {
		eq := OffsetCoordinates(0, 0, 1, 0)
		high := OffsetCoordinates(60, 0, 1, 0)
		assert.Greater(t, high.Lng, eq.Lng)
		assert.InDelta(t, 2*eq.Lng, high.Lng, 1e-9)
	})
}

func TestCalculate4SubCircles(t *testing.T) {
	subs := Calculate4SubCircles(rome.Lat, rome.Lng, 1000, DefaultRatios)

	require.Len(t, subs, 4)
	assert.Equal(t, model.NW, subs[0].Direction)
	assert.Equal(t, model.NE, subs[1].Direction)
	assert.Equal(t, model.SW, subs[2].Direction)
	assert.Equal(t, model.SE, subs[3].Direction)

	for _, s := range subs {
		assert.InDelta(t, 700, s.RadiusMeters, 1e-9)
	}

	nw, ne, sw, se := subs[0].Center, subs[1].Center, subs[2].Center, subs[3].Center
	assert.Greater(t, nw.Lat, rome.Lat)
	assert.Less(t, nw.Lng, rome.Lng)
	assert.Greater(t, ne.Lat, rome.Lat)
	assert.Greater(t, ne.Lng, rome.Lng)
	assert.Less(t, sw.Lat, rome.Lat)
	assert.Less(t, sw.Lng, rome.Lng)
	assert.Less(t, se.Lat, rome.Lat)
	assert.Greater(t, se.Lng, rome.Lng)

	// 0.5 km north and west of the center.
	assert.InDelta(t, 41.90730, nw.Lat, 1e-4)
	assert.InDelta(t, 12.49035, nw.Lng, 1e-4)
	assert.InDelta(t, 500, HaversineDistance(rome.Lat, rome.Lng, nw.Lat, rome.Lng), 2)
}

func TestCalculate4SubCirclesDeterministic(t *testing.T) {
	c := model.Circle{Center: rome, RadiusMeters: 2500}
	assert.Equal(t, SubCirclesOf(c, DefaultRatios), SubCirclesOf(c, DefaultRatios))

	custom := SubCirclesOf(c, Ratios{SubRadius: 0.5, Offset: 0})
	for _, s := range custom {
		assert.Equal(t, rome, s.Center)
		assert.InDelta(t, 1250, s.RadiusMeters, 1e-9)
	}
}

func TestRatiosValidate(t *testing.T) {
	assert.NoError(t, DefaultRatios.Validate())
	assert.Error(t, Ratios{SubRadius: 0, Offset: 0.5}.Validate())
	assert.Error(t, Ratios{SubRadius: 1.2, Offset: 0.5}.Validate())
	assert.Error(t, Ratios{SubRadius: 0.7, Offset: -0.1}.Validate())
}

func TestWithinCircleBoundary(t *testing.T) {
	p := model.LatLng{Lat: 41.9100, Lng: 12.5050}
	d := Distance(rome, p)

	assert.True(t, WithinCircle(model.Circle{Center: rome, RadiusMeters: d}, p))
	assert.False(t, WithinCircle(model.Circle{Center: rome, RadiusMeters: d - 1}, p))
}

func TestFilterWithinCircle(t *testing.T) {
	c := model.Circle{Center: rome, RadiusMeters: 1000}
	places := []model.Place{
		{ID: "a", Location: rome},
		{ID: "far", Location: model.LatLng{Lat: 42.0, Lng: 12.6}},
		{ID: "b", Location: OffsetCoordinates(rome.Lat, rome.Lng, 0.3, 0.3)},
	}

	kept, dropped := FilterWithinCircle(c, places)
	assert.Equal(t, 1, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].ID)
	assert.Equal(t, "b", kept[1].ID)
}

func TestRingAndBound(t *testing.T) {
	c := model.Circle{Center: rome, RadiusMeters: 1000}
	ring := Ring(c, 32)
	require.Len(t, ring, 33)
	assert.Equal(t, ring[0], ring[len(ring)-1])

	b := Bound(c)
	assert.True(t, b.Contains(orb.Point{rome.Lng, rome.Lat}))
	assert.InDelta(t, 2.0/KmPerDegree, b.Max[1]-b.Min[1], 1e-3)

	assert.True(t, InsideRing(ring, rome))
	assert.False(t, InsideRing(ring, model.LatLng{Lat: 42.5, Lng: 12.4964}))
}

func TestGeocodeCenter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "nowhere" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[{"lat":"41.8933","lon":"12.4829","display_name":"Roma, Lazio, Italia"}]`)
	}))
	defer srv.Close()

	g := &Geocoder{BaseURL: srv.URL, Client: srv.Client()}

	p, name, err := g.GeocodeCenter(context.Background(), "Rome")
	require.NoError(t, err)
	assert.Equal(t, "Roma, Lazio, Italia", name)
	assert.InDelta(t, 41.8933, p.Lat, 1e-9)
	assert.InDelta(t, 12.4829, p.Lng, 1e-9)

	_, _, err = g.GeocodeCenter(context.Background(), "nowhere")
	assert.Error(t, err)
}
