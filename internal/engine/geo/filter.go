package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/rendis/circletap/internal/model"
)

// WithinCircle reports whether p lies inside or exactly on the circle boundary.
func WithinCircle(c model.Circle, p model.LatLng) bool {
	return Distance(c.Center, p) <= c.RadiusMeters
}

// FilterWithinCircle keeps the places inside c, preserving order. The second
// return value is the number of places dropped.
func FilterWithinCircle(c model.Circle, places []model.Place) ([]model.Place, int) {
	kept := make([]model.Place, 0, len(places))
	for _, p := range places {
		if WithinCircle(c, p.Location) {
			kept = append(kept, p)
		}
	}
	return kept, len(places) - len(kept)
}

// Ring approximates the circle boundary as a closed polygon ring.
func Ring(c model.Circle, segments int) orb.Ring {
	if segments < 8 {
		segments = 8
	}
	radiusKm := c.RadiusMeters / 1000
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		p := OffsetCoordinates(c.Center.Lat, c.Center.Lng, radiusKm*math.Cos(theta), radiusKm*math.Sin(theta))
		ring = append(ring, orb.Point{p.Lng, p.Lat}) // orb.Point is [lng, lat]
	}
	ring = append(ring, ring[0])
	return ring
}

// Bound returns the bounding box of the circle.
func Bound(c model.Circle) orb.Bound {
	return Ring(c, 64).Bound()
}

// BoundOf returns the bounding box of a set of places.
func BoundOf(places []model.Place) orb.Bound {
	mp := make(orb.MultiPoint, 0, len(places))
	for _, p := range places {
		mp = append(mp, orb.Point{p.Location.Lng, p.Location.Lat})
	}
	return mp.Bound()
}

// InsideRing is a planar containment test, used for coarse viewport checks.
func InsideRing(ring orb.Ring, p model.LatLng) bool {
	return planar.RingContains(ring, orb.Point{p.Lng, p.Lat})
}
