package geo

import (
	"math"

	"github.com/rendis/circletap/internal/model"
)

const (
	// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
	EarthRadiusMeters = 6371000.0
	// KmPerDegree is the flat-Earth approximation of one degree of latitude.
	KmPerDegree = 111.0
)

func toRad(deg float64) float64 { return deg * math.Pi / 180.0 }

// HaversineDistance returns the great-circle distance in meters.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Distance is HaversineDistance over two points.
func Distance(a, b model.LatLng) float64 {
	return HaversineDistance(a.Lat, a.Lng, b.Lat, b.Lng)
}

// OffsetCoordinates moves a point dxKm east and dyKm north using a local
// flat-Earth approximation. Not valid near the poles.
func OffsetCoordinates(lat, lng, dxKm, dyKm float64) model.LatLng {
	return model.LatLng{
		Lat: lat + dyKm/KmPerDegree,
		// Adjust longitude span for the parallel's circumference
		Lng: lng + dxKm/(KmPerDegree*math.Cos(toRad(lat))),
	}
}
