package geo

import (
	"fmt"

	"github.com/rendis/circletap/internal/model"
)

// Ratios control sub-circle geometry relative to the main circle.
type Ratios struct {
	SubRadius float64 // sub-circle radius / main radius
	Offset    float64 // center offset (per axis) / main radius
}

// DefaultRatios are 70% radius and 50% offset.
var DefaultRatios = Ratios{SubRadius: 0.70, Offset: 0.50}

func (r Ratios) Validate() error {
	if r.SubRadius <= 0 || r.SubRadius > 1 {
		return fmt.Errorf("sub radius ratio %v must be in (0, 1]", r.SubRadius)
	}
	if r.Offset < 0 || r.Offset > 1 {
		return fmt.Errorf("offset ratio %v must be in [0, 1]", r.Offset)
	}
	return nil
}

// signs in (east, north) per direction.
var quadrantSigns = map[model.Direction][2]float64{
	model.NW: {-1, +1},
	model.NE: {+1, +1},
	model.SW: {-1, -1},
	model.SE: {+1, -1},
}

// Calculate4SubCircles derives the four quadrant circles from the main circle.
// Output order is always NW, NE, SW, SE.
func Calculate4SubCircles(centerLat, centerLng, radiusMeters float64, r Ratios) [4]model.SubCircle {
	radiusKm := radiusMeters / 1000
	subRadius := radiusKm * r.SubRadius * 1000
	offsetKm := radiusKm * r.Offset

	var out [4]model.SubCircle
	for i, d := range model.Directions {
		s := quadrantSigns[d]
		out[i] = model.SubCircle{
			Direction:    d,
			Center:       OffsetCoordinates(centerLat, centerLng, s[0]*offsetKm, s[1]*offsetKm),
			RadiusMeters: subRadius,
		}
	}
	return out
}

// SubCirclesOf is Calculate4SubCircles over a model.Circle.
func SubCirclesOf(c model.Circle, r Ratios) [4]model.SubCircle {
	return Calculate4SubCircles(c.Center.Lat, c.Center.Lng, c.RadiusMeters, r)
}
