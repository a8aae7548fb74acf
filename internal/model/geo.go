package model

import (
	"fmt"
	"math"
)

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Finite reports whether both components are real numbers.
func (p LatLng) Finite() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0)
}

// Circle is the user-drawn query area.
type Circle struct {
	Center       LatLng  `json:"center"`
	RadiusMeters float64 `json:"radiusMeters"`
}

// Validate checks the circle against the configured radius ceiling.
func (c Circle) Validate(maxRadius float64) error {
	if !c.Center.Finite() {
		return fmt.Errorf("center (%v, %v) is not finite", c.Center.Lat, c.Center.Lng)
	}
	if c.Center.Lat < -90 || c.Center.Lat > 90 || c.Center.Lng < -180 || c.Center.Lng > 180 {
		return fmt.Errorf("center (%v, %v) out of range", c.Center.Lat, c.Center.Lng)
	}
	if math.IsNaN(c.RadiusMeters) || c.RadiusMeters <= 0 {
		return fmt.Errorf("radius %v must be positive", c.RadiusMeters)
	}
	if maxRadius > 0 && c.RadiusMeters > maxRadius {
		return fmt.Errorf("radius %.0fm exceeds maximum %.0fm", c.RadiusMeters, maxRadius)
	}
	return nil
}

// Direction names a quadrant sub-circle.
type Direction string

const (
	NW Direction = "NW"
	NE Direction = "NE"
	SW Direction = "SW"
	SE Direction = "SE"
)

// Directions is the fixed order sub-circles are produced in.
var Directions = [4]Direction{NW, NE, SW, SE}

// SubCircle is one of the four derived sampling circles.
type SubCircle struct {
	Direction    Direction `json:"direction"`
	Center       LatLng    `json:"center"`
	RadiusMeters float64   `json:"radiusMeters"`
}
