// Package catalog holds the static table of category searches.
package catalog

import (
	"strings"

	"github.com/rendis/circletap/internal/model"
)

var foodExcluded = []string{
	"lodging", "meal_delivery", "meal_takeaway", "supermarket", "grocery_store",
	"convenience_store", "gas_station", "night_club", "casino",
}

var cultureExcluded = []string{
	"school", "primary_school", "secondary_school", "university", "city_hall",
	"local_government_office", "courthouse", "embassy", "library", "funeral_home",
	"cemetery", "gym", "physiotherapist", "dentist", "doctor",
}

var outdoorExcluded = []string{
	"campground", "rv_park", "camping_cabin", "golf_course", "stadium",
	"playground", "lodging", "hotel",
}

// FallbackIncludedType is used when an override leaves no included types.
const FallbackIncludedType = "restaurant"

func offset(lat, lng float64) *model.LatLng { return &model.LatLng{Lat: lat, Lng: lng} }

func food(id int, label, color string, off *model.LatLng) model.SearchSpec {
	return model.SearchSpec{
		ID:            id,
		Label:         label,
		IncludedTypes: []string{"restaurant", "food_court"},
		ExcludedTypes: foodExcluded,
		Color:         color,
		Radius:        1500,
		Offset:        off,
	}
}

var defaults = []model.SearchSpec{
	// 1-4 are the spatial variants; their static radius/offset is superseded
	// by the derived sub-circles at query time.
	food(1, "FoodMain-NW", "#d32f2f", offset(0.015, -0.015)),
	food(2, "FoodMain-NE", "#ff6f00", offset(0.015, 0.015)),
	food(3, "FoodMain-SW", "#1565c0", offset(-0.015, -0.015)),
	food(4, "FoodMain-SE", "#2e7d32", offset(-0.015, 0.015)),
	{
		ID:            5,
		Label:         "FoodCafe",
		IncludedTypes: []string{"cafe", "bar", "ice_cream_shop", "bakery", "wine_bar", "market"},
		ExcludedTypes: []string{
			"lodging", "hotel", "hostel", "meal_delivery", "meal_takeaway", "supermarket",
			"grocery_store", "convenience_store", "gas_station", "night_club", "casino",
		},
		Color: "#1976d2",
	},
	{
		ID:            6,
		Label:         "History",
		IncludedTypes: []string{"historical_landmark", "church", "monument"},
		ExcludedTypes: cultureExcluded,
		Color:         "#388e3c",
	},
	{
		ID:            7,
		Label:         "Museums",
		IncludedTypes: []string{"museum", "art_gallery", "cultural_center", "tourist_attraction"},
		ExcludedTypes: cultureExcluded,
		Color:         "#7b1fa2",
	},
	{
		ID:            8,
		Label:         "NatureGreen",
		IncludedTypes: []string{"park", "garden", "botanical_garden", "national_park", "beach", "plaza"},
		ExcludedTypes: outdoorExcluded,
		Color:         "#f57c00",
	},
	{
		ID:            9,
		Label:         "Entertainment",
		IncludedTypes: []string{"amusement_park", "aquarium", "zoo", "observation_deck", "marina"},
		ExcludedTypes: outdoorExcluded,
		Color:         "#00897b",
	},
}

// Default returns a fresh copy of the nine built-in specs, ordered by id.
func Default() []model.SearchSpec {
	out := make([]model.SearchSpec, len(defaults))
	for i, s := range defaults {
		out[i] = s.Clone()
	}
	return out
}

// SpatialDirection maps spec ids 1-4 to their sub-circle quadrant.
func SpatialDirection(id int) (model.Direction, bool) {
	if id < 1 || id > 4 {
		return "", false
	}
	return model.Directions[id-1], true
}

// IsSpatial reports whether the spec samples a derived sub-circle.
func IsSpatial(id int) bool {
	_, ok := SpatialDirection(id)
	return ok
}

// Lookup finds a spec by id.
func Lookup(specs []model.SearchSpec, id int) (model.SearchSpec, bool) {
	for _, s := range specs {
		if s.ID == id {
			return s, true
		}
	}
	return model.SearchSpec{}, false
}

// Color returns the display color for a spec id, or a neutral grey.
func Color(specs []model.SearchSpec, id int) string {
	if s, ok := Lookup(specs, id); ok && s.Color != "" {
		return s.Color
	}
	return "#9e9e9e"
}

// TypeOverride replaces the type lists of a non-spatial spec. A nil list
// keeps the spec default.
type TypeOverride struct {
	Included []string `yaml:"included_types"`
	Excluded []string `yaml:"excluded_types"`
}

// ApplyOverrides returns specs with user type overrides applied. Spatial
// variants are never overridden.
func ApplyOverrides(specs []model.SearchSpec, overrides map[int]TypeOverride) []model.SearchSpec {
	out := make([]model.SearchSpec, len(specs))
	for i, s := range specs {
		s = s.Clone()
		if o, ok := overrides[s.ID]; ok && !IsSpatial(s.ID) {
			if o.Included != nil {
				s.IncludedTypes = cleanTypes(o.Included)
			}
			if o.Excluded != nil {
				s.ExcludedTypes = cleanTypes(o.Excluded)
			}
			if len(s.IncludedTypes) == 0 {
				s.IncludedTypes = []string{FallbackIncludedType}
			}
		}
		out[i] = s
	}
	return out
}

// ParseTypeList splits a comma separated list. Blank input returns nil so it
// can be passed straight into a TypeOverride.
func ParseTypeList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return cleanTypes(strings.Split(s, ","))
}

func cleanTypes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
