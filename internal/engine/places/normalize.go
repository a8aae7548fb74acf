package places

import (
	"math"

	"github.com/rendis/circletap/internal/model"
)

const unknownName = "Unknown"

// Normalize converts an upstream record into a Place tagged with specID.
// It returns false when no finite coordinates can be resolved; such records
// are dropped by the caller rather than reported.
func Normalize(raw RawPlace, specID int) (model.Place, bool) {
	loc, ok := resolveLocation(raw)
	if !ok {
		return model.Place{}, false
	}

	p := model.Place{
		ID:           firstNonEmpty(raw.ID, raw.PlaceID),
		Name:         resolveName(raw),
		Address:      firstNonEmpty(raw.FormattedAddress, raw.Vicinity, raw.LegacyFormattedAddress),
		Location:     loc,
		Types:        append([]string{}, raw.Types...),
		Rating:       raw.Rating,
		PriceLevel:   firstNonEmpty(string(raw.PriceLevel), string(raw.LegacyPriceLevel)),
		WebsiteURI:   firstNonEmpty(raw.WebsiteURI, raw.Website),
		SearchSource: specID,
	}
	switch {
	case raw.UserRatingCount != nil:
		p.UserRatingCount = *raw.UserRatingCount
	case raw.UserRatingsTotal != nil:
		p.UserRatingCount = *raw.UserRatingsTotal
	}
	if p.Rating != nil && !finite(*p.Rating) {
		p.Rating = nil
	}
	return p, true
}

// NormalizeAll normalizes a batch, returning the kept places and how many
// records had no usable location.
func NormalizeAll(raws []RawPlace, specID int) ([]model.Place, int) {
	out := make([]model.Place, 0, len(raws))
	for _, r := range raws {
		if p, ok := Normalize(r, specID); ok {
			out = append(out, p)
		}
	}
	return out, len(raws) - len(out)
}

func resolveName(raw RawPlace) string {
	// structured {text}, then flat displayName, then name
	if raw.DisplayName.Structured && raw.DisplayName.Text != "" {
		return raw.DisplayName.Text
	}
	return firstNonEmpty(raw.DisplayName.Text, raw.Name, unknownName)
}

func resolveLocation(raw RawPlace) (model.LatLng, bool) {
	if raw.Accessor != nil {
		p := model.LatLng{Lat: raw.Accessor.Lat(), Lng: raw.Accessor.Lng()}
		if p.Finite() {
			return p, true
		}
	}

	candidates := []*Coordinates{raw.Location}
	if raw.Geometry != nil {
		candidates = append(candidates, raw.Geometry.Location)
	}

	for _, c := range candidates {
		if c != nil && c.Lat != nil && c.Lng != nil {
			if p := (model.LatLng{Lat: *c.Lat, Lng: *c.Lng}); p.Finite() {
				return p, true
			}
		}
	}
	for _, c := range candidates {
		if c != nil && c.Latitude != nil && c.Longitude != nil {
			if p := (model.LatLng{Lat: *c.Latitude, Lng: *c.Longitude}); p.Finite() {
				return p, true
			}
		}
	}
	return model.LatLng{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
