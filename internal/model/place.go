package model

// Place is the canonical record every upstream shape is normalized into.
// An empty ID means the upstream record carried no identifier.
type Place struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Address         string   `json:"address"`
	Location        LatLng   `json:"location"`
	Types           []string `json:"types"`
	Rating          *float64 `json:"rating,omitempty"`
	UserRatingCount int      `json:"userRatingCount,omitempty"`
	PriceLevel      string   `json:"priceLevel,omitempty"`
	WebsiteURI      string   `json:"websiteUri,omitempty"`
	SearchSource    int      `json:"searchSource"`
}

// SearchSpec is one configured category query.
type SearchSpec struct {
	ID            int      `json:"id" yaml:"id"`
	Label         string   `json:"label" yaml:"label"`
	IncludedTypes []string `json:"includedTypes" yaml:"included_types"`
	ExcludedTypes []string `json:"excludedTypes" yaml:"excluded_types"`
	Color         string   `json:"color" yaml:"color"`
	// Radius in meters; zero means use the circle's radius.
	Radius float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
	// Offset in degrees added to the circle center; nil means none.
	Offset *LatLng `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// Clone returns a deep copy so callers can mutate type lists safely.
func (s SearchSpec) Clone() SearchSpec {
	out := s
	out.IncludedTypes = append([]string(nil), s.IncludedTypes...)
	out.ExcludedTypes = append([]string(nil), s.ExcludedTypes...)
	if s.Offset != nil {
		o := *s.Offset
		out.Offset = &o
	}
	return out
}
