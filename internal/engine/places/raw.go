package places

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// LatLngAccessor is implemented by in-process sources (map SDK adapters,
// test doubles) that expose coordinates through methods rather than fields.
type LatLngAccessor interface {
	Lat() float64
	Lng() float64
}

// RawPlace is the single ingestion shape for upstream records. It accepts
// both the Places v1 field names and the legacy nearbysearch ones so the
// normalizer never has to inspect untyped JSON.
type RawPlace struct {
	ID      string `json:"id"`
	PlaceID string `json:"place_id"`

	DisplayName textOrString `json:"displayName"`
	Name        string       `json:"name"`

	FormattedAddress       string `json:"formattedAddress"`
	Vicinity               string `json:"vicinity"`
	LegacyFormattedAddress string `json:"formatted_address"`

	Location *Coordinates `json:"location"`
	Geometry *struct {
		Location *Coordinates `json:"location"`
	} `json:"geometry"`

	Types []string `json:"types"`

	Rating           *float64   `json:"rating"`
	UserRatingCount  *int       `json:"userRatingCount"`
	UserRatingsTotal *int       `json:"user_ratings_total"`
	PriceLevel       flexString `json:"priceLevel"`
	LegacyPriceLevel flexString `json:"price_level"`
	WebsiteURI       string     `json:"websiteUri"`
	Website          string     `json:"website"`

	// Accessor takes precedence over every coordinate field when set.
	Accessor LatLngAccessor `json:"-"`
}

// Coordinates carries either lat/lng or latitude/longitude.
type Coordinates struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// textOrString decodes either "value" or {"text": "value"}.
type textOrString struct {
	Text       string
	Structured bool
}

func (t *textOrString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &t.Text)
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	t.Text = obj.Text
	t.Structured = true
	return nil
}

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}
