// Package export writes result places in flat, portable formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rendis/circletap/internal/engine/catalog"
	"github.com/rendis/circletap/internal/model"
)

var csvHeader = []string{
	"id", "name", "address", "lat", "lng", "types", "rating",
	"user_rating_count", "price_level", "website", "search_source", "search_label",
}

// WriteCSV writes one row per place. specs resolves search_source to a label
// and may be nil.
func WriteCSV(w io.Writer, places []model.Place, specs []model.SearchSpec) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, p := range places {
		rating := ""
		if p.Rating != nil {
			rating = strconv.FormatFloat(*p.Rating, 'f', 1, 64)
		}
		ratingCount := ""
		if p.UserRatingCount > 0 {
			ratingCount = strconv.Itoa(p.UserRatingCount)
		}
		err := cw.Write([]string{
			p.ID,
			p.Name,
			p.Address,
			fmt.Sprintf("%.6f", p.Location.Lat),
			fmt.Sprintf("%.6f", p.Location.Lng),
			strings.Join(p.Types, ";"),
			rating,
			ratingCount,
			p.PriceLevel,
			p.WebsiteURI,
			strconv.Itoa(p.SearchSource),
			label(specs, p.SearchSource),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGeoJSON writes a FeatureCollection of points. Each feature carries
// the place fields plus the spec color for styling.
func WriteGeoJSON(w io.Writer, places []model.Place, specs []model.SearchSpec) error {
	fc := geojson.NewFeatureCollection()
	for _, p := range places {
		f := geojson.NewFeature(orb.Point{p.Location.Lng, p.Location.Lat})
		f.ID = p.ID
		f.Properties["id"] = p.ID
		f.Properties["name"] = p.Name
		f.Properties["address"] = p.Address
		f.Properties["types"] = p.Types
		f.Properties["searchSource"] = p.SearchSource
		f.Properties["searchLabel"] = label(specs, p.SearchSource)
		f.Properties["marker-color"] = catalog.Color(specs, p.SearchSource)
		if p.Rating != nil {
			f.Properties["rating"] = *p.Rating
		}
		if p.UserRatingCount > 0 {
			f.Properties["userRatingCount"] = p.UserRatingCount
		}
		if p.WebsiteURI != "" {
			f.Properties["websiteUri"] = p.WebsiteURI
		}
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding geojson: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func label(specs []model.SearchSpec, id int) string {
	if s, ok := catalog.Lookup(specs, id); ok {
		return s.Label
	}
	return ""
}
