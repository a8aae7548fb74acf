package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/circletap/internal/engine/catalog"
	"github.com/rendis/circletap/internal/model"
)

func samplePlaces() []model.Place {
	rating := 4.6
	return []model.Place{
		{
			ID:              "p1",
			Name:            "Roscioli, Salumeria",
			Address:         "Via dei Giubbonari 21",
			Location:        model.LatLng{Lat: 41.894, Lng: 12.473},
			Types:           []string{"restaurant", "food"},
			Rating:          &rating,
			UserRatingCount: 5120,
			SearchSource:    1,
		},
		{
			ID:           "p2",
			Name:         "Pantheon",
			Location:     model.LatLng{Lat: 41.8986, Lng: 12.4769},
			SearchSource: 6,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, samplePlaces(), catalog.Default()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "Roscioli, Salumeria", rows[1][1])
	assert.Equal(t, "41.894000", rows[1][3])
	assert.Equal(t, "restaurant;food", rows[1][5])
	assert.Equal(t, "4.6", rows[1][6])
	assert.Equal(t, "5120", rows[1][7])
	assert.Equal(t, "FoodMain-NW", rows[1][11])

	assert.Equal(t, "", rows[2][6], "missing rating stays empty")
	assert.Equal(t, "History", rows[2][11])
}

func TestWriteCSVUnknownSpec(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, samplePlaces()[:1], nil))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "", rows[1][11])
}

func TestWriteGeoJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, samplePlaces(), catalog.Default()))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	f := fc.Features[0]
	pt, ok := f.Geometry.(orb.Point)
	require.True(t, ok)
	assert.Equal(t, 12.473, pt.Lon())
	assert.Equal(t, 41.894, pt.Lat())
	assert.Equal(t, "Roscioli, Salumeria", f.Properties.MustString("name"))
	assert.Equal(t, "#d32f2f", f.Properties.MustString("marker-color"))
	assert.Equal(t, 4.6, f.Properties.MustFloat64("rating"))

	_, hasRating := fc.Features[1].Properties["rating"]
	assert.False(t, hasRating)
}

func TestWriteGeoJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, nil, nil))
	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
}
