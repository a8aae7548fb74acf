package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rendis/circletap/internal/model"
)

const nominatimURL = "https://nominatim.openstreetmap.org/search"

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocoder resolves free-text place names to a center point using OSM Nominatim.
type Geocoder struct {
	BaseURL string
	Client  *http.Client
}

func NewGeocoder() *Geocoder {
	return &Geocoder{
		BaseURL: nominatimURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GeocodeCenter returns the best match for q and its display name.
func (g *Geocoder) GeocodeCenter(ctx context.Context, q string) (model.LatLng, string, error) {
	u := g.BaseURL + "?" + url.Values{
		"q":      {q},
		"format": {"json"},
		"limit":  {"1"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.LatLng{}, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "circletap/0.1 (places search)")

	resp, err := g.Client.Do(req)
	if err != nil {
		return model.LatLng{}, "", fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.LatLng{}, "", fmt.Errorf("geocoding returned status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return model.LatLng{}, "", fmt.Errorf("decoding geocoding response: %w", err)
	}
	if len(results) == 0 {
		return model.LatLng{}, "", fmt.Errorf("place %q not found", q)
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return model.LatLng{}, "", fmt.Errorf("invalid coordinates from geocoder")
	}
	return model.LatLng{Lat: lat, Lng: lng}, results[0].DisplayName, nil
}
