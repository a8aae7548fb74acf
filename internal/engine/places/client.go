package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SearchNearbyPath is the relay route the client posts to.
const SearchNearbyPath = "/api/places/searchNearby"

// RankPopularity is the ranking preference every fan-out request carries.
const RankPopularity = "POPULARITY"

// Request is the body of a nearby search sent to the relay.
type Request struct {
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	Radius         float64  `json:"radius"`
	IncludedTypes  []string `json:"includedTypes"`
	ExcludedTypes  []string `json:"excludedTypes"`
	RankPreference string   `json:"rankPreference,omitempty"`
	MaxResultCount int      `json:"maxResultCount,omitempty"`
}

// Envelope is the relay's response shape.
type Envelope struct {
	OK    bool          `json:"ok"`
	Data  *EnvelopeData `json:"data,omitempty"`
	Error string        `json:"error,omitempty"`
}

// EnvelopeData keeps places undecoded so one malformed record cannot sink
// the rest of the page.
type EnvelopeData struct {
	Places []json.RawMessage `json:"places"`
}

// APIError is returned for non-2xx responses and ok:false payloads alike.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "places api: " + e.Message
	}
	return fmt.Sprintf("places api: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to a places search relay.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a relay client. A nil transport uses http.DefaultTransport.
func NewClient(baseURL string, timeout time.Duration, transport http.RoundTripper) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}
}

// SearchNearby posts one search and returns the raw upstream records.
func (c *Client) SearchNearby(ctx context.Context, r Request) ([]RawPlace, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SearchNearbyPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	var env Envelope
	decodeErr := json.Unmarshal(payload, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding response: %w", decodeErr)
	}
	if !env.OK {
		msg := env.Error
		if msg == "" {
			msg = "request failed"
		}
		return nil, &APIError{Message: msg}
	}
	if env.Data == nil {
		return nil, nil
	}
	return decodePlaces(env.Data.Places), nil
}

// decodePlaces decodes each record on its own. A record that fails to decode
// becomes an empty RawPlace, which normalization drops as having no location.
func decodePlaces(items []json.RawMessage) []RawPlace {
	out := make([]RawPlace, len(items))
	for i, item := range items {
		var rp RawPlace
		if err := json.Unmarshal(item, &rp); err != nil {
			continue
		}
		out[i] = rp
	}
	return out
}
