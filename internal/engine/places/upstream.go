package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	DefaultUpstreamURL = "https://places.googleapis.com/v1/places:searchNearby"
	DefaultFieldMask   = "places.displayName,places.formattedAddress,places.types,places.location,places.id"

	// MaxResultCount is the largest page the nearby endpoint returns.
	MaxResultCount = 20

	defaultRetries = 3
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
	jitterFactor   = 0.5
)

// RateLimitError indicates the upstream API is throttling us.
type RateLimitError struct {
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// UpstreamError is a non-2xx response from the places API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// UpstreamOptions configures the Places API client used by the relay.
type UpstreamOptions struct {
	URL        string
	APIKey     string
	FieldMask  string
	Timeout    time.Duration
	Transport  http.RoundTripper
	MaxRetries int
	Backoff    time.Duration
}

// Upstream calls the Places API searchNearby endpoint.
type Upstream struct {
	url        string
	apiKey     string
	fieldMask  string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
}

func NewUpstream(opts UpstreamOptions) *Upstream {
	u := &Upstream{
		url:        opts.URL,
		apiKey:     opts.APIKey,
		fieldMask:  opts.FieldMask,
		http:       &http.Client{Transport: opts.Transport, Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
	}
	if u.url == "" {
		u.url = DefaultUpstreamURL
	}
	if u.fieldMask == "" {
		u.fieldMask = DefaultFieldMask
	}
	if u.http.Timeout <= 0 {
		u.http.Timeout = 15 * time.Second
	}
	if u.maxRetries <= 0 {
		u.maxRetries = defaultRetries
	}
	if u.backoff <= 0 {
		u.backoff = baseBackoff
	}
	return u
}

// HasKey reports whether an API key is configured.
func (u *Upstream) HasKey() bool { return u.apiKey != "" }

type circleRestriction struct {
	Circle struct {
		Center struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"center"`
		Radius float64 `json:"radius"`
	} `json:"circle"`
}

type upstreamBody struct {
	IncludedTypes       []string          `json:"includedTypes,omitempty"`
	ExcludedTypes       []string          `json:"excludedTypes,omitempty"`
	MaxResultCount      int               `json:"maxResultCount"`
	RankPreference      string            `json:"rankPreference,omitempty"`
	LocationRestriction circleRestriction `json:"locationRestriction"`
}

func buildUpstreamBody(r Request) upstreamBody {
	b := upstreamBody{
		IncludedTypes:  r.IncludedTypes,
		ExcludedTypes:  r.ExcludedTypes,
		MaxResultCount: r.MaxResultCount,
		RankPreference: r.RankPreference,
	}
	b.LocationRestriction.Circle.Center.Latitude = r.Lat
	b.LocationRestriction.Circle.Center.Longitude = r.Lng
	b.LocationRestriction.Circle.Radius = r.Radius
	return b
}

// SearchNearby forwards r to the Places API and returns the response body
// untouched. Rate-limited and 5xx responses are retried with exponential
// backoff.
func (u *Upstream) SearchNearby(ctx context.Context, r Request) (json.RawMessage, error) {
	body, err := json.Marshal(buildUpstreamBody(r))
	if err != nil {
		return nil, fmt.Errorf("encoding upstream body: %w", err)
	}

	var lastErr error
	for attempt := range u.maxRetries {
		out, err := u.do(ctx, body)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		if attempt == u.maxRetries-1 {
			break
		}

		backoff := u.backoff * time.Duration(1<<uint(attempt))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(float64(backoff) * jitterFactor * rand.Float64())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return nil, lastErr
}

func (u *Upstream) do(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", u.apiKey)
	req.Header.Set("X-Goog-FieldMask", u.fieldMask)

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(payload), 512)}
	}

	if !json.Valid(payload) {
		return nil, fmt.Errorf("upstream returned invalid json")
	}
	return json.RawMessage(payload), nil
}

func retryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var up *UpstreamError
	return errors.As(err, &up) && up.StatusCode >= 500
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
