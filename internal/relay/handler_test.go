package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/circletap/internal/engine/catalog"
	"github.com/rendis/circletap/internal/engine/places"
)

type fakeUpstream struct {
	mu    sync.Mutex
	key   bool
	calls []places.Request
	resp  json.RawMessage
	err   error
}

func (f *fakeUpstream) SearchNearby(_ context.Context, r places.Request) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r)
	return f.resp, f.err
}

func (f *fakeUpstream) HasKey() bool { return f.key }

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

const upstreamBody = `{"places":[{"id":"p1","displayName":{"text":"Roscioli"},"location":{"latitude":41.894,"longitude":12.473}}]}`

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, places.SearchNearbyPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestSearchNearby_Defaults(t *testing.T) {
	up := &fakeUpstream{key: true, resp: json.RawMessage(upstreamBody)}
	h := NewHandler(up, nil, Options{}, zerolog.Nop()).Routes()

	rr := post(t, h, `{"lat":41.9,"lng":12.49,"radius":1500}`)
	require.Equal(t, http.StatusOK, rr.Code)

	env := decodeEnvelope(t, rr)
	assert.True(t, env.OK)
	assert.JSONEq(t, upstreamBody, string(env.Data))

	require.Len(t, up.calls, 1)
	got := up.calls[0]
	assert.Equal(t, []string{"restaurant"}, got.IncludedTypes)
	assert.Equal(t, 20, got.MaxResultCount)
	assert.Equal(t, 1500.0, got.Radius)
}

func TestSearchNearby_ForwardsFields(t *testing.T) {
	up := &fakeUpstream{key: true, resp: json.RawMessage(`{}`)}
	h := NewHandler(up, nil, Options{}, zerolog.Nop()).Routes()

	rr := post(t, h, `{"lat":41.9,"lng":12.49,"radius":700,"includedTypes":["cafe"],"excludedTypes":["hotel"],"maxResultCount":50,"rankPreference":"POPULARITY"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	got := up.calls[0]
	assert.Equal(t, []string{"cafe"}, got.IncludedTypes)
	assert.Equal(t, []string{"hotel"}, got.ExcludedTypes)
	assert.Equal(t, 20, got.MaxResultCount, "clamped to the upstream page size")
	assert.Equal(t, "POPULARITY", got.RankPreference)

	post(t, h, `{"lat":41.9,"lng":12.49,"radius":700,"maxResultCount":0}`)
	assert.Equal(t, 1, up.calls[1].MaxResultCount)
}

func TestSearchNearby_Validation(t *testing.T) {
	up := &fakeUpstream{key: true}
	h := NewHandler(up, nil, Options{}, zerolog.Nop()).Routes()

	tests := []struct {
		name string
		body string
	}{
		{"missing lat", `{"lng":12.49,"radius":1500}`},
		{"missing lng", `{"lat":41.9,"radius":1500}`},
		{"missing radius", `{"lat":41.9,"lng":12.49}`},
		{"zero radius", `{"lat":41.9,"lng":12.49,"radius":0}`},
		{"not json", `lat=41.9`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := post(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			env := decodeEnvelope(t, rr)
			assert.False(t, env.OK)
			assert.NotEmpty(t, env.Error)
		})
	}
	assert.Empty(t, up.calls)
}

func TestSearchNearby_ZeroCoordinatesAccepted(t *testing.T) {
	up := &fakeUpstream{key: true, resp: json.RawMessage(`{"places":[]}`)}
	h := NewHandler(up, nil, Options{}, zerolog.Nop()).Routes()

	rr := post(t, h, `{"lat":0,"lng":0,"radius":1000}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSearchNearby_MissingKey(t *testing.T) {
	up := &fakeUpstream{key: false}
	h := NewHandler(up, nil, Options{}, zerolog.Nop()).Routes()

	rr := post(t, h, `{"lat":41.9,"lng":12.49,"radius":1500}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, decodeEnvelope(t, rr).OK)
	assert.Empty(t, up.calls)
}

func TestSearchNearby_UpstreamFailure(t *testing.T) {
	up := &fakeUpstream{key: true, err: &places.UpstreamError{StatusCode: 403, Body: "PERMISSION_DENIED"}}
	h := NewHandler(up, nil, Options{}, zerolog.Nop()).Routes()

	rr := post(t, h, `{"lat":41.9,"lng":12.49,"radius":1500}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.False(t, env.OK)
	assert.Contains(t, env.Error, "403")
}

func TestSearchNearby_Cache(t *testing.T) {
	up := &fakeUpstream{key: true, resp: json.RawMessage(upstreamBody)}
	cache := newMemCache()
	h := NewHandler(up, cache, Options{CacheTTL: time.Minute}, zerolog.Nop()).Routes()

	first := post(t, h, `{"lat":41.9,"lng":12.49,"radius":1500,"includedTypes":["cafe","bar"]}`)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := post(t, h, `{"lat":41.9,"lng":12.49,"radius":1500,"includedTypes":["bar","cafe"]}`)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, upstreamBody, string(decodeEnvelope(t, second).Data))

	assert.Len(t, up.calls, 1)
	for _, ttl := range cache.ttls {
		assert.Equal(t, time.Minute, ttl)
	}
}

func TestSearchNearby_FailuresNotCached(t *testing.T) {
	up := &fakeUpstream{key: true, err: errors.New("dial tcp: timeout")}
	cache := newMemCache()
	h := NewHandler(up, cache, Options{}, zerolog.Nop()).Routes()

	post(t, h, `{"lat":41.9,"lng":12.49,"radius":1500}`)
	post(t, h, `{"lat":41.9,"lng":12.49,"radius":1500}`)
	assert.Len(t, up.calls, 2)
	assert.Empty(t, cache.data)
}

func TestStatus(t *testing.T) {
	for _, hasKey := range []bool{true, false} {
		h := NewHandler(&fakeUpstream{key: hasKey}, nil, Options{}, zerolog.Nop()).Routes()
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]bool
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.True(t, body["ok"])
		assert.Equal(t, hasKey, body["hasGoogleKey"])
	}
}

func TestConfig(t *testing.T) {
	opts := Options{Client: ClientConfig{MaxRadius: 25000, DefaultZoom: 13, Searches: catalog.Default()}}
	h := NewHandler(&fakeUpstream{}, nil, opts, zerolog.Nop()).Routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got ClientConfig
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 25000.0, got.MaxRadius)
	require.Len(t, got.Searches, 9)
	assert.Equal(t, "FoodMain-NW", got.Searches[0].Label)
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(&fakeUpstream{key: true}, nil, Options{}, zerolog.Nop()).Routes()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, places.SearchNearbyPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// The relay, a real upstream client and the search client wired together
// against a stub of the places API.
func TestRelayEndToEnd(t *testing.T) {
	google := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"locationRestriction"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, upstreamBody)
	}))
	defer google.Close()

	up := places.NewUpstream(places.UpstreamOptions{URL: google.URL, APIKey: "test-key"})
	relaySrv := httptest.NewServer(NewHandler(up, nil, Options{}, zerolog.Nop()).Routes())
	defer relaySrv.Close()

	client := places.NewClient(relaySrv.URL, 5*time.Second, nil)
	raws, err := client.SearchNearby(context.Background(), places.Request{Lat: 41.9, Lng: 12.49, Radius: 1500})
	require.NoError(t, err)
	require.Len(t, raws, 1)

	p, ok := places.Normalize(raws[0], 5)
	require.True(t, ok)
	assert.Equal(t, "Roscioli", p.Name)
	assert.Equal(t, 41.894, p.Location.Lat)
	assert.Equal(t, 5, p.SearchSource)
}
