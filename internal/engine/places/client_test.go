package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSearchNearby(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, SearchNearbyPath, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"ok":true,"data":{"places":[{"id":"a","displayName":{"text":"A"},"location":{"latitude":1,"longitude":2}}]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second, nil)
	raws, err := c.SearchNearby(context.Background(), Request{
		Lat: 41.9, Lng: 12.5, Radius: 700,
		IncludedTypes:  []string{"restaurant"},
		ExcludedTypes:  []string{"lodging"},
		RankPreference: RankPopularity,
	})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "A", raws[0].DisplayName.Text)
	assert.Equal(t, 700.0, got.Radius)
	assert.Equal(t, "POPULARITY", got.RankPreference)
	assert.Equal(t, []string{"lodging"}, got.ExcludedTypes)
}

func TestClientFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
		msg    string
	}{
		{"ok false", http.StatusOK, `{"ok":false,"error":"quota"}`, 0, "quota"},
		{"http 500 with envelope", http.StatusInternalServerError, `{"ok":false,"error":"boom"}`, 500, "boom"},
		{"http 502 plain", http.StatusBadGateway, `<html>bad gateway</html>`, 502, "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, nil).SearchNearby(context.Background(), Request{})
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.code, apiErr.StatusCode)
			assert.Equal(t, tt.msg, apiErr.Message)
		})
	}
}

func TestClientEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"data":{}}`)
	}))
	defer srv.Close()

	raws, err := NewClient(srv.URL, time.Second, nil).SearchNearby(context.Background(), Request{})
	require.NoError(t, err)
	assert.Empty(t, raws)
}

func TestClientSkipsMalformedPlaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"data":{"places":[
			{"id":"good","displayName":{"text":"Good"},"location":{"latitude":41.9,"longitude":12.5}},
			{"id":"bad-loc","location":"n/a"},
			{"id":"bad-lat","location":{"latitude":"41.9","longitude":12.5}},
			{"id":"bad-rating","location":{"latitude":41.9,"longitude":12.5},"rating":"high"}
		]}}`)
	}))
	defer srv.Close()

	raws, err := NewClient(srv.URL, time.Second, nil).SearchNearby(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, raws, 4)

	kept, dropped := NormalizeAll(raws, 0)
	require.Len(t, kept, 1)
	assert.Equal(t, "good", kept[0].ID)
	assert.Equal(t, 3, dropped)
}

func TestUpstreamSearchNearby(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Goog-Api-Key"))
		assert.Equal(t, DefaultFieldMask, r.Header.Get("X-Goog-FieldMask"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"places":[{"id":"x"}]}`)
	}))
	defer srv.Close()

	u := NewUpstream(UpstreamOptions{URL: srv.URL, APIKey: "secret"})
	assert.True(t, u.HasKey())

	out, err := u.SearchNearby(context.Background(), Request{
		Lat: 1, Lng: 2, Radius: 300, IncludedTypes: []string{"cafe"}, MaxResultCount: 20, RankPreference: RankPopularity,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"places":[{"id":"x"}]}`, string(out))

	circle := body["locationRestriction"].(map[string]any)["circle"].(map[string]any)
	center := circle["center"].(map[string]any)
	assert.Equal(t, 1.0, center["latitude"])
	assert.Equal(t, 2.0, center["longitude"])
	assert.Equal(t, 300.0, circle["radius"])
	assert.Equal(t, 20.0, body["maxResultCount"])
	assert.Equal(t, "POPULARITY", body["rankPreference"])
}

func TestUpstreamRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	u := NewUpstream(UpstreamOptions{URL: srv.URL, APIKey: "k", Backoff: time.Millisecond})
	out, err := u.SearchNearby(context.Background(), Request{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
	assert.Equal(t, int32(2), calls.Load())
}

func TestUpstreamErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	_, err := NewUpstream(UpstreamOptions{URL: srv.URL, APIKey: "k", Backoff: time.Millisecond}).
		SearchNearby(context.Background(), Request{})
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusForbidden, upErr.StatusCode)
	assert.Contains(t, upErr.Body, "API key not valid")
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpstreamRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"places":[]}`)
	}))
	defer srv.Close()

	u := NewUpstream(UpstreamOptions{URL: srv.URL, APIKey: "k", Backoff: time.Millisecond})
	out, err := u.SearchNearby(context.Background(), Request{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"places":[]}`, string(out))
	assert.Equal(t, int32(2), calls.Load())
}

func TestUpstreamNoBackoffAfterLastAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	u := NewUpstream(UpstreamOptions{URL: srv.URL, APIKey: "k", MaxRetries: 1, Backoff: 5 * time.Second})
	start := time.Now()
	_, err := u.SearchNearby(context.Background(), Request{})
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes each
	got := truncate(s, 5)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éé...", got)
	assert.Equal(t, "abc", truncate("abc", 5))
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport(TransportOptions{Fingerprint: true})
	require.NoError(t, err)
	assert.NotNil(t, tr.DialTLSContext)

	tr, err = NewTransport(TransportOptions{Fingerprint: true, ProxyURL: "http://127.0.0.1:8080"})
	require.NoError(t, err)
	assert.Nil(t, tr.DialTLSContext)
	assert.NotNil(t, tr.Proxy)

	_, err = NewTransport(TransportOptions{ProxyURL: "://bad"})
	assert.Error(t, err)
}
