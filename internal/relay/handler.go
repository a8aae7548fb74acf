// Package relay implements the places search proxy the search client talks
// to. It holds the upstream API key so clients never see it.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rendis/circletap/internal/engine/places"
	"github.com/rendis/circletap/internal/model"
	"github.com/rendis/circletap/internal/observability"
)

const (
	defaultIncludedType = "restaurant"
	maxBodyBytes        = 64 << 10
)

// Upstream is the places API the relay forwards to.
type Upstream interface {
	SearchNearby(ctx context.Context, r places.Request) (json.RawMessage, error)
	HasKey() bool
}

// ClientConfig is served from GET /api/config so a browser client needs no
// hard-coded constants.
type ClientConfig struct {
	DefaultCenter  model.LatLng       `json:"defaultCenter"`
	DefaultZoom    int                `json:"defaultZoom"`
	MaxRadius      float64            `json:"maxRadius"`
	SubRadiusRatio float64            `json:"subRadiusRatio"`
	OffsetRatio    float64            `json:"offsetRatio"`
	Searches       []model.SearchSpec `json:"searches"`
}

type Options struct {
	MaxResultCount int
	CacheTTL       time.Duration
	Client         ClientConfig
}

// Handler serves the relay endpoints.
type Handler struct {
	upstream Upstream
	cache    Cache
	opts     Options
	logger   zerolog.Logger
}

// NewHandler creates the relay. cache may be nil.
func NewHandler(upstream Upstream, cache Cache, opts Options, logger zerolog.Logger) *Handler {
	if opts.MaxResultCount <= 0 || opts.MaxResultCount > places.MaxResultCount {
		opts.MaxResultCount = places.MaxResultCount
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	return &Handler{upstream: upstream, cache: cache, opts: opts, logger: logger}
}

// Routes returns the relay mux wrapped in request logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+places.SearchNearbyPath, h.SearchNearby)
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /api/config", h.Config)
	return h.logRequests(mux)
}

type searchRequest struct {
	Lat            *float64 `json:"lat"`
	Lng            *float64 `json:"lng"`
	Radius         *float64 `json:"radius"`
	IncludedTypes  []string `json:"includedTypes"`
	ExcludedTypes  []string `json:"excludedTypes"`
	MaxResultCount *int     `json:"maxResultCount"`
	RankPreference string   `json:"rankPreference"`
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// toRequest applies the relay defaults. ok is false when a required field
// is missing or the radius is not positive.
func (h *Handler) toRequest(in searchRequest) (places.Request, bool) {
	if in.Lat == nil || in.Lng == nil || in.Radius == nil || *in.Radius <= 0 {
		return places.Request{}, false
	}
	r := places.Request{
		Lat:            *in.Lat,
		Lng:            *in.Lng,
		Radius:         *in.Radius,
		IncludedTypes:  in.IncludedTypes,
		ExcludedTypes:  in.ExcludedTypes,
		RankPreference: in.RankPreference,
		MaxResultCount: h.opts.MaxResultCount,
	}
	if len(r.IncludedTypes) == 0 {
		r.IncludedTypes = []string{defaultIncludedType}
	}
	if in.MaxResultCount != nil {
		r.MaxResultCount = min(max(*in.MaxResultCount, 1), h.opts.MaxResultCount)
	}
	return r, true
}

// SearchNearby handles POST /api/places/searchNearby.
func (h *Handler) SearchNearby(w http.ResponseWriter, r *http.Request) {
	if !h.upstream.HasKey() {
		respondWithError(w, http.StatusInternalServerError, "server missing Google Maps API key")
		return
	}

	var in searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req, ok := h.toRequest(in)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "lat, lng and radius are required")
		return
	}

	ctx, span := observability.StartSpan(r.Context(), "relay.searchNearby",
		attribute.Float64("lat", req.Lat),
		attribute.Float64("lng", req.Lng),
		attribute.Float64("radius", req.Radius),
		attribute.StringSlice("included_types", req.IncludedTypes),
	)
	defer span.End()

	key := cacheKey(req)
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, key); err == nil {
			w.Header().Set("X-Cache", "HIT")
			respondWithJSON(w, http.StatusOK, envelope{OK: true, Data: cached})
			return
		} else if !errors.Is(err, ErrCacheMiss) {
			h.logger.Warn().Err(err).Msg("cache read failed")
		}
		w.Header().Set("X-Cache", "MISS")
	}

	data, err := h.upstream.SearchNearby(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		h.logger.Error().Err(err).
			Float64("lat", req.Lat).Float64("lng", req.Lng).Float64("radius", req.Radius).
			Strs("included_types", req.IncludedTypes).
			Msg("upstream search failed")
		respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.logger.Debug().
		Float64("lat", req.Lat).Float64("lng", req.Lng).Float64("radius", req.Radius).
		Strs("included_types", req.IncludedTypes).
		Int("bytes", len(data)).
		Msg("upstream search")

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, data, h.opts.CacheTTL); err != nil {
			h.logger.Warn().Err(err).Msg("cache write failed")
		}
	}
	respondWithJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]bool{
		"ok":           true,
		"hasGoogleKey": h.upstream.HasKey(),
	})
}

// Config handles GET /api/config.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.opts.Client)
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, envelope{OK: false, Error: message})
}
