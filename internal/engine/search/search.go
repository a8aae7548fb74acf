// Package search fans a circle out into one nearby query per spec and
// consolidates the responses.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/rendis/circletap/internal/engine/catalog"
	"github.com/rendis/circletap/internal/engine/dedup"
	"github.com/rendis/circletap/internal/engine/geo"
	"github.com/rendis/circletap/internal/engine/places"
	"github.com/rendis/circletap/internal/model"
	"github.com/rendis/circletap/internal/observability"
)

// ErrInvalidCircle is returned, wrapped, when the input circle is rejected
// before any request is made.
var ErrInvalidCircle = errors.New("invalid circle")

// Searcher issues a single nearby search.
type Searcher interface {
	SearchNearby(ctx context.Context, r places.Request) ([]places.RawPlace, error)
}

// Options tune the orchestrator. Zero values mean: default ratios, no
// concurrency bound, no per-request timeout, id-only dedup.
type Options struct {
	MaxRadius        float64
	Ratios           geo.Ratios
	Concurrency      int
	RequestTimeout   time.Duration
	FallbackIdentity bool
	MaxResultCount   int
}

// Stats are live counters, safe to read while a run is in flight.
// SpecsTotal is filled in by Run when the caller leaves it zero.
type Stats struct {
	SpecsTotal  int
	SpecsDone   atomic.Int64
	Failed      atomic.Int64
	PlacesFound atomic.Int64
}

// RunOptions provides optional hooks for a single run.
type RunOptions struct {
	// OnOutcome is called as each spec settles, from the request goroutine.
	// places are normalized and geofiltered but not yet deduplicated.
	OnOutcome func(model.Outcome, []model.Place)
	// Stats allows passing an external Stats object for live progress tracking.
	Stats *Stats
}

// Orchestrator runs fan-out searches against a Searcher.
type Orchestrator struct {
	searcher Searcher
	opts     Options
	logger   zerolog.Logger
}

func New(s Searcher, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.Ratios == (geo.Ratios{}) {
		opts.Ratios = geo.DefaultRatios
	}
	return &Orchestrator{searcher: s, opts: opts, logger: logger}
}

// Query is the effective geometry of one spec request.
type Query struct {
	Spec      model.SearchSpec
	Center    model.LatLng
	Radius    float64
	Direction model.Direction
}

// ResolveQueries picks the sampling geometry for each spec. Spatial variants
// take their quadrant sub-circle. Other specs start from the main circle; a
// static offset shifts the center and a static radius replaces the radius,
// and both may apply to the same spec.
func ResolveQueries(c model.Circle, subs [4]model.SubCircle, specs []model.SearchSpec) []Query {
	out := make([]Query, len(specs))
	for i, s := range specs {
		q := Query{Spec: s, Center: c.Center, Radius: c.RadiusMeters}
		if dir, ok := catalog.SpatialDirection(s.ID); ok {
			sub := subs[s.ID-1]
			q.Center, q.Radius, q.Direction = sub.Center, sub.RadiusMeters, dir
		} else {
			if s.Offset != nil {
				q.Center.Lat += s.Offset.Lat
				q.Center.Lng += s.Offset.Lng
			}
			if s.Radius > 0 {
				q.Radius = s.Radius
			}
		}
		out[i] = q
	}
	return out
}

// Execute runs one search for circle across specs.
func (o *Orchestrator) Execute(ctx context.Context, circle model.Circle, specs []model.SearchSpec) (*model.Result, error) {
	return o.Run(ctx, circle, specs, nil)
}

type slot struct {
	outcome model.Outcome
	places  []model.Place
	noLoc   int
	outside int
}

// Run is Execute with per-run hooks. Individual spec failures are recorded in
// the result, never returned. The error is non-nil only for an invalid circle
// or when ctx ends before every request settles; in the latter case the
// partial result is still returned.
func (o *Orchestrator) Run(ctx context.Context, circle model.Circle, specs []model.SearchSpec, opts *RunOptions) (*model.Result, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	if err := circle.Validate(o.opts.MaxRadius); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCircle, err)
	}

	stats := opts.Stats
	if stats == nil {
		stats = &Stats{}
	}
	if stats.SpecsTotal == 0 {
		stats.SpecsTotal = len(specs)
	}

	result := &model.Result{
		RunID:      uuid.NewString(),
		Circle:     circle,
		SubCircles: geo.SubCirclesOf(circle, o.opts.Ratios),
		StartedAt:  time.Now(),
	}
	log := o.logger.With().Str("run_id", result.RunID).Logger()

	ctx, span := observability.StartSpan(ctx, "search.execute",
		attribute.Float64("circle.lat", circle.Center.Lat),
		attribute.Float64("circle.lng", circle.Center.Lng),
		attribute.Float64("circle.radius_m", circle.RadiusMeters),
		attribute.Int("specs", len(specs)),
	)
	defer span.End()

	queries := ResolveQueries(circle, result.SubCircles, specs)
	slots := make([]slot, len(queries))

	var sem *semaphore.Weighted
	if o.opts.Concurrency > 0 {
		sem = semaphore.NewWeighted(int64(o.opts.Concurrency))
	}

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q Query) {
			defer wg.Done()
			defer stats.SpecsDone.Add(1)

			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					slots[i] = slot{outcome: failedOutcome(q, err, 0)}
					stats.Failed.Add(1)
					return
				}
				defer sem.Release(1)
			}

			slots[i] = o.runQuery(ctx, circle, q, log)
			if slots[i].outcome.Failed() {
				stats.Failed.Add(1)
			}
			stats.PlacesFound.Add(int64(len(slots[i].places)))
			if opts.OnOutcome != nil {
				opts.OnOutcome(slots[i].outcome, slots[i].places)
			}
		}(i, q)
	}
	wg.Wait()

	// Merge in spec-id order so lower ids win dedup ties.
	order := make([]int, len(slots))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return queries[order[a]].Spec.ID < queries[order[b]].Spec.ID
	})

	var merged []model.Place
	st := model.Stats{Requested: len(queries)}
	for _, i := range order {
		s := slots[i]
		result.Outcomes = append(result.Outcomes, s.outcome)
		if s.outcome.Failed() {
			st.Failed++
			continue
		}
		st.Raw += s.outcome.RawCount
		st.DroppedNoLocation += s.noLoc
		st.DroppedOutside += s.outside
		st.Normalized += s.outcome.RawCount - s.noLoc
		merged = append(merged, s.places...)
	}

	key := dedup.ByID
	if o.opts.FallbackIdentity {
		key = dedup.WithFallback
	}
	result.Duplicates = dedup.DetectDuplicatesWith(merged, key)
	result.Places = dedup.DedupeWith(merged, key)
	st.DuplicatesRemoved = len(merged) - len(result.Places)
	st.Total = len(result.Places)
	result.Stats = st
	result.FinishedAt = time.Now()

	span.SetAttributes(
		attribute.Int("results", st.Total),
		attribute.Int("failed", st.Failed),
	)

	ev := log.Info()
	if result.AllFailed() {
		ev = log.Error()
	}
	ev.Int("requested", st.Requested).
		Int("failed", st.Failed).
		Int("raw", st.Raw).
		Int("outside", st.DroppedOutside).
		Int("duplicates", st.DuplicatesRemoved).
		Int("results", st.Total).
		Str("status", string(result.Status())).
		Dur("elapsed", result.FinishedAt.Sub(result.StartedAt)).
		Msg("search finished")

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) runQuery(ctx context.Context, circle model.Circle, q Query, log zerolog.Logger) slot {
	ctx, span := observability.StartSpan(ctx, "search.spec",
		attribute.Int("spec.id", q.Spec.ID),
		attribute.String("spec.label", q.Spec.Label),
		attribute.Float64("query.radius_m", q.Radius),
	)
	defer span.End()

	if o.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	raws, err := o.searcher.SearchNearby(ctx, places.Request{
		Lat:            q.Center.Lat,
		Lng:            q.Center.Lng,
		Radius:         q.Radius,
		IncludedTypes:  q.Spec.IncludedTypes,
		ExcludedTypes:  q.Spec.ExcludedTypes,
		RankPreference: places.RankPopularity,
		MaxResultCount: o.opts.MaxResultCount,
	})
	elapsed := time.Since(start)
	if err != nil {
		observability.RecordError(span, err)
		log.Warn().Err(err).Int("spec_id", q.Spec.ID).Str("label", q.Spec.Label).Msg("spec search failed")
		return slot{outcome: failedOutcome(q, err, elapsed)}
	}

	normalized, noLoc := places.NormalizeAll(raws, q.Spec.ID)
	outside := 0
	if q.Direction != "" {
		normalized, outside = geo.FilterWithinCircle(circle, normalized)
	}

	log.Debug().
		Int("spec_id", q.Spec.ID).
		Int("raw", len(raws)).
		Int("no_location", noLoc).
		Int("outside", outside).
		Dur("elapsed", elapsed).
		Msg("spec search done")

	span.SetAttributes(attribute.Int("results", len(normalized)))
	return slot{
		outcome: model.Outcome{
			SpecID:   q.Spec.ID,
			Label:    q.Spec.Label,
			Center:   q.Center,
			Radius:   q.Radius,
			RawCount: len(raws),
			Kept:     len(normalized),
			Duration: elapsed,
		},
		places:  normalized,
		noLoc:   noLoc,
		outside: outside,
	}
}

func failedOutcome(q Query, err error, elapsed time.Duration) model.Outcome {
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	return model.Outcome{
		SpecID:   q.Spec.ID,
		Label:    q.Spec.Label,
		Center:   q.Center,
		Radius:   q.Radius,
		Error:    msg,
		Duration: elapsed,
	}
}
