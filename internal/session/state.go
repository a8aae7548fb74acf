// Package session owns the interactive search state: the current circle,
// the last committed result and the saved trip plan.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rendis/circletap/internal/engine/geo"
	"github.com/rendis/circletap/internal/model"
)

var (
	// ErrSuperseded is returned by Search when a newer search or circle
	// mutation started before this one settled. Its result was not committed.
	ErrSuperseded = errors.New("search superseded")
	ErrNoCircle   = errors.New("no circle drawn")
)

// Executor runs one fan-out search.
type Executor interface {
	Execute(ctx context.Context, c model.Circle, specs []model.SearchSpec) (*model.Result, error)
}

// BlobStore persists small state values.
type BlobStore interface {
	SaveBlob(ctx context.Context, key string, value []byte) error
	LoadBlob(ctx context.Context, key string) ([]byte, error)
	DeleteBlob(ctx context.Context, key string) error
}

type Options struct {
	Specs     []model.SearchSpec
	MaxRadius float64
	Ratios    geo.Ratios
	// Store is optional; without it the trip plan lives in memory only.
	Store BlobStore
}

// State is safe for concurrent use. Readers get copies; only State mutates
// the circle and result it holds.
type State struct {
	exec   Executor
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	circle *model.Circle
	result *model.Result
	gen    uint64
	cancel context.CancelFunc

	tripMu sync.Mutex
	trip   TripPlan
}

func New(exec Executor, opts Options, logger zerolog.Logger) *State {
	if opts.Ratios == (geo.Ratios{}) {
		opts.Ratios = geo.DefaultRatios
	}
	return &State{
		exec:   exec,
		opts:   opts,
		logger: logger,
		trip:   newTripPlan(),
	}
}

// bump invalidates any in-flight search. Caller holds mu.
func (s *State) bump() uint64 {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	return s.gen
}

// SetCircle replaces the circle. Invalid circles are rejected and leave the
// state untouched.
func (s *State) SetCircle(c model.Circle) error {
	if err := c.Validate(s.opts.MaxRadius); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circle = &c
	s.bump()
	return nil
}

// Move shifts the center by the given distances in meters (north and east
// positive).
func (s *State) Move(northMeters, eastMeters float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.circle == nil {
		return ErrNoCircle
	}
	next := *s.circle
	next.Center = geo.OffsetCoordinates(next.Center.Lat, next.Center.Lng, eastMeters/1000, northMeters/1000)
	if err := next.Validate(s.opts.MaxRadius); err != nil {
		return err
	}
	s.circle = &next
	s.bump()
	return nil
}

// Resize changes the radius by delta meters. The result is clamped to the
// configured maximum; a non-positive result is rejected.
func (s *State) Resize(deltaMeters float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.circle == nil {
		return ErrNoCircle
	}
	next := *s.circle
	next.RadiusMeters += deltaMeters
	if s.opts.MaxRadius > 0 && next.RadiusMeters > s.opts.MaxRadius {
		next.RadiusMeters = s.opts.MaxRadius
	}
	if err := next.Validate(s.opts.MaxRadius); err != nil {
		return err
	}
	s.circle = &next
	s.bump()
	return nil
}

// Clear removes the circle and its results and abandons any in-flight search.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circle = nil
	s.result = nil
	s.bump()
}

// Current returns the circle, if one is drawn.
func (s *State) Current() (model.Circle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.circle == nil {
		return model.Circle{}, false
	}
	return *s.circle, true
}

// SubCircles derives the quadrant sub-circles of the current circle.
func (s *State) SubCircles() ([4]model.SubCircle, bool) {
	c, ok := s.Current()
	if !ok {
		return [4]model.SubCircle{}, false
	}
	return geo.SubCirclesOf(c, s.opts.Ratios), true
}

func (s *State) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *State) Specs() []model.SearchSpec { return s.opts.Specs }

// Search runs a fan-out search for the current circle. Starting a search
// cancels the previous one. The result is committed only if no newer search
// or mutation happened meanwhile; otherwise the partial result is returned
// together with ErrSuperseded.
func (s *State) Search(ctx context.Context) (*model.Result, error) {
	s.mu.Lock()
	if s.circle == nil {
		s.mu.Unlock()
		return nil, ErrNoCircle
	}
	gen := s.bump()
	circle := *s.circle
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	res, err := s.exec.Execute(runCtx, circle, s.opts.Specs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		cancel()
		s.logger.Debug().Uint64("generation", gen).Uint64("current", s.gen).Msg("discarding stale search result")
		return res, ErrSuperseded
	}
	cancel()
	s.cancel = nil
	if err != nil {
		return res, fmt.Errorf("search generation %d: %w", gen, err)
	}
	s.result = res
	return cloneResult(res), nil
}

// Results returns a copy of the last committed result, or nil.
func (s *State) Results() *model.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneResult(s.result)
}

func cloneResult(r *model.Result) *model.Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Places = make([]model.Place, len(r.Places))
	for i, p := range r.Places {
		p.Types = append([]string(nil), p.Types...)
		if p.Rating != nil {
			rating := *p.Rating
			p.Rating = &rating
		}
		out.Places[i] = p
	}
	out.Outcomes = append([]model.Outcome(nil), r.Outcomes...)
	out.Duplicates.DuplicateIDs = append([]string(nil), r.Duplicates.DuplicateIDs...)
	if r.Duplicates.DetailsByID != nil {
		out.Duplicates.DetailsByID = make(map[string]model.DuplicateDetail, len(r.Duplicates.DetailsByID))
		for id, d := range r.Duplicates.DetailsByID {
			d.Places = append([]model.DuplicateSource(nil), d.Places...)
			out.Duplicates.DetailsByID[id] = d
		}
	}
	return &out
}
