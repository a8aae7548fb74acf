package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rendis/circletap/internal/model"
)

// TripBlobKey is the saved-state key of the trip plan.
const TripBlobKey = "trip_plan"

const defaultTripName = "My itinerary"

var ErrAlreadyInDay = errors.New("place already in this day")

// TripItem is a flat, serializable copy of a place saved to a day.
type TripItem struct {
	PlaceID      string       `json:"placeId"`
	Name         string       `json:"name"`
	Address      string       `json:"address,omitempty"`
	Location     model.LatLng `json:"location"`
	Rating       *float64     `json:"rating,omitempty"`
	SearchSource int          `json:"searchSource"`
	Time         string       `json:"time,omitempty"`
	AddedAt      time.Time    `json:"addedAt"`
}

type TripPlan struct {
	Name string                `json:"name"`
	Days map[string][]TripItem `json:"days"`
}

type savedState struct {
	TripPlan   TripPlan  `json:"tripPlan"`
	LastUpdate time.Time `json:"lastUpdate"`
}

func newTripPlan() TripPlan {
	return TripPlan{Name: defaultTripName, Days: map[string][]TripItem{}}
}

func (p TripPlan) clone() TripPlan {
	out := TripPlan{Name: p.Name, Days: make(map[string][]TripItem, len(p.Days))}
	for day, items := range p.Days {
		out.Days[day] = append([]TripItem(nil), items...)
	}
	return out
}

// DayIDs returns the plan's days in sorted order.
func (p TripPlan) DayIDs() []string {
	ids := make([]string, 0, len(p.Days))
	for id := range p.Days {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadTrip restores the plan from the store. A missing or unreadable blob
// leaves an empty plan; only the latter is logged.
func (s *State) LoadTrip(ctx context.Context) {
	if s.opts.Store == nil {
		return
	}
	data, err := s.opts.Store.LoadBlob(ctx, TripBlobKey)
	if err != nil {
		s.logger.Debug().Err(err).Msg("no saved trip plan")
		return
	}
	var saved savedState
	if err := json.Unmarshal(data, &saved); err != nil {
		s.logger.Warn().Err(err).Msg("discarding unreadable trip plan")
		return
	}
	if saved.TripPlan.Days == nil {
		saved.TripPlan.Days = map[string][]TripItem{}
	}
	s.tripMu.Lock()
	s.trip = saved.TripPlan
	s.tripMu.Unlock()
}

// AddToTrip appends place to day. at is an optional time of day such as
// "13:00".
func (s *State) AddToTrip(ctx context.Context, day string, p model.Place, at string) error {
	if day == "" {
		return fmt.Errorf("day is required")
	}
	s.tripMu.Lock()
	defer s.tripMu.Unlock()

	for _, item := range s.trip.Days[day] {
		if item.PlaceID == p.ID {
			return fmt.Errorf("%s in %s: %w", p.Name, day, ErrAlreadyInDay)
		}
	}
	s.trip.Days[day] = append(s.trip.Days[day], TripItem{
		PlaceID:      p.ID,
		Name:         p.Name,
		Address:      p.Address,
		Location:     p.Location,
		Rating:       p.Rating,
		SearchSource: p.SearchSource,
		Time:         at,
		AddedAt:      time.Now().UTC(),
	})
	return s.saveTrip(ctx)
}

// RemoveFromTrip drops every item with placeID from day. Unknown days are a
// no-op.
func (s *State) RemoveFromTrip(ctx context.Context, day, placeID string) error {
	s.tripMu.Lock()
	defer s.tripMu.Unlock()

	items, ok := s.trip.Days[day]
	if !ok {
		return nil
	}
	kept := items[:0:0]
	for _, item := range items {
		if item.PlaceID != placeID {
			kept = append(kept, item)
		}
	}
	s.trip.Days[day] = kept
	return s.saveTrip(ctx)
}

// Trip returns a copy of the items saved to day.
func (s *State) Trip(day string) []TripItem {
	s.tripMu.Lock()
	defer s.tripMu.Unlock()
	return append([]TripItem(nil), s.trip.Days[day]...)
}

// TripPlan returns a copy of the whole plan.
func (s *State) TripPlan() TripPlan {
	s.tripMu.Lock()
	defer s.tripMu.Unlock()
	return s.trip.clone()
}

// ClearTrip resets the plan and deletes the saved blob.
func (s *State) ClearTrip(ctx context.Context) error {
	s.tripMu.Lock()
	defer s.tripMu.Unlock()
	s.trip = newTripPlan()
	if s.opts.Store == nil {
		return nil
	}
	return s.opts.Store.DeleteBlob(ctx, TripBlobKey)
}

// saveTrip writes the plan. Caller holds tripMu.
func (s *State) saveTrip(ctx context.Context) error {
	if s.opts.Store == nil {
		return nil
	}
	data, err := json.Marshal(savedState{TripPlan: s.trip, LastUpdate: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding trip plan: %w", err)
	}
	if err := s.opts.Store.SaveBlob(ctx, TripBlobKey, data); err != nil {
		return fmt.Errorf("saving trip plan: %w", err)
	}
	return nil
}
