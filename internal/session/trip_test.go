package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/circletap/internal/engine/storage"
	"github.com/rendis/circletap/internal/model"
)

func tripState(t *testing.T, store BlobStore) *State {
	t.Helper()
	return New(echoExec("x"), Options{MaxRadius: 25000, Store: store}, zerolog.Nop())
}

func sqliteStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.NewStore(filepath.Join(t.TempDir(), "trip.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

var (
	pantheon = model.Place{ID: "p-pantheon", Name: "Pantheon", Location: model.LatLng{Lat: 41.8986, Lng: 12.4769}, SearchSource: 6}
	roscioli = model.Place{ID: "p-roscioli", Name: "Roscioli", Location: model.LatLng{Lat: 41.8940, Lng: 12.4730}, SearchSource: 1}
)

func TestAddToTrip(t *testing.T) {
	ctx := context.Background()
	s := tripState(t, nil)

	require.NoError(t, s.AddToTrip(ctx, "day1", pantheon, "10:00"))
	require.NoError(t, s.AddToTrip(ctx, "day1", roscioli, "13:00"))
	require.NoError(t, s.AddToTrip(ctx, "day2", pantheon, ""))

	err := s.AddToTrip(ctx, "day1", pantheon, "")
	assert.ErrorIs(t, err, ErrAlreadyInDay)

	day1 := s.Trip("day1")
	require.Len(t, day1, 2)
	assert.Equal(t, "Pantheon", day1[0].Name)
	assert.Equal(t, "13:00", day1[1].Time)
	assert.Equal(t, 41.8940, day1[1].Location.Lat)
	assert.Empty(t, s.Trip("day9"))
	assert.Equal(t, []string{"day1", "day2"}, s.TripPlan().DayIDs())

	assert.Error(t, s.AddToTrip(ctx, "", pantheon, ""))
}

func TestRemoveFromTrip(t *testing.T) {
	ctx := context.Background()
	s := tripState(t, nil)
	require.NoError(t, s.AddToTrip(ctx, "day1", pantheon, ""))
	require.NoError(t, s.AddToTrip(ctx, "day1", roscioli, ""))

	require.NoError(t, s.RemoveFromTrip(ctx, "day1", pantheon.ID))
	require.NoError(t, s.RemoveFromTrip(ctx, "nope", pantheon.ID))

	day1 := s.Trip("day1")
	require.Len(t, day1, 1)
	assert.Equal(t, roscioli.ID, day1[0].PlaceID)
}

func TestTripPersistence(t *testing.T) {
	ctx := context.Background()
	st := sqliteStore(t)

	s := tripState(t, st)
	require.NoError(t, s.AddToTrip(ctx, "day1", pantheon, "10:00"))

	reloaded := tripState(t, st)
	reloaded.LoadTrip(ctx)
	plan := reloaded.TripPlan()
	assert.Equal(t, defaultTripName, plan.Name)
	require.Len(t, plan.Days["day1"], 1)
	assert.Equal(t, "10:00", plan.Days["day1"][0].Time)

	require.NoError(t, reloaded.ClearTrip(ctx))
	assert.Empty(t, reloaded.TripPlan().Days)
	_, err := st.LoadBlob(ctx, TripBlobKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadTripCorruptBlob(t *testing.T) {
	ctx := context.Background()
	st := sqliteStore(t)
	require.NoError(t, st.SaveBlob(ctx, TripBlobKey, []byte("{not json")))

	s := tripState(t, st)
	s.LoadTrip(ctx)
	assert.Empty(t, s.TripPlan().Days)
	require.NoError(t, s.AddToTrip(ctx, "day1", pantheon, ""))
}

func TestTripPlanIsCopy(t *testing.T) {
	ctx := context.Background()
	s := tripState(t, nil)
	require.NoError(t, s.AddToTrip(ctx, "day1", pantheon, ""))

	plan := s.TripPlan()
	plan.Days["day1"][0].Name = "changed"
	assert.Equal(t, "Pantheon", s.Trip("day1")[0].Name)
}
