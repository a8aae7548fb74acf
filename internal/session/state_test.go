package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/circletap/internal/model"
)

type execFunc func(ctx context.Context, c model.Circle, specs []model.SearchSpec) (*model.Result, error)

func (f execFunc) Execute(ctx context.Context, c model.Circle, specs []model.SearchSpec) (*model.Result, error) {
	return f(ctx, c, specs)
}

var rome = model.Circle{Center: model.LatLng{Lat: 41.9028, Lng: 12.4964}, RadiusMeters: 2000}

func echoExec(runID string) execFunc {
	return func(_ context.Context, c model.Circle, _ []model.SearchSpec) (*model.Result, error) {
		return &model.Result{RunID: runID, Circle: c, Places: []model.Place{{ID: "p1", Name: "Roscioli"}}}, nil
	}
}

func newState(exec Executor) *State {
	return New(exec, Options{MaxRadius: 25000}, zerolog.Nop())
}

func TestSearchCommitsResult(t *testing.T) {
	s := newState(echoExec("run-1"))
	require.NoError(t, s.SetCircle(rome))

	res, err := s.Search(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)

	got := s.Results()
	require.NotNil(t, got)
	assert.Equal(t, rome, got.Circle)

	got.Places[0].Name = "mutated"
	assert.Equal(t, "Roscioli", s.Results().Places[0].Name, "readers get copies")
}

func TestResultsAreDeepCopies(t *testing.T) {
	rating := 4.5
	s := newState(execFunc(func(_ context.Context, c model.Circle, _ []model.SearchSpec) (*model.Result, error) {
		return &model.Result{
			RunID:  "run-deep",
			Circle: c,
			Places: []model.Place{{ID: "p1", Name: "Roscioli", Types: []string{"restaurant"}, Rating: &rating}},
			Duplicates: model.DuplicateReport{
				HasDuplicates: true,
				DuplicateIDs:  []string{"p1"},
				DetailsByID: map[string]model.DuplicateDetail{
					"p1": {Count: 2, Places: []model.DuplicateSource{{Name: "Roscioli", SearchSource: 0}, {Name: "Roscioli", SearchSource: 2}}},
				},
			},
		}, nil
	}))
	require.NoError(t, s.SetCircle(rome))
	_, err := s.Search(context.Background())
	require.NoError(t, err)

	got := s.Results()
	got.Places[0].Types[0] = "mutated"
	*got.Places[0].Rating = 1
	got.Duplicates.DetailsByID["p1"].Places[0].Name = "mutated"
	got.Duplicates.DetailsByID["p2"] = model.DuplicateDetail{Count: 9}

	again := s.Results()
	assert.Equal(t, []string{"restaurant"}, again.Places[0].Types)
	assert.Equal(t, 4.5, *again.Places[0].Rating)
	assert.Equal(t, "Roscioli", again.Duplicates.DetailsByID["p1"].Places[0].Name)
	assert.NotContains(t, again.Duplicates.DetailsByID, "p2")
}

func TestSearchWithoutCircle(t *testing.T) {
	s := newState(echoExec("x"))
	_, err := s.Search(context.Background())
	assert.ErrorIs(t, err, ErrNoCircle)
}

func TestSetCircleRejectsInvalid(t *testing.T) {
	s := newState(echoExec("x"))
	assert.Error(t, s.SetCircle(model.Circle{Center: rome.Center, RadiusMeters: 0}))
	assert.Error(t, s.SetCircle(model.Circle{Center: rome.Center, RadiusMeters: 30000}))
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestStaleResultDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	exec := execFunc(func(_ context.Context, c model.Circle, _ []model.SearchSpec) (*model.Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release // ignores cancellation, like a slow response
			return &model.Result{RunID: "old", Circle: c}, nil
		}
		return &model.Result{RunID: "new", Circle: c}, nil
	})
	s := newState(exec)
	require.NoError(t, s.SetCircle(rome))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Search(context.Background())
		errCh <- err
	}()
	<-started

	require.NoError(t, s.Move(500, 0))
	res, err := s.Search(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", res.RunID)

	close(release)
	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	assert.Equal(t, "new", s.Results().RunID)
}

func TestNewSearchCancelsPrevious(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	exec := execFunc(func(ctx context.Context, c model.Circle, _ []model.SearchSpec) (*model.Result, error) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(started)
			<-ctx.Done()
			return &model.Result{RunID: "old"}, ctx.Err()
		}
		return &model.Result{RunID: "new"}, nil
	})
	s := newState(exec)
	require.NoError(t, s.SetCircle(rome))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Search(context.Background())
		errCh <- err
	}()
	<-started

	_, err := s.Search(context.Background())
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded search was not cancelled")
	}
	assert.Equal(t, "new", s.Results().RunID)
}

func TestClearDropsResultAndInFlight(t *testing.T) {
	started := make(chan struct{})
	exec := execFunc(func(ctx context.Context, c model.Circle, _ []model.SearchSpec) (*model.Result, error) {
		close(started)
		<-ctx.Done()
		return &model.Result{RunID: "late"}, ctx.Err()
	})
	s := newState(exec)
	require.NoError(t, s.SetCircle(rome))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Search(context.Background())
		errCh <- err
	}()
	<-started
	s.Clear()

	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	assert.Nil(t, s.Results())
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSearchErrorNotCommitted(t *testing.T) {
	boom := errors.New("invalid circle")
	s := newState(execFunc(func(context.Context, model.Circle, []model.SearchSpec) (*model.Result, error) {
		return nil, boom
	}))
	require.NoError(t, s.SetCircle(rome))
	_, err := s.Search(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, s.Results())
}

func TestMoveAndResize(t *testing.T) {
	s := newState(echoExec("x"))
	assert.ErrorIs(t, s.Move(100, 0), ErrNoCircle)
	assert.ErrorIs(t, s.Resize(100), ErrNoCircle)

	require.NoError(t, s.SetCircle(rome))
	g0 := s.Generation()

	require.NoError(t, s.Move(1110, 0))
	c, _ := s.Current()
	assert.InDelta(t, rome.Center.Lat+0.01, c.Center.Lat, 1e-9)
	assert.InDelta(t, rome.Center.Lng, c.Center.Lng, 1e-9)
	assert.Greater(t, s.Generation(), g0)

	require.NoError(t, s.Resize(500))
	c, _ = s.Current()
	assert.Equal(t, 2500.0, c.RadiusMeters)

	require.NoError(t, s.Resize(100000))
	c, _ = s.Current()
	assert.Equal(t, 25000.0, c.RadiusMeters, "clamped to maximum")

	assert.Error(t, s.Resize(-30000))
	c, _ = s.Current()
	assert.Equal(t, 25000.0, c.RadiusMeters, "rejected resize leaves circle unchanged")
}

func TestSubCirclesFollowCircle(t *testing.T) {
	s := newState(echoExec("x"))
	_, ok := s.SubCircles()
	assert.False(t, ok)

	require.NoError(t, s.SetCircle(rome))
	subs, ok := s.SubCircles()
	require.True(t, ok)
	assert.Equal(t, model.NW, subs[0].Direction)
	assert.InDelta(t, 1400.0, subs[0].RadiusMeters, 1e-9)
}
