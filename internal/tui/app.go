package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/rendis/circletap/internal/config"
	"github.com/rendis/circletap/internal/engine/geo"
	"github.com/rendis/circletap/internal/engine/search"
	"github.com/rendis/circletap/internal/engine/storage"
	"github.com/rendis/circletap/internal/session"
	"github.com/rendis/circletap/internal/tui/styles"
	"github.com/rendis/circletap/internal/tui/views"
)

const defaultRadius = 2000

type viewID int

const (
	viewHome viewID = iota
	viewSearch
	viewLive
	viewExplorer
	viewRecent
	viewTrip
)

// Options wire the TUI to its backends.
type Options struct {
	Config   *config.Config
	Searcher search.Searcher
	Geocoder *geo.Geocoder
	Logger   zerolog.Logger
	Version  string
}

// App is the root bubbletea model.
type App struct {
	opts        Options
	state       *session.State
	tracker     *views.Tracker
	project     *storage.Store
	projectPath string

	currentView viewID
	width       int
	height      int
	err         error
	home        views.HomeModel
	search      views.SearchModel
	live        views.LiveModel
	explorer    views.ExplorerModel
	recent      views.RecentModel
	trip        views.TripModel
}

// NewApp builds the root model. stateStore holds the trip plan across
// projects and may be nil.
func NewApp(opts Options, stateStore *storage.Store) *App {
	cfg := opts.Config
	orch := search.New(opts.Searcher, search.Options{
		MaxRadius:        cfg.Search.MaxRadius,
		Ratios:           cfg.Ratios(),
		Concurrency:      cfg.Search.Concurrency,
		RequestTimeout:   cfg.Search.Timeout,
		FallbackIdentity: cfg.Search.FallbackIdentity,
	}, opts.Logger)
	tracker := views.NewTracker(orch)

	sopts := session.Options{
		Specs:     cfg.Specs(),
		MaxRadius: cfg.Search.MaxRadius,
		Ratios:    cfg.Ratios(),
	}
	if stateStore != nil {
		sopts.Store = stateStore
	}
	state := session.New(tracker, sopts, opts.Logger)
	state.LoadTrip(context.Background())

	return &App{
		opts:        opts,
		state:       state,
		tracker:     tracker,
		currentView: viewHome,
		home:        views.NewHomeModel(opts.Version, cfg.Search.ProxyURL),
	}
}

func (a *App) Init() tea.Cmd {
	return a.home.Init()
}

func (a *App) searchDefaults() views.SearchDefaults {
	d := views.SearchDefaults{
		Center:    a.opts.Config.Map.DefaultCenter,
		Radius:    defaultRadius,
		MaxRadius: a.opts.Config.Search.MaxRadius,
		OutputDir: "./projects",
	}
	if c, ok := a.state.Current(); ok {
		d.Center, d.Radius = c.Center, c.RadiusMeters
	}
	return d
}

// openProject switches the live session to the database at path.
func (a *App) openProject(path string) error {
	if path == a.projectPath && a.project != nil {
		return nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating project dir: %w", err)
		}
	}
	store, err := storage.NewStore(path)
	if err != nil {
		return err
	}
	a.closeProject()
	a.project = store
	a.projectPath = path
	return nil
}

func (a *App) closeProject() {
	if a.project == nil {
		return
	}
	if err := a.project.Close(); err != nil {
		a.opts.Logger.Warn().Err(err).Str("path", a.projectPath).Msg("closing project")
	}
	a.project = nil
	a.projectPath = ""
}

func (a *App) startLive(label string) tea.Cmd {
	a.currentView = viewLive
	a.live = views.NewLiveModel(views.LiveOptions{
		State:   a.state,
		Tracker: a.tracker,
		Store:   a.project,
		DBPath:  a.projectPath,
		Label:   label,
		Logger:  a.opts.Logger,
	})
	return tea.Batch(a.live.Init(), a.sizeCmd())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && a.currentView != viewLive {
			return a, tea.Quit
		}
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
	case views.NavigateToSearch:
		a.err = nil
		a.currentView = viewSearch
		a.search = views.NewSearchModel(a.searchDefaults(), a.opts.Geocoder)
		return a, a.search.Init()
	case views.NavigateToHome:
		a.currentView = viewHome
		return a, nil
	case views.NavigateToTrip:
		a.currentView = viewTrip
		a.trip = views.NewTripModel(a.state)
		return a, a.trip.Init()
	case views.StartSessionMsg:
		path := projectPath(msg.Output, msg.Label, time.Now())
		if err := a.openProject(path); err != nil {
			a.err = err
			a.currentView = viewHome
			return a, nil
		}
		if err := a.state.SetCircle(msg.Circle); err != nil {
			a.err = err
			a.currentView = viewHome
			return a, nil
		}
		SaveRecent(RecentEntry{Path: path, Label: msg.Label, Circle: msg.Circle})
		return a, a.startLive(msg.Label)
	case views.ResumeSessionMsg:
		if err := a.openProject(msg.Path); err != nil {
			a.err = err
			a.currentView = viewHome
			return a, nil
		}
		if err := a.state.SetCircle(msg.Circle); err != nil {
			a.err = err
			a.currentView = viewHome
			return a, nil
		}
		SaveRecent(RecentEntry{Path: msg.Path})
		return a, a.startLive(msg.Label)
	case views.NavigateToExplorer:
		a.currentView = viewExplorer
		a.explorer = views.NewExplorerModel(msg.DBPath, msg.RunID, a.state)
		SaveRecent(RecentEntry{Path: msg.DBPath})
		return a, tea.Batch(a.explorer.Init(), a.sizeCmd())
	case views.NavigateToRecent:
		a.currentView = viewRecent
		var recentEntries []views.RecentEntry
		for _, e := range LoadRecent() {
			recentEntries = append(recentEntries, views.RecentEntry{
				Path:     e.Path,
				Label:    e.Label,
				Circle:   e.Circle,
				OpenedAt: e.OpenedAt,
			})
		}
		a.recent = views.NewRecentModel(recentEntries)
		return a, a.recent.Init()
	}

	var cmd tea.Cmd
	switch a.currentView {
	case viewHome:
		var m tea.Model
		m, cmd = a.home.Update(msg)
		a.home = m.(views.HomeModel)
	case viewSearch:
		var m tea.Model
		m, cmd = a.search.Update(msg)
		a.search = m.(views.SearchModel)
	case viewLive:
		var m tea.Model
		m, cmd = a.live.Update(msg)
		a.live = m.(views.LiveModel)
	case viewExplorer:
		var m tea.Model
		m, cmd = a.explorer.Update(msg)
		a.explorer = m.(views.ExplorerModel)
	case viewRecent:
		var m tea.Model
		m, cmd = a.recent.Update(msg)
		a.recent = m.(views.RecentModel)
	case viewTrip:
		var m tea.Model
		m, cmd = a.trip.Update(msg)
		a.trip = m.(views.TripModel)
	}

	return a, cmd
}

func (a *App) View() string {
	var content string
	switch a.currentView {
	case viewHome:
		content = a.home.View()
		if a.err != nil {
			content += "\n" + styles.ErrorText.Render("Error: "+a.err.Error())
		}
	case viewSearch:
		content = a.search.View()
	case viewLive:
		content = a.live.View()
	case viewExplorer:
		content = a.explorer.View()
	case viewRecent:
		content = a.recent.View()
	case viewTrip:
		content = a.trip.View()
	}

	return lipgloss.Place(
		a.width, a.height,
		lipgloss.Center, lipgloss.Top,
		content,
	)
}

// sizeCmd sends a WindowSizeMsg so newly created views get the current terminal size.
func (a *App) sizeCmd() tea.Cmd {
	w, h := a.width, a.height
	return func() tea.Msg {
		return tea.WindowSizeMsg{Width: w, Height: h}
	}
}

// projectPath names a new project database after its label and start time.
func projectPath(dir, label string, now time.Time) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.db", slug(label), now.Format("20060102_150405")))
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "search"
	}
	return out
}

// Run starts the TUI and blocks until it exits.
func Run(opts Options) error {
	if err := os.MkdirAll(StateDir(), 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	stateStore, err := storage.NewStore(filepath.Join(StateDir(), "state.db"))
	if err != nil {
		return fmt.Errorf("opening state db: %w", err)
	}
	defer stateStore.Close()

	app := NewApp(opts, stateStore)
	defer app.closeProject()

	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err = p.Run()
	app.state.Clear()
	return err
}
