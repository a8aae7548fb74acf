package views

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/rendis/circletap/internal/engine/catalog"
	"github.com/rendis/circletap/internal/engine/geo"
	"github.com/rendis/circletap/internal/engine/search"
	"github.com/rendis/circletap/internal/engine/storage"
	"github.com/rendis/circletap/internal/model"
	"github.com/rendis/circletap/internal/session"
	"github.com/rendis/circletap/internal/tui/components"
	"github.com/rendis/circletap/internal/tui/styles"
)

// Tracker runs searches with live counters the view can poll.
// It lives behind a pointer so it survives bubbletea's value copies.
type Tracker struct {
	orch  *search.Orchestrator
	mu    sync.Mutex
	stats *search.Stats
}

func NewTracker(o *search.Orchestrator) *Tracker {
	return &Tracker{orch: o}
}

func (t *Tracker) Execute(ctx context.Context, c model.Circle, specs []model.SearchSpec) (*model.Result, error) {
	stats := &search.Stats{SpecsTotal: len(specs)}
	t.mu.Lock()
	t.stats = stats
	t.mu.Unlock()
	return t.orch.Run(ctx, c, specs, &search.RunOptions{Stats: stats})
}

func (t *Tracker) current() *search.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// LiveModel is the interactive circle: every move or resize re-runs the
// fan-out search and redraws the map and grouped list.
type LiveModel struct {
	state     *session.State
	tracker   *Tracker
	store     *storage.Store
	logger    zerolog.Logger
	label     string
	dbPath    string
	progress  progress.Model
	mapView   components.MapView
	result    *model.Result
	searching bool
	err       error
	startTime time.Time
	scroll    int
	width     int
	height    int
}

type progressTickMsg time.Time

type liveSearchMsg struct {
	res *model.Result
	err error
}

// LiveOptions wires a live view to its project.
type LiveOptions struct {
	State   *session.State
	Tracker *Tracker
	Store   *storage.Store
	DBPath  string
	Label   string
	Logger  zerolog.Logger
}

func NewLiveModel(opts LiveOptions) LiveModel {
	// Init always starts the first search.
	m := LiveModel{
		state:     opts.State,
		tracker:   opts.Tracker,
		store:     opts.Store,
		logger:    opts.Logger,
		label:     opts.Label,
		dbPath:    opts.DBPath,
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		mapView:   components.NewMapView(40, 16),
		searching: true,
		startTime: time.Now(),
	}
	m.refreshMap()
	return m
}

func (m LiveModel) Init() tea.Cmd {
	return m.searchCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return progressTickMsg(t)
	})
}

func (m *LiveModel) startSearch() tea.Cmd {
	m.searching = true
	m.startTime = time.Now()
	return m.searchCmd()
}

func (m LiveModel) searchCmd() tea.Cmd {
	state, store, logger := m.state, m.store, m.logger
	run := func() tea.Msg {
		res, err := state.Search(context.Background())
		if err == nil && store != nil {
			if serr := store.SaveRun(context.Background(), res); serr != nil {
				logger.Error().Err(serr).Str("run_id", res.RunID).Msg("saving run")
			}
		}
		return liveSearchMsg{res: res, err: err}
	}
	return tea.Batch(run, tickCmd())
}

// mutate applies a circle change and re-searches.
func (m *LiveModel) mutate(err error) tea.Cmd {
	if err != nil {
		m.err = err
		return nil
	}
	m.err = nil
	m.refreshMap()
	return m.startSearch()
}

func (m *LiveModel) refreshMap() {
	c, ok := m.state.Current()
	if !ok {
		return
	}
	m.mapView.SetBounds(geo.Bound(c))

	overlays := []components.Overlay{{Ring: geo.Ring(c, 64), Color: styles.CircleMain}}
	if subs, ok := m.state.SubCircles(); ok {
		for _, s := range subs {
			sub := model.Circle{Center: s.Center, RadiusMeters: s.RadiusMeters}
			overlays = append(overlays, components.Overlay{Ring: geo.Ring(sub, 48), Color: styles.CircleSub})
		}
	}
	m.mapView.SetOverlays(overlays)

	var points []components.Point
	if m.result != nil {
		specs := m.state.Specs()
		points = make([]components.Point, len(m.result.Places))
		for i, p := range m.result.Places {
			points[i] = components.Point{Lat: p.Location.Lat, Lng: p.Location.Lng, Color: catalog.Color(specs, p.SearchSource)}
		}
	}
	m.mapView.SetPoints(points)
}

func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.mapView.SetSize(m.mapWidth(), m.bodyHeight())
		m.progress.Width = min(40, max(10, m.width/3))
		return m, nil

	case liveSearchMsg:
		if errors.Is(msg.err, session.ErrSuperseded) {
			return m, nil
		}
		m.searching = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.result = msg.res
		m.scroll = 0
		m.refreshMap()
		return m, nil

	case progressTickMsg:
		if !m.searching {
			return m, nil
		}
		return m, tickCmd()

	case tea.KeyMsg:
		c, _ := m.state.Current()
		step := c.RadiusMeters / 4
		switch msg.String() {
		case "ctrl+c":
			m.state.Clear()
			return m, tea.Quit
		case "esc":
			m.state.Clear()
			return m, func() tea.Msg { return NavigateToHome{} }
		case "up", "k":
			cmd := m.mutate(m.state.Move(step, 0))
			return m, cmd
		case "down", "j":
			cmd := m.mutate(m.state.Move(-step, 0))
			return m, cmd
		case "left", "h":
			cmd := m.mutate(m.state.Move(0, -step))
			return m, cmd
		case "right", "l":
			cmd := m.mutate(m.state.Move(0, step))
			return m, cmd
		case "+", "=":
			cmd := m.mutate(m.state.Resize(c.RadiusMeters / 10))
			return m, cmd
		case "-", "_":
			cmd := m.mutate(m.state.Resize(-c.RadiusMeters / 10))
			return m, cmd
		case "r":
			cmd := m.startSearch()
			return m, cmd
		case "z":
			m.mapView.ZoomIn()
		case "x":
			m.mapView.ZoomOut()
		case "0":
			m.mapView.ZoomReset()
		case "pgdown", "J":
			m.scroll++
		case "pgup", "K":
			m.scroll = max(0, m.scroll-1)
		case "enter":
			if m.result != nil && !m.searching {
				dbPath, runID := m.dbPath, m.result.RunID
				return m, func() tea.Msg {
					return NavigateToExplorer{DBPath: dbPath, RunID: runID}
				}
			}
		}
		return m, nil
	}

	pModel, cmd := m.progress.Update(msg)
	m.progress = pModel.(progress.Model)
	return m, cmd
}

func (m LiveModel) mapWidth() int {
	return max(20, m.width/2-2)
}

func (m LiveModel) bodyHeight() int {
	return max(8, m.height-9)
}

func (m LiveModel) View() string {
	var b strings.Builder

	title := "Search: " + m.label
	if c, ok := m.state.Current(); ok {
		title += lipgloss.NewStyle().Foreground(styles.Muted).
			Render(fmt.Sprintf("  %.5f, %.5f  r=%.0fm", c.Center.Lat, c.Center.Lng, c.RadiusMeters))
	}
	b.WriteString(styles.Title.Render(title))
	b.WriteString("\n")

	mapBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.Muted).
		Render(m.mapView.View())
	listW := max(24, m.width-m.mapWidth()-6)
	listBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.Muted).
		Padding(0, 1).
		Width(listW).
		Height(m.bodyHeight()).
		Render(m.renderGroups(listW-2, m.bodyHeight()))
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, mapBox, " ", listBox))
	b.WriteString("\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(styles.StatusBar.Render("←↑↓→ move • +/- resize • r rerun • z/x/0 zoom • pgup/pgdn list • enter explore • esc back"))
	return b.String()
}

func (m LiveModel) renderStatus() string {
	if m.searching {
		var pct float64
		done, total := int64(0), 0
		if s := m.tracker.current(); s != nil && s.SpecsTotal > 0 {
			done, total = s.SpecsDone.Load(), s.SpecsTotal
			pct = float64(done) / float64(total)
		}
		elapsed := time.Since(m.startTime).Truncate(100 * time.Millisecond)
		return m.progress.ViewAs(pct) + lipgloss.NewStyle().Foreground(styles.Muted).
			Render(fmt.Sprintf("  %d/%d searches  %s", done, total, elapsed))
	}
	if m.err != nil {
		return styles.ErrorText.Render("Error: " + m.err.Error())
	}
	if m.result == nil {
		return ""
	}

	st := m.result.Stats
	summary := fmt.Sprintf("%d places • %d/%d searches failed • %d outside • %d duplicates removed",
		st.Total, st.Failed, st.Requested, st.DroppedOutside, st.DuplicatesRemoved)
	switch m.result.Status() {
	case model.StatusFailed:
		return styles.ErrorText.Render("All searches failed. Is the relay running? ") +
			lipgloss.NewStyle().Foreground(styles.Muted).Render(summary)
	case model.StatusPartial:
		return styles.WarningText.Render("Some searches failed. ") +
			lipgloss.NewStyle().Foreground(styles.Muted).Render(summary)
	case model.StatusEmpty:
		return styles.EmptyText.Render("No places found in this area. ") +
			lipgloss.NewStyle().Foreground(styles.Muted).Render(summary)
	}
	return lipgloss.NewStyle().Foreground(styles.Success).Render(summary)
}

// resultGroup is one spec's slice of the result list.
type resultGroup struct {
	Spec   model.SearchSpec
	Places []model.Place
	Error  string
}

// groupResults splits a result by spec, in spec order. Specs that were not
// part of the run are omitted.
func groupResults(res *model.Result, specs []model.SearchSpec) []resultGroup {
	if res == nil {
		return nil
	}
	errs := make(map[int]string, len(res.Outcomes))
	ran := make(map[int]bool, len(res.Outcomes))
	for _, o := range res.Outcomes {
		ran[o.SpecID] = true
		if o.Failed() {
			errs[o.SpecID] = o.Error
		}
	}
	bySpec := res.PlacesBySpec()

	var groups []resultGroup
	for _, s := range specs {
		if !ran[s.ID] {
			continue
		}
		groups = append(groups, resultGroup{Spec: s, Places: bySpec[s.ID], Error: errs[s.ID]})
	}
	return groups
}

func (m LiveModel) renderGroups(w, h int) string {
	groups := groupResults(m.result, m.state.Specs())
	if len(groups) == 0 {
		return styles.EmptyText.Render("Waiting for results...")
	}

	muted := lipgloss.NewStyle().Foreground(styles.Muted)
	text := lipgloss.NewStyle().Foreground(styles.Text)

	var lines []string
	for _, g := range groups {
		lines = append(lines, styles.SpecHeader(g.Spec.Color).
			Render(fmt.Sprintf("● %s (%d)", g.Spec.Label, len(g.Places))))
		switch {
		case g.Error != "":
			lines = append(lines, styles.WarningText.Render(truncate("  ⚠ failed: "+g.Error, w)))
		case len(g.Places) == 0:
			lines = append(lines, styles.EmptyText.Render("  (no results)"))
		}
		for _, p := range g.Places {
			line := "  " + truncate(p.Name, w-9)
			if p.Rating != nil {
				line += muted.Render(fmt.Sprintf(" ★%.1f", *p.Rating))
			}
			lines = append(lines, text.Render(line))
		}
	}

	start := min(m.scroll, max(0, len(lines)-h))
	end := min(len(lines), start+h)
	return strings.Join(lines[start:end], "\n")
}
