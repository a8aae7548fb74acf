package views

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rendis/circletap/internal/engine/geo"
	"github.com/rendis/circletap/internal/engine/storage"
	"github.com/rendis/circletap/internal/export"
	"github.com/rendis/circletap/internal/model"
	"github.com/rendis/circletap/internal/session"
	"github.com/rendis/circletap/internal/tui/styles"
)

type focusArea int

const (
	focusTable focusArea = iota
	focusFilter
	focusCard
	focusJSON
)

const maxTripDays = 14

// ExplorerModel displays a stored run with table + detail panels.
type ExplorerModel struct {
	dbPath    string
	runID     string
	state     *session.State
	circle    model.Circle
	places    []model.Place
	filtered  []model.Place
	table     table.Model
	filter    textinput.Model
	focus     focusArea
	selected  int
	day       int
	width     int
	height    int
	err       error
	total     int
	exportMsg string

	// Scroll state for detail panels
	cardScrollY int
	cardLines   []string // cached rendered card lines
	jsonScrollY int
	jsonScrollX int
	jsonLines   []string // cached raw JSON lines
	jsonRaw     string   // full JSON for clipboard copy
}

type runLoadedMsg struct {
	Run *model.Result
	Err error
}

// NavigateToExplorer opens a stored run. An empty RunID selects the latest.
type NavigateToExplorer struct {
	DBPath string
	RunID  string
}

// NewExplorerModel builds an explorer over dbPath. state provides the spec
// table for labels and the trip plan places are added to.
func NewExplorerModel(dbPath, runID string, state *session.State) ExplorerModel {
	filter := textinput.New()
	filter.Placeholder = "Type to filter..."
	filter.CharLimit = 50

	return ExplorerModel{
		dbPath:   dbPath,
		runID:    runID,
		state:    state,
		filter:   filter,
		selected: -1,
		day:      1,
	}
}

func (m ExplorerModel) Init() tea.Cmd {
	dbPath, runID := m.dbPath, m.runID
	return func() tea.Msg {
		run, err := loadRun(dbPath, runID)
		return runLoadedMsg{Run: run, Err: err}
	}
}

func loadRun(dbPath, runID string) (*model.Result, error) {
	store, err := storage.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx := context.Background()
	if runID == "" {
		return store.LatestRun(ctx)
	}
	return store.GetRun(ctx, runID)
}

func (m ExplorerModel) dayID() string {
	return fmt.Sprintf("Day %02d", m.day)
}

func (m ExplorerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
	case tea.KeyMsg:
		key := msg.String()

		// Global keys
		if key == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.focus {
		case focusTable:
			switch key {
			case "esc", "q":
				return m, func() tea.Msg { return NavigateToHome{} }
			case "/", "tab":
				m.focus = focusFilter
				m.filter.Focus()
				return m, textinput.Blink
			case "1":
				m.focus = focusCard
				m.table.SetStyles(m.unfocusedTableStyles())
				return m, nil
			case "2":
				m.focus = focusJSON
				m.table.SetStyles(m.unfocusedTableStyles())
				return m, nil
			case "e":
				m.exportFiles()
				return m, nil
			case "a":
				m.addSelectedToTrip()
				return m, nil
			case "[":
				m.day = max(1, m.day-1)
				return m, nil
			case "]":
				m.day = min(maxTripDays, m.day+1)
				return m, nil
			}

		case focusFilter:
			switch key {
			case "esc", "enter", "tab":
				m.focus = focusTable
				m.filter.Blur()
				return m, nil
			}

		case focusCard:
			maxScroll := max(0, len(m.cardLines)-m.panelHeight())
			switch key {
			case "esc":
				m.focus = focusTable
				m.table.SetStyles(m.focusedTableStyles())
				return m, nil
			case "up", "k":
				if m.cardScrollY > 0 {
					m.cardScrollY--
				}
				return m, nil
			case "down", "j":
				if m.cardScrollY < maxScroll {
					m.cardScrollY++
				}
				return m, nil
			}

		case focusJSON:
			maxScroll := max(0, len(m.jsonLines)-m.panelHeight())
			switch key {
			case "esc":
				m.focus = focusTable
				m.table.SetStyles(m.focusedTableStyles())
				return m, nil
			case "up", "k":
				if m.jsonScrollY > 0 {
					m.jsonScrollY--
				}
				return m, nil
			case "down", "j":
				if m.jsonScrollY < maxScroll {
					m.jsonScrollY++
				}
				return m, nil
			case "left", "h":
				m.jsonScrollX = max(0, m.jsonScrollX-4)
				return m, nil
			case "right", "l":
				m.jsonScrollX += 4
				return m, nil
			case "c":
				m.copyToClipboard()
				return m, nil
			}
		}

	case runLoadedMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		m.runID = msg.Run.RunID
		m.circle = msg.Run.Circle
		m.places = msg.Run.Places
		m.filtered = msg.Run.Places
		m.total = len(m.places)
		m.buildTable(m.places)
		m.updateLayout()
		if len(m.filtered) > 0 {
			m.selected = 0
			m.cacheDetailContent()
		}
		return m, nil
	}

	// Route input to focused area
	var cmd tea.Cmd
	switch m.focus {
	case focusTable:
		m.table, cmd = m.table.Update(msg)
		cursor := m.table.Cursor()
		if cursor != m.selected && cursor < len(m.filtered) {
			m.selected = cursor
			m.cardScrollY = 0
			m.jsonScrollY = 0
			m.jsonScrollX = 0
			m.cacheDetailContent()
		}
	case focusFilter:
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
	}

	return m, cmd
}

func (m *ExplorerModel) cacheDetailContent() {
	if m.selected < 0 || m.selected >= len(m.filtered) {
		m.cardLines = nil
		m.jsonLines = nil
		m.jsonRaw = ""
		return
	}

	p := m.filtered[m.selected]
	m.cardLines = m.buildCardLines(p)

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		m.jsonLines = []string{"JSON error"}
		m.jsonRaw = ""
		return
	}
	m.jsonRaw = string(data)
	m.jsonLines = strings.Split(m.jsonRaw, "\n")
}

func (m ExplorerModel) specLabel(id int) string {
	for _, s := range m.state.Specs() {
		if s.ID == id {
			return s.Label
		}
	}
	return fmt.Sprintf("#%d", id)
}

func (m ExplorerModel) buildCardLines(p model.Place) []string {
	var lines []string

	lines = append(lines, p.Name)

	if p.Rating != nil {
		r := fmt.Sprintf("%.1f", *p.Rating)
		if p.UserRatingCount > 0 {
			r += fmt.Sprintf(" (%d reviews)", p.UserRatingCount)
		}
		lines = append(lines, r)
	}

	if len(p.Types) > 0 {
		lines = append(lines, strings.Join(p.Types, ", "))
	}

	lines = append(lines, "")

	addRow := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("%-10s %s", label, value))
		}
	}

	addRow("Address:", p.Address)
	addRow("Website:", p.WebsiteURI)
	if p.ID != "" {
		addRow("Maps:", "https://www.google.com/maps/place/?q=place_id:"+p.ID)
	}
	addRow("Price:", p.PriceLevel)
	addRow("Coords:", fmt.Sprintf("%.6f, %.6f", p.Location.Lat, p.Location.Lng))
	addRow("Distance:", fmt.Sprintf("%.0fm from center", geo.Distance(m.circle.Center, p.Location)))
	addRow("Search:", m.specLabel(p.SearchSource))
	addRow("PlaceID:", p.ID)

	return lines
}

func (m *ExplorerModel) buildTable(places []model.Place) {
	nameW := 32
	catW := 22
	ratingW := 6
	distW := 8
	if m.width > 100 {
		extra := m.width - 100
		nameW += extra * 6 / 10
		catW += extra * 4 / 10
	}

	columns := []table.Column{
		{Title: "Name", Width: nameW},
		{Title: "Search", Width: catW},
		{Title: "Rating", Width: ratingW},
		{Title: "Dist", Width: distW},
	}

	rows := make([]table.Row, len(places))
	for i, p := range places {
		rating := ""
		if p.Rating != nil {
			rating = fmt.Sprintf("%.1f", *p.Rating)
		}
		rows[i] = table.Row{
			truncate(p.Name, nameW),
			truncate(m.specLabel(p.SearchSource), catW),
			rating,
			fmt.Sprintf("%.0fm", geo.Distance(m.circle.Center, p.Location)),
		}
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(m.focusedTableStyles())
	m.table = t
}

func (m ExplorerModel) focusedTableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.Muted).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.Secondary)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(styles.Primary).
		Bold(true)
	return s
}

func (m ExplorerModel) unfocusedTableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.Muted).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.Muted)
	s.Selected = s.Selected.
		Foreground(styles.Text).
		Background(lipgloss.Color("#333333")).
		Bold(false)
	return s
}

func (m ExplorerModel) panelHeight() int {
	h := m.height/2 - 6
	if h < 6 {
		h = 6
	}
	return h
}

func (m *ExplorerModel) updateLayout() {
	if m.width <= 0 {
		return
	}
	tableH := m.height/2 - 4
	if tableH < 5 {
		tableH = 5
	}
	m.buildTable(m.filtered)
	m.table.SetHeight(tableH)
}

// normalize removes accents/diacritics and lowercases text for fuzzy matching.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
		return unicode.Is(unicode.Mn, r)
	}), norm.NFC)
	result, _, _ := transform.String(t, strings.ToLower(s))
	return result
}

// matchPlaces keeps the places whose text contains every filter word,
// ignoring case and accents.
func matchPlaces(places []model.Place, query string, labelOf func(int) string) []model.Place {
	words := strings.Fields(normalize(query))
	if len(words) == 0 {
		return places
	}
	var out []model.Place
	for _, p := range places {
		haystack := normalize(strings.Join([]string{
			p.Name, p.Address, strings.Join(p.Types, " "), labelOf(p.SearchSource),
		}, " "))
		match := true
		for _, w := range words {
			if !strings.Contains(haystack, w) {
				match = false
				break
			}
		}
		if match {
			out = append(out, p)
		}
	}
	return out
}

func (m *ExplorerModel) applyFilter() {
	m.filtered = matchPlaces(m.places, m.filter.Value(), m.specLabel)
	m.buildTable(m.filtered)
	if len(m.filtered) > 0 {
		m.selected = 0
	} else {
		m.selected = -1
	}
	m.cacheDetailContent()
}

func (m ExplorerModel) View() string {
	if m.err != nil {
		return styles.ErrorText.Render(fmt.Sprintf("Error loading run: %v", m.err))
	}

	var b strings.Builder

	b.WriteString(styles.Title.Render(fmt.Sprintf("Explorer: %d places", m.total)))
	if len(m.filtered) != m.total {
		b.WriteString(lipgloss.NewStyle().Foreground(styles.Muted).
			Render(fmt.Sprintf(" (showing %d)", len(m.filtered))))
	}
	b.WriteString(lipgloss.NewStyle().Foreground(styles.Secondary).
		Render("  trip: " + m.dayID()))
	b.WriteString("\n\n")

	// Filter
	filterStyle := lipgloss.NewStyle().Foreground(styles.Muted)
	if m.focus == focusFilter {
		filterStyle = lipgloss.NewStyle().Foreground(styles.Primary)
	}
	b.WriteString(filterStyle.Render("Filter: "))
	b.WriteString(m.filter.View())
	b.WriteString("\n")

	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	detailW := max(40, m.width-2)
	panelH := m.panelHeight()

	cardOuterW := detailW * 2 / 5
	jsonOuterW := detailW - cardOuterW - 1

	cardBorderColor := styles.Muted
	if m.focus == focusCard {
		cardBorderColor = styles.Primary
	}
	cardBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(cardBorderColor).
		Padding(0, 1).
		Width(cardOuterW - 2).
		Height(panelH).
		Render(m.viewCardPanel(max(20, cardOuterW-4), panelH))
	cardLabel := lipgloss.NewStyle().Bold(true).Foreground(cardBorderColor).Render("[1] Details")
	cardBox = cardLabel + "\n" + cardBox

	jsonBorderColor := styles.Muted
	if m.focus == focusJSON {
		jsonBorderColor = styles.Primary
	}
	jsonBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(jsonBorderColor).
		Padding(0, 1).
		Width(jsonOuterW - 2).
		Height(panelH).
		Render(m.viewJSONPanel(max(20, jsonOuterW-4), panelH))
	jsonLabel := lipgloss.NewStyle().Bold(true).Foreground(jsonBorderColor).Render("[2] JSON")
	jsonBox = jsonLabel + "\n" + jsonBox

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cardBox, " ", jsonBox))
	b.WriteString("\n\n")

	if m.exportMsg != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(styles.Success).Render(m.exportMsg))
		b.WriteString("\n")
	}

	var statusText string
	switch m.focus {
	case focusTable:
		statusText = "↑↓ navigate • 1 details • 2 json • / filter • a add to trip • [ ] day • e export • esc back"
	case focusFilter:
		statusText = "type to filter • esc back"
	case focusCard:
		statusText = "↑↓ scroll • esc back to table"
	case focusJSON:
		statusText = "↑↓ scroll • ←→ pan • c copy json • esc back to table"
	}
	b.WriteString(styles.StatusBar.Render(statusText))

	return b.String()
}

// window returns the visible slice of lines for a panel of height h
// scrolled to scrollY, with scrollY clamped into range.
func window(lines []string, scrollY, h int) ([]string, int, int) {
	scrollY = max(0, min(scrollY, len(lines)-h))
	end := min(len(lines), scrollY+h)
	return lines[scrollY:end], scrollY, end
}

func (m ExplorerModel) viewCardPanel(w, h int) string {
	muted := lipgloss.NewStyle().Foreground(styles.Muted)
	if m.selected < 0 || m.selected >= len(m.filtered) || len(m.cardLines) == 0 {
		return muted.Italic(true).Render("Select a place\nto view details")
	}

	visible, scrollY, end := window(m.cardLines, m.cardScrollY, h)
	valStyle := lipgloss.NewStyle().Foreground(styles.Text)
	linkStyle := lipgloss.NewStyle().Foreground(styles.Primary)

	out := make([]string, 0, len(visible)+2)
	for i, line := range visible {
		switch {
		case scrollY+i == 0:
			out = append(out, lipgloss.NewStyle().Bold(true).Foreground(styles.Text).Render(truncate(line, w)))
		case scrollY+i == 1 && strings.Contains(line, "review"):
			out = append(out, lipgloss.NewStyle().Foreground(styles.Warning).Render(truncate(line, w)))
		case strings.HasPrefix(line, "Website:"), strings.HasPrefix(line, "Maps:"):
			lbl, val, _ := strings.Cut(line, " ")
			out = append(out, muted.Render(fmt.Sprintf("%-10s ", lbl))+linkStyle.Render(truncate(strings.TrimSpace(val), w-11)))
		default:
			out = append(out, valStyle.Render(truncate(line, w)))
		}
	}

	if scrollY > 0 {
		out = append(out, muted.Render("  ▲ more above"))
	}
	if end < len(m.cardLines) {
		out = append(out, muted.Render("  ▼ more below"))
	}
	return strings.Join(out, "\n")
}

func (m ExplorerModel) viewJSONPanel(w, h int) string {
	jsonStyle := lipgloss.NewStyle().Foreground(styles.Muted)
	if m.selected < 0 || m.selected >= len(m.filtered) || len(m.jsonLines) == 0 {
		return jsonStyle.Italic(true).Render("Select a place\nto view JSON")
	}

	keyStyle := lipgloss.NewStyle().Foreground(styles.Secondary)
	strStyle := lipgloss.NewStyle().Foreground(styles.Success)
	visible, scrollY, end := window(m.jsonLines, m.jsonScrollY, h)

	out := make([]string, 0, len(visible)+1)
	for _, line := range visible {
		display := ""
		if m.jsonScrollX < len(line) {
			display = line[m.jsonScrollX:]
		}
		display = truncate(display, w)

		// Color "key": value lines in two parts.
		trimmed := strings.TrimSpace(display)
		if idx := strings.Index(display, "\":"); strings.HasPrefix(trimmed, "\"") && idx > 0 {
			out = append(out, keyStyle.Render(display[:idx+1])+strStyle.Render(display[idx+1:]))
			continue
		}
		out = append(out, jsonStyle.Render(display))
	}

	if scrollY > 0 || end < len(m.jsonLines) {
		indicator := fmt.Sprintf("  [%d/%d]", scrollY+1, len(m.jsonLines))
		if m.jsonScrollX > 0 {
			indicator += fmt.Sprintf(" ←%d", m.jsonScrollX)
		}
		out = append(out, jsonStyle.Render(indicator))
	}
	return strings.Join(out, "\n")
}

func (m *ExplorerModel) copyToClipboard() {
	if m.jsonRaw == "" {
		return
	}
	if err := clipboard.WriteAll(m.jsonRaw); err != nil {
		m.exportMsg = fmt.Sprintf("Copy failed: %v", err)
		return
	}
	m.exportMsg = "JSON copied to clipboard"
}

func (m *ExplorerModel) addSelectedToTrip() {
	if m.selected < 0 || m.selected >= len(m.filtered) {
		return
	}
	p := m.filtered[m.selected]
	if err := m.state.AddToTrip(context.Background(), m.dayID(), p, ""); err != nil {
		m.exportMsg = fmt.Sprintf("Trip: %v", err)
		return
	}
	m.exportMsg = fmt.Sprintf("Added %s to %s", p.Name, m.dayID())
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// exportFiles writes the filtered places (or all of them) as CSV and
// GeoJSON next to the project database.
func (m *ExplorerModel) exportFiles() {
	data := m.filtered
	if len(data) == 0 {
		data = m.places
	}

	dir := filepath.Dir(m.dbPath)
	base := strings.TrimSuffix(filepath.Base(m.dbPath), ".db")
	csvPath := filepath.Join(dir, base+".csv")
	geoPath := filepath.Join(dir, base+".geojson")

	specs := m.state.Specs()
	if err := writeFile(csvPath, func(f *os.File) error { return export.WriteCSV(f, data, specs) }); err != nil {
		m.exportMsg = fmt.Sprintf("Export error: %v", err)
		return
	}
	if err := writeFile(geoPath, func(f *os.File) error { return export.WriteGeoJSON(f, data, specs) }); err != nil {
		m.exportMsg = fmt.Sprintf("Export error: %v", err)
		return
	}
	m.exportMsg = fmt.Sprintf("Exported %d places to %s and %s", len(data), csvPath, filepath.Base(geoPath))
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
