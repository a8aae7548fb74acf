package views

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/circletap/internal/engine/geo"
	"github.com/rendis/circletap/internal/model"
	"github.com/rendis/circletap/internal/tui/styles"
)

type searchMode int

const (
	modePlace searchMode = iota
	modeCoords
)

// Field indices. fieldMode is a virtual field (not a textinput).
const (
	fieldMode = iota
	fieldPlace
	fieldLat
	fieldLng
	fieldRadius
	fieldOutput
	fieldCount
)

// SearchDefaults seed the form.
type SearchDefaults struct {
	Center    model.LatLng
	Radius    float64
	MaxRadius float64
	OutputDir string
}

type SearchModel struct {
	inputs    []textinput.Model
	mode      searchMode
	focused   int
	err       string
	resolving bool
	maxRadius float64
	geocoder  *geo.Geocoder
}

type geocodedMsg struct {
	center model.LatLng
	name   string
	err    error
}

func NewSearchModel(d SearchDefaults, geocoder *geo.Geocoder) SearchModel {
	inputs := make([]textinput.Model, fieldCount)

	inputs[fieldMode] = textinput.New() // placeholder, never used
	inputs[fieldPlace] = newInput("Trastevere, Rome", "", 40)
	inputs[fieldLat] = newInput("41.9028", formatCoord(d.Center.Lat), 15)
	inputs[fieldLng] = newInput("12.4964", formatCoord(d.Center.Lng), 15)
	inputs[fieldRadius] = newInput("2000", strconv.FormatFloat(d.Radius, 'f', 0, 64), 10)
	inputs[fieldOutput] = newInput("./projects", d.OutputDir, 50)

	return SearchModel{
		inputs:    inputs,
		mode:      modePlace,
		focused:   fieldMode,
		maxRadius: d.MaxRadius,
		geocoder:  geocoder,
	}
}

func formatCoord(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', 4, 64)
}

func newInput(placeholder, value string, width int) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 100
	if width > 0 {
		ti.Width = width
	}
	if value != "" {
		ti.SetValue(value)
	}
	return ti
}

func (m SearchModel) Init() tea.Cmd {
	return nil
}

func (m SearchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case geocodedMsg:
		m.resolving = false
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		m.inputs[fieldLat].SetValue(formatCoord(msg.center.Lat))
		m.inputs[fieldLng].SetValue(formatCoord(msg.center.Lng))
		return m, m.start(msg.center, msg.name)

	case tea.KeyMsg:
		if m.resolving {
			return m, nil
		}
		switch msg.String() {
		case "esc":
			return m, func() tea.Msg { return NavigateToHome{} }
		case "up", "shift+tab":
			m.err = ""
			return m, m.focusPrev()
		case "down", "tab":
			m.err = ""
			return m, m.focusNext()
		case "enter":
			if cmd := m.submit(); cmd != nil {
				return m, cmd
			}
			return m, nil
		case "left":
			if m.focused == fieldMode {
				m.mode = modePlace
				return m, nil
			}
		case "right":
			if m.focused == fieldMode {
				m.mode = modeCoords
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	if m.focused != fieldMode && m.focused < fieldCount {
		m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
	}
	return m, cmd
}

func (m *SearchModel) focusNext() tea.Cmd {
	if m.focused != fieldMode {
		m.inputs[m.focused].Blur()
	}
	m.focused = m.skipField(m.focused+1, 1)
	if m.focused >= fieldCount {
		m.focused = fieldMode
	}
	if m.focused == fieldMode {
		return nil
	}
	m.inputs[m.focused].Focus()
	return textinput.Blink
}

func (m *SearchModel) focusPrev() tea.Cmd {
	if m.focused != fieldMode {
		m.inputs[m.focused].Blur()
	}
	m.focused = m.skipField(m.focused-1, -1)
	if m.focused < 0 {
		m.focused = fieldOutput
	}
	if m.focused == fieldMode {
		return nil
	}
	m.inputs[m.focused].Focus()
	return textinput.Blink
}

func (m *SearchModel) skipField(idx, dir int) int {
	for idx > fieldMode && idx < fieldCount {
		if m.mode == modePlace && (idx == fieldLat || idx == fieldLng) {
			idx += dir
			continue
		}
		if m.mode == modeCoords && idx == fieldPlace {
			idx += dir
			continue
		}
		break
	}
	return idx
}

func (m *SearchModel) radius() (float64, bool) {
	r, err := strconv.ParseFloat(strings.TrimSpace(m.inputs[fieldRadius].Value()), 64)
	if err != nil || r <= 0 {
		m.err = "Radius must be a positive number of meters"
		return 0, false
	}
	if m.maxRadius > 0 && r > m.maxRadius {
		m.err = fmt.Sprintf("Radius must be at most %.0f m", m.maxRadius)
		return 0, false
	}
	return r, true
}

func (m *SearchModel) submit() tea.Cmd {
	if strings.TrimSpace(m.inputs[fieldOutput].Value()) == "" {
		m.err = "Output directory is required"
		return nil
	}
	if _, ok := m.radius(); !ok {
		return nil
	}

	if m.mode == modePlace {
		q := strings.TrimSpace(m.inputs[fieldPlace].Value())
		if q == "" {
			m.err = "Place is required"
			return nil
		}
		m.resolving = true
		g := m.geocoder
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			center, name, err := g.GeocodeCenter(ctx, q)
			return geocodedMsg{center: center, name: name, err: err}
		}
	}

	lat, errLat := strconv.ParseFloat(strings.TrimSpace(m.inputs[fieldLat].Value()), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(m.inputs[fieldLng].Value()), 64)
	if errLat != nil || errLng != nil {
		m.err = "Lat and Lng must be numbers"
		return nil
	}
	return m.start(model.LatLng{Lat: lat, Lng: lng}, "")
}

func (m *SearchModel) start(center model.LatLng, label string) tea.Cmd {
	r, ok := m.radius()
	if !ok {
		return nil
	}
	c := model.Circle{Center: center, RadiusMeters: r}
	if err := c.Validate(m.maxRadius); err != nil {
		m.err = err.Error()
		return nil
	}
	if label == "" {
		label = fmt.Sprintf("%.4f, %.4f", center.Lat, center.Lng)
	}
	output := strings.TrimSpace(m.inputs[fieldOutput].Value())
	return func() tea.Msg {
		return StartSessionMsg{Circle: c, Label: label, Output: output}
	}
}

func (m SearchModel) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("New Search") + "\n\n")

	b.WriteString(m.renderMode())
	b.WriteString("\n")

	if m.mode == modePlace {
		b.WriteString(m.renderField("Place:", fieldPlace))
	} else {
		b.WriteString(m.renderField("Latitude:", fieldLat))
		b.WriteString(m.renderField("Longitude:", fieldLng))
	}
	b.WriteString(m.renderField("Radius (m):", fieldRadius))
	if m.focused == fieldRadius && m.maxRadius > 0 {
		hint := lipgloss.NewStyle().Foreground(styles.Muted).Italic(true).
			Render(fmt.Sprintf("  up to %.0f m | four sub-circles sample the food categories", m.maxRadius))
		b.WriteString(hint + "\n")
	}
	b.WriteString("\n")
	b.WriteString(m.renderField("Output:", fieldOutput))

	if m.resolving {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(styles.Secondary).Render("  Resolving place..."))
	}
	if m.err != "" {
		b.WriteString("\n")
		b.WriteString(styles.ErrorText.Render("  " + m.err))
	}

	b.WriteString("\n\n")
	b.WriteString(styles.StatusBar.Render("enter start • tab next • esc back"))

	return styles.Border.Render(b.String())
}

func (m SearchModel) renderMode() string {
	label := styles.Label.Render("Center:")

	active := lipgloss.NewStyle().Foreground(styles.Primary).Bold(true)
	inactive := lipgloss.NewStyle().Foreground(styles.Muted)

	var placeStr, coordsStr string
	if m.mode == modePlace {
		placeStr = active.Render("< Place >")
		coordsStr = inactive.Render("Coordinates")
	} else {
		placeStr = inactive.Render("Place")
		coordsStr = active.Render("< Coordinates >")
	}

	line := fmt.Sprintf("%s  %s   %s", label, placeStr, coordsStr)
	if m.focused == fieldMode {
		line += lipgloss.NewStyle().Foreground(styles.Secondary).Render(" ←→")
	}
	return line + "\n"
}

func (m SearchModel) renderField(label string, idx int) string {
	l := styles.Label.Render(label)
	v := m.inputs[idx].View()
	return fmt.Sprintf("%s %s\n", l, v)
}

// Messages
type NavigateToHome struct{}

// StartSessionMsg opens a live search session on circle.
type StartSessionMsg struct {
	Circle model.Circle
	Label  string
	Output string
}
