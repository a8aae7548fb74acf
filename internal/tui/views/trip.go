package views

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/circletap/internal/session"
	"github.com/rendis/circletap/internal/tui/styles"
)

// TripModel lists the trip plan one day at a time.
type TripModel struct {
	state        *session.State
	days         []string
	dayIdx       int
	cursor       int
	confirmClear bool
	msg          string
}

func NewTripModel(state *session.State) TripModel {
	m := TripModel{state: state}
	m.reload()
	return m
}

func (m TripModel) Init() tea.Cmd {
	return nil
}

func (m *TripModel) reload() {
	m.days = m.state.TripPlan().DayIDs()
	if m.dayIdx >= len(m.days) {
		m.dayIdx = max(0, len(m.days)-1)
	}
	m.cursor = min(m.cursor, max(0, len(m.items())-1))
}

func (m TripModel) items() []session.TripItem {
	if len(m.days) == 0 {
		return nil
	}
	return m.state.Trip(m.days[m.dayIdx])
}

func (m TripModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if m.confirmClear {
		switch key.String() {
		case "y", "Y":
			if err := m.state.ClearTrip(context.Background()); err != nil {
				m.msg = fmt.Sprintf("Clear failed: %v", err)
			}
			m.dayIdx, m.cursor = 0, 0
			m.reload()
		}
		m.confirmClear = false
		return m, nil
	}

	switch key.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "q":
		return m, func() tea.Msg { return NavigateToHome{} }
	case "left", "h":
		if m.dayIdx > 0 {
			m.dayIdx--
			m.cursor = 0
		}
	case "right", "l":
		if m.dayIdx < len(m.days)-1 {
			m.dayIdx++
			m.cursor = 0
		}
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items())-1 {
			m.cursor++
		}
	case "d":
		items := m.items()
		if m.cursor < len(items) {
			it := items[m.cursor]
			if err := m.state.RemoveFromTrip(context.Background(), m.days[m.dayIdx], it.PlaceID); err != nil {
				m.msg = fmt.Sprintf("Remove failed: %v", err)
			} else {
				m.msg = "Removed " + it.Name
			}
			m.reload()
		}
	case "C":
		if len(m.days) > 0 {
			m.confirmClear = true
		}
	}
	return m, nil
}

func (m TripModel) View() string {
	var b strings.Builder

	plan := m.state.TripPlan()
	b.WriteString(styles.Title.Render("Trip: " + plan.Name))
	b.WriteString("\n\n")

	if len(m.days) == 0 {
		b.WriteString(styles.EmptyText.Render("No places yet. Press a in the explorer to add one."))
		b.WriteString("\n\n")
		b.WriteString(styles.StatusBar.Render("esc back"))
		return styles.Border.Render(b.String())
	}

	var tabs []string
	for i, d := range m.days {
		style := styles.InactiveItem
		if i == m.dayIdx {
			style = styles.ActiveItem
		}
		tabs = append(tabs, style.Render(d))
	}
	b.WriteString(strings.Join(tabs, "  "))
	b.WriteString("\n\n")

	muted := lipgloss.NewStyle().Foreground(styles.Muted)
	for i, it := range m.items() {
		cursor := "  "
		style := styles.InactiveItem
		if i == m.cursor {
			cursor = "> "
			style = styles.ActiveItem
		}
		line := style.Render(it.Name)
		if it.Rating != nil {
			line += muted.Render(fmt.Sprintf("  ★%.1f", *it.Rating))
		}
		if it.Time != "" {
			line += muted.Render("  " + it.Time)
		}
		b.WriteString(cursor + line + "\n")
		if it.Address != "" {
			b.WriteString(muted.Render("    "+it.Address) + "\n")
		}
	}

	if m.msg != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(styles.Success).Render(m.msg))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.confirmClear {
		b.WriteString(styles.WarningText.Render("Clear the whole trip? y to confirm"))
	} else {
		b.WriteString(styles.StatusBar.Render("←→ day • ↑↓ move • d remove • C clear • esc back"))
	}
	return styles.Border.Render(b.String())
}
