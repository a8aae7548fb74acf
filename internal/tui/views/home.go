package views

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rendis/circletap/internal/tui/styles"
)

type menuItem struct {
	key   string
	label string
	desc  string
}

type HomeModel struct {
	items   []menuItem
	cursor  int
	version string
	relay   string
}

func NewHomeModel(version, relayURL string) HomeModel {
	return HomeModel{
		version: version,
		relay:   relayURL,
		items: []menuItem{
			{key: "n", label: "New Search", desc: "Draw a circle and search around it"},
			{key: "r", label: "Recent Projects", desc: "Reopen a saved search project"},
			{key: "t", label: "Trip Plan", desc: "Places saved per day"},
			{key: "q", label: "Quit", desc: "Exit circletap"},
		},
	}
}

func (m HomeModel) Init() tea.Cmd {
	return nil
}

func (m HomeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case "enter":
			return m, m.handleSelect()
		case "n":
			m.cursor = 0
			return m, m.handleSelect()
		case "r":
			m.cursor = 1
			return m, m.handleSelect()
		case "t":
			m.cursor = 2
			return m, m.handleSelect()
		case "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m HomeModel) handleSelect() tea.Cmd {
	switch m.cursor {
	case 0: // New Search
		return func() tea.Msg {
			return NavigateToSearch{}
		}
	case 1: // Recent
		return func() tea.Msg {
			return NavigateToRecent{}
		}
	case 2: // Trip
		return func() tea.Msg {
			return NavigateToTrip{}
		}
	case 3: // Quit
		return tea.Quit
	}
	return nil
}

func (m HomeModel) View() string {
	var b strings.Builder

	// Logo
	logo := lipgloss.NewStyle().
		Foreground(styles.Primary).
		Bold(true).
		Render("  circletap")

	version := lipgloss.NewStyle().
		Foreground(styles.Muted).
		Render(" " + m.version)

	tagline := lipgloss.NewStyle().
		Foreground(styles.Secondary).
		Italic(true).
		Render("  Nearby places around a circle")

	b.WriteString(logo + version + "\n")
	b.WriteString(tagline + "\n")
	b.WriteString(lipgloss.NewStyle().Foreground(styles.Muted).Render("  relay: "+m.relay) + "\n\n")

	// Menu items
	for i, item := range m.items {
		cursor := "  "
		style := styles.InactiveItem
		if i == m.cursor {
			cursor = "> "
			style = styles.ActiveItem
		}

		key := lipgloss.NewStyle().
			Foreground(styles.Secondary).
			Bold(true).
			Render(fmt.Sprintf("[%s]", item.key))

		label := style.Render(item.label)
		desc := lipgloss.NewStyle().
			Foreground(styles.Muted).
			Render(" - " + item.desc)

		b.WriteString(fmt.Sprintf("%s%s %s%s\n", cursor, key, label, desc))
	}

	b.WriteString("\n")
	b.WriteString(styles.StatusBar.Render("↑↓ navigate • enter select • q quit"))

	return styles.Border.Render(b.String())
}

// Navigation messages
type NavigateToSearch struct{}
type NavigateToTrip struct{}
