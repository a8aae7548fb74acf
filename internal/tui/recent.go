package tui

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/circletap/internal/model"
)

const maxRecent = 10

type RecentEntry struct {
	Path     string       `json:"path"`
	Label    string       `json:"label,omitempty"`
	Circle   model.Circle `json:"circle"`
	OpenedAt time.Time    `json:"opened_at"`
}

// configDir is swapped in tests.
var configDir = os.UserConfigDir

// StateDir is where circletap keeps its recent list and trip state.
func StateDir() string {
	cfg, err := configDir()
	if err != nil {
		cfg = os.TempDir()
	}
	return filepath.Join(cfg, "circletap")
}

func recentFilePath() string {
	return filepath.Join(StateDir(), "recent.json")
}

func LoadRecent() []RecentEntry {
	data, err := os.ReadFile(recentFilePath())
	if err != nil {
		return nil
	}
	var entries []RecentEntry
	json.Unmarshal(data, &entries)
	return entries
}

// SaveRecent moves e to the front of the recent list. Fields e leaves empty
// are kept from an existing entry for the same path.
func SaveRecent(e RecentEntry) {
	abs, err := filepath.Abs(e.Path)
	if err == nil {
		e.Path = abs
	}
	if e.OpenedAt.IsZero() {
		e.OpenedAt = time.Now()
	}

	entries := LoadRecent()

	filtered := make([]RecentEntry, 0, len(entries))
	for _, old := range entries {
		if old.Path != e.Path {
			filtered = append(filtered, old)
			continue
		}
		if e.Label == "" {
			e.Label = old.Label
		}
		if e.Circle.RadiusMeters == 0 {
			e.Circle = old.Circle
		}
	}

	filtered = append([]RecentEntry{e}, filtered...)
	if len(filtered) > maxRecent {
		filtered = filtered[:maxRecent]
	}

	data, _ := json.MarshalIndent(filtered, "", "  ")
	os.MkdirAll(StateDir(), 0755)
	os.WriteFile(recentFilePath(), data, 0644)
}
