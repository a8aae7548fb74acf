package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Trastevere, Rome", "trastevere-rome"},
		{"  Piazza di Spagna  ", "piazza-di-spagna"},
		{"Café Zürich", "café-zürich"},
		{"---", "search"},
		{"", "search"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, slug(tt.in))
		})
	}
}

func TestProjectPath(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "projects/rome_20260304_050607.db", projectPath("projects", "Rome", now))
	assert.Equal(t, "search_20260304_050607.db", projectPath("", "", now))
}
