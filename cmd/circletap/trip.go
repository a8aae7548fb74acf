package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/rendis/circletap/internal/engine/storage"
	"github.com/rendis/circletap/internal/session"
	"github.com/rendis/circletap/internal/tui"
)

func runTrip(args []string) error {
	cmd := "list"
	if len(args) > 0 {
		cmd = args[0]
	}

	if err := os.MkdirAll(tui.StateDir(), 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	store, err := storage.NewStore(filepath.Join(tui.StateDir(), "state.db"))
	if err != nil {
		return fmt.Errorf("opening state db: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	state := session.New(nil, session.Options{Store: store}, zerolog.Nop())
	state.LoadTrip(ctx)

	switch cmd {
	case "list":
		plan := state.TripPlan()
		days := plan.DayIDs()
		if len(days) == 0 {
			fmt.Fprintln(os.Stderr, "Trip plan is empty.")
			return nil
		}
		fmt.Println(plan.Name)
		for _, day := range days {
			fmt.Printf("\n%s\n", day)
			for _, it := range plan.Days[day] {
				line := "  " + it.Name
				if it.Time != "" {
					line += "  " + it.Time
				}
				if it.Address != "" {
					line += "  (" + it.Address + ")"
				}
				fmt.Println(line)
			}
		}
		return nil
	case "clear":
		if err := state.ClearTrip(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Trip plan cleared.")
		return nil
	default:
		return fmt.Errorf("unknown trip command %q (list or clear)", cmd)
	}
}
