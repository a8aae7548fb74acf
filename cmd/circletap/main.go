package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/circletap/internal/config"
	"github.com/rendis/circletap/internal/engine/geo"
	"github.com/rendis/circletap/internal/engine/places"
	"github.com/rendis/circletap/internal/logging"
	"github.com/rendis/circletap/internal/tui"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		var run func([]string) error
		switch os.Args[1] {
		case "scan":
			run = runScan
		case "serve":
			run = runServe
		case "export":
			run = runExport
		case "trip":
			run = runTrip
		case "version":
			fmt.Println("circletap " + version)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
		if run != nil {
			if err := run(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	// No subcommand → launch TUI
	if err := runTUI(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI() error {
	cfg, err := config.Load(os.Getenv("CIRCLETAP_CONFIG"))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(tui.StateDir(), 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	logPath := filepath.Join(tui.StateDir(), "circletap.log")
	logger, logFile, err := logging.NewFile(logPath, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer logFile.Close()
	logger.Info().Str("version", version).Str("relay", cfg.Search.ProxyURL).Msg("tui start")

	transport, err := places.NewTransport(places.TransportOptions{})
	if err != nil {
		return err
	}
	timeout := cfg.Search.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return tui.Run(tui.Options{
		Config:   cfg,
		Searcher: places.NewClient(cfg.Search.ProxyURL, timeout, transport),
		Geocoder: geo.NewGeocoder(),
		Logger:   logger,
		Version:  version,
	})
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `circletap - circle-based places search

Usage:
  circletap                Launch interactive TUI
  circletap scan [flags]   Run one headless circle search
  circletap serve [flags]  Run the places relay
  circletap export [flags] Export a project .db to CSV or GeoJSON
  circletap trip [list|clear]
                           Show or clear the saved trip plan
  circletap version        Show version

Run 'circletap <command> --help' for flags.
Set CIRCLETAP_CONFIG to a YAML file to configure the TUI.
`)
}
