package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/circletap/internal/config"
	"github.com/rendis/circletap/internal/engine/storage"
	"github.com/rendis/circletap/internal/export"
)

func runExport(args []string) error {
	var dbPath, runID, outputPath, format, configPath string
	var list bool

	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.StringVar(&dbPath, "db", "", "Path to .db file (required)")
	fs.StringVar(&runID, "run", "", "Run id to export (default: latest)")
	fs.StringVar(&outputPath, "output", "", "Output file path (default: same dir as db)")
	fs.StringVar(&format, "format", "csv", "Export format: csv or geojson")
	fs.StringVar(&configPath, "config", "", "YAML config file (for search labels)")
	fs.BoolVar(&list, "list", false, "List the runs stored in the db and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: circletap export [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  circletap export -db ./projects/circletap_20260212.db\n")
		fmt.Fprintf(os.Stderr, "  circletap export -db data.db -format geojson -output places.geojson\n")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if dbPath == "" {
		return fmt.Errorf("-db is required")
	}

	var ext string
	switch format {
	case "csv":
		ext = ".csv"
	case "geojson":
		ext = ".geojson"
	default:
		return fmt.Errorf("unsupported format: %s (csv or geojson)", format)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening db: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if list {
		runs, err := store.ListRuns(ctx, 0)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("%s  %s  (%.5f, %.5f) r=%.0fm  %d places  %d/%d failed\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Circle.Center.Lat, r.Circle.Center.Lng,
				r.Circle.RadiusMeters, r.Total, r.Failed, r.Requested)
		}
		return nil
	}

	places, err := store.LoadPlaces(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading places: %w", err)
	}
	if len(places) == 0 {
		return fmt.Errorf("no places found in database")
	}

	if outputPath == "" {
		dir := filepath.Dir(dbPath)
		base := strings.TrimSuffix(filepath.Base(dbPath), ".db")
		outputPath = filepath.Join(dir, base+ext)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer f.Close()

	specs := cfg.Specs()
	if format == "geojson" {
		err = export.WriteGeoJSON(f, places, specs)
	} else {
		err = export.WriteCSV(f, places, specs)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", format, err)
	}

	fmt.Fprintf(os.Stderr, "Exported %d places to %s\n", len(places), outputPath)
	return nil
}
