package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rendis/circletap/internal/config"
	"github.com/rendis/circletap/internal/engine/geo"
	"github.com/rendis/circletap/internal/engine/places"
	"github.com/rendis/circletap/internal/engine/search"
	"github.com/rendis/circletap/internal/engine/storage"
	"github.com/rendis/circletap/internal/logging"
	"github.com/rendis/circletap/internal/model"
	"github.com/rendis/circletap/internal/tui"
)

func runScan(args []string) error {
	var (
		lat, lng, radius      float64
		near, outputDir       string
		configPath, proxyURL  string
		concurrency           int
		fingerprint, showDups bool
	)

	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	fs.Float64Var(&lat, "lat", 0, "Center latitude")
	fs.Float64Var(&lng, "lng", 0, "Center longitude")
	fs.StringVar(&near, "near", "", "Geocode this place name as the center instead of -lat/-lng")
	fs.Float64Var(&radius, "radius", 2000, "Search radius in meters")
	fs.StringVar(&outputDir, "output", "", "Output directory for project files (required)")
	fs.StringVar(&configPath, "config", "", "YAML config file")
	fs.StringVar(&proxyURL, "proxy", "", "Relay base URL (overrides config)")
	fs.IntVar(&concurrency, "concurrency", 0, "Max concurrent requests (0 = all at once)")
	fs.BoolVar(&fingerprint, "fingerprint", false, "Dial the relay with a browser TLS fingerprint")
	fs.BoolVar(&showDups, "duplicates", false, "Print the duplicate report")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: circletap scan [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  circletap scan -lat 41.9028 -lng 12.4964 -radius 2000 -output ./projects\n")
		fmt.Fprintf(os.Stderr, "  circletap scan -near \"Trastevere, Rome\" -radius 1500 -output ./projects\n")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if outputDir == "" {
		return fmt.Errorf("-output is required")
	}
	coordsSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "lat" || f.Name == "lng" {
			coordsSet = true
		}
	})
	if near == "" && !coordsSet {
		return fmt.Errorf("either -near or -lat/-lng is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if proxyURL != "" {
		cfg.Search.ProxyURL = proxyURL
	}
	if concurrency > 0 {
		cfg.Search.Concurrency = concurrency
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	// Timestamped project files
	ts := time.Now().Format("20060102_150405")
	baseName := fmt.Sprintf("circletap_%s", ts)
	dbPath := filepath.Join(outputDir, baseName+".db")
	logPath := filepath.Join(outputDir, baseName+".log")

	logger, logFile, err := logging.NewFile(logPath, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer logFile.Close()
	fmt.Fprintf(os.Stderr, "Log: %s\n", logPath)

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	label := fmt.Sprintf("%.4f, %.4f", lat, lng)
	center := model.LatLng{Lat: lat, Lng: lng}
	if near != "" {
		center, label, err = geo.NewGeocoder().GeocodeCenter(ctx, near)
		if err != nil {
			return fmt.Errorf("geocoding %q: %w", near, err)
		}
		fmt.Fprintf(os.Stderr, "Center: %s (%.5f, %.5f)\n", label, center.Lat, center.Lng)
	}
	circle := model.Circle{Center: center, RadiusMeters: radius}
	if err := circle.Validate(cfg.Search.MaxRadius); err != nil {
		return err
	}

	transport, err := places.NewTransport(places.TransportOptions{Fingerprint: fingerprint})
	if err != nil {
		return err
	}
	client := places.NewClient(cfg.Search.ProxyURL, cfg.Search.Timeout, transport)

	orch := search.New(client, search.Options{
		MaxRadius:        cfg.Search.MaxRadius,
		Ratios:           cfg.Ratios(),
		Concurrency:      cfg.Search.Concurrency,
		RequestTimeout:   cfg.Search.Timeout,
		FallbackIdentity: cfg.Search.FallbackIdentity,
	}, logger)

	store, err := storage.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	specs := cfg.Specs()
	fmt.Fprintf(os.Stderr, "Searching: %d categories around (%.5f, %.5f) r=%.0fm via %s\n",
		len(specs), center.Lat, center.Lng, radius, cfg.Search.ProxyURL)
	logger.Info().
		Float64("lat", center.Lat).
		Float64("lng", center.Lng).
		Float64("radius", radius).
		Int("specs", len(specs)).
		Str("relay", cfg.Search.ProxyURL).
		Msg("scan start")

	res, err := orch.Run(ctx, circle, specs, &search.RunOptions{
		OnOutcome: func(o model.Outcome, _ []model.Place) {
			if o.Failed() {
				fmt.Fprintf(os.Stderr, "  ✗ %-28s %s\n", o.Label, o.Error)
				return
			}
			fmt.Fprintf(os.Stderr, "  ✓ %-28s %d kept of %d\n", o.Label, o.Kept, o.RawCount)
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("searching: %w", err)
	}
	if res == nil {
		return err
	}

	if serr := store.SaveRun(context.Background(), res); serr != nil {
		return fmt.Errorf("saving run: %w", serr)
	}
	tui.SaveRecent(tui.RecentEntry{Path: dbPath, Label: label, Circle: circle})

	printSummary(res, label, dbPath, logPath)
	if showDups {
		printDuplicates(res.Duplicates)
	}

	if res.AllFailed() {
		return fmt.Errorf("all %d searches failed; is the relay at %s running?", res.Stats.Requested, cfg.Search.ProxyURL)
	}
	return nil
}

func printSummary(res *model.Result, label, dbPath, logPath string) {
	st := res.Stats
	duration := res.FinishedAt.Sub(res.StartedAt).Truncate(time.Millisecond)

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "══════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  circletap %s\n", res.Status())
	fmt.Fprintf(os.Stderr, "══════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Center:     %s (r=%.0fm)\n", label, res.Circle.RadiusMeters)
	fmt.Fprintf(os.Stderr, "  Searches:   %d (%d failed)\n", st.Requested, st.Failed)
	fmt.Fprintf(os.Stderr, "  Raw:        %d\n", st.Raw)
	fmt.Fprintf(os.Stderr, "  Outside:    %d removed\n", st.DroppedOutside)
	fmt.Fprintf(os.Stderr, "  Duplicates: %d removed\n", st.DuplicatesRemoved)
	fmt.Fprintf(os.Stderr, "  Places:     %d\n", st.Total)
	if res.Status() == model.StatusEmpty {
		fmt.Fprintf(os.Stderr, "  No places found in this area.\n")
	}
	fmt.Fprintf(os.Stderr, "  Duration:   %s\n", duration)
	fmt.Fprintf(os.Stderr, "  Database:   %s\n", dbPath)
	fmt.Fprintf(os.Stderr, "  Log:        %s\n", logPath)
	fmt.Fprintf(os.Stderr, "══════════════════════════════\n")
}

func printDuplicates(r model.DuplicateReport) {
	if !r.HasDuplicates {
		fmt.Fprintf(os.Stderr, "No duplicates across searches.\n")
		return
	}
	fmt.Fprintf(os.Stderr, "Duplicates: %d records, %d unique ids\n", r.TotalCount, r.UniqueCount)
	for _, id := range r.DuplicateIDs {
		d := r.DetailsByID[id]
		fmt.Fprintf(os.Stderr, "  %s ×%d\n", id, d.Count)
		for _, p := range d.Places {
			fmt.Fprintf(os.Stderr, "    %s (search %d)\n", p.Name, p.SearchSource)
		}
	}
}
