package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/circletap/internal/config"
	"github.com/rendis/circletap/internal/engine/places"
	"github.com/rendis/circletap/internal/logging"
	"github.com/rendis/circletap/internal/observability"
	"github.com/rendis/circletap/internal/relay"
)

func runServe(args []string) error {
	var configPath, addr string

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "YAML config file")
	fs.StringVar(&addr, "addr", "", "Listen address (overrides config and PORT)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: circletap serve [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  GOOGLE_MAPS_API_KEY  Places API key (required for searches)\n")
		fmt.Fprintf(os.Stderr, "  PORT                 Listen port\n")
		fmt.Fprintf(os.Stderr, "  REDIS_ADDR           Enables the response cache\n")
		fmt.Fprintf(os.Stderr, "  OTEL_ENABLED         Export traces over OTLP/gRPC\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Relay.ListenAddr = addr
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTEL.Enabled {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("otel setup failed; tracing disabled")
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					logger.Warn().Err(err).Msg("otel shutdown")
				}
			}()
		}
	}

	transport, err := places.NewTransport(places.TransportOptions{
		Fingerprint: cfg.Relay.TLSFingerprint,
		ProxyURL:    cfg.Relay.ProxyURL,
	})
	if err != nil {
		return err
	}
	upstream := places.NewUpstream(places.UpstreamOptions{
		URL:       cfg.Relay.UpstreamURL,
		APIKey:    cfg.Relay.APIKey,
		FieldMask: cfg.Relay.FieldMask,
		Timeout:   cfg.Relay.Timeout,
		Transport: transport,
	})
	if !upstream.HasKey() {
		logger.Warn().Msg("GOOGLE_MAPS_API_KEY is not set; searches will fail with 500")
	}

	var cache relay.Cache
	if cfg.Redis.Addr != "" {
		rc, err := relay.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable; serving without cache")
		} else {
			defer rc.Close()
			cache = rc
			logger.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.TTL).Msg("response cache enabled")
		}
	}

	h := relay.NewHandler(upstream, cache, relay.Options{
		MaxResultCount: cfg.Relay.MaxResultCount,
		CacheTTL:       cfg.Redis.TTL,
		Client: relay.ClientConfig{
			DefaultCenter:  cfg.Map.DefaultCenter,
			DefaultZoom:    cfg.Map.DefaultZoom,
			MaxRadius:      cfg.Search.MaxRadius,
			SubRadiusRatio: cfg.Search.SubRadiusRatio,
			OffsetRatio:    cfg.Search.OffsetRatio,
			Searches:       cfg.Specs(),
		},
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Relay.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Bool("has_key", upstream.HasKey()).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listening: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down relay")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
