package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snaplook/scraper"
	"github.com/snaplook/scraper/api"
	"github.com/snaplook/scraper/config"
	"github.com/snaplook/scraper/db"
	"github.com/snaplook/scraper/detection"
	"github.com/snaplook/scraper/favorites"
	"github.com/snaplook/scraper/handoff"
	"github.com/snaplook/scraper/sanitize"
	"github.com/snaplook/scraper/storage"
	"github.com/snaplook/scraper/tracing"
)

func main() {
	// Command-line flags (override config file and environment)
	configFile := flag.String("config", "", "Path to a YAML config file")
	port := flag.String("port", "", "Server port")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *disableCORS {
		cfg.Server.AllowedOrigins = nil
	}

	// Setup structured logging with JSON output
	level, _ := config.ParseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("share service initializing", "environment", cfg.Server.Environment)

	if err := run(cfg, logger); err != nil {
		logger.Error("share service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
	}

	sink, err := newImageSink(ctx, cfg)
	if err != nil {
		return err
	}

	s := scraper.New(cfg.ScraperConfig(), sink)
	if path := cfg.Scraper.PatternsFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read patterns file: %w", err)
		}
		patterns, err := scraper.LoadPatterns(data)
		if err != nil {
			return fmt.Errorf("failed to load patterns: %w", err)
		}
		s = s.WithPatterns(patterns)
		logger.Info("using custom extraction patterns", "path", path)
	}

	filter := sanitize.Default()
	deps := scraper.PipelineDeps{Filter: filter}
	serverDeps := api.Deps{Filter: filter}

	detector := detection.NewClient(cfg.DetectionConfig())
	if detector.Configured() {
		deps.Detector = detector
		serverDeps.Favorites = favorites.New(detector)
		serverDeps.Searches = detector
		logger.Info("detection API configured", "base_url", cfg.Detection.BaseURL)
	} else {
		logger.Warn("detection API not configured, analysis requests will report a configuration failure")
	}

	if cfg.Database.DSN != "" {
		database, err := db.New(db.Config{DSN: cfg.Database.DSN})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()
		deps.Sessions = database
		serverDeps.Sessions = database
		logger.Info("session persistence enabled")
	}

	if cfg.Handoff.Dir != "" {
		writer, err := handoff.NewWriter(handoff.Config{
			Dir:      cfg.Handoff.Dir,
			BundleID: cfg.Handoff.BundleID,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize handoff: %w", err)
		}
		deps.Handoff = writer
		logger.Info("host handoff enabled", "dir", cfg.Handoff.Dir, "redirect", writer.RedirectURL())
	}

	serverDeps.Pipeline = scraper.NewPipeline(s, deps)
	server := api.NewServer(api.Config{
		Addr:           ":" + cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, serverDeps)

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("share service starting",
			"port", cfg.Server.Port,
			"storage", cfg.Storage.Type,
			"persistence", cfg.Database.DSN != "",
			"handoff", cfg.Handoff.Dir != "",
		)
		errCh <- server.Start()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// newImageSink builds the local or S3 image store
func newImageSink(ctx context.Context, cfg *config.Config) (scraper.ImageSink, error) {
	if cfg.Storage.Type == "s3" {
		s3Store, err := storage.NewS3Storage(ctx, cfg.S3Config())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		slog.Info("using S3 image storage", "bucket", cfg.Storage.Bucket, "region", cfg.Storage.Region)
		return s3Store, nil
	}

	local, err := storage.New(storage.Config{BasePath: cfg.Storage.BasePath})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("using local image storage", "path", cfg.Storage.BasePath)
	return local, nil
}
