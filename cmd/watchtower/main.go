// Watchtower - heuristic security scoring with a live threat feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/watchtower/internal/api"
	"github.com/opensource-finance/watchtower/internal/bus"
	"github.com/opensource-finance/watchtower/internal/cache"
	"github.com/opensource-finance/watchtower/internal/domain"
	"github.com/opensource-finance/watchtower/internal/feed"
	"github.com/opensource-finance/watchtower/internal/scoring"
	"github.com/opensource-finance/watchtower/internal/stats"
	"github.com/opensource-finance/watchtower/internal/traffic"
	"github.com/opensource-finance/watchtower/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("WATCHTOWER_CONFIG"), "Path to a YAML config file")
	autostart := flag.String("feed", "", "Start the live feed in this mode (bot, network)")
	flag.Parse()

	// Load configuration
	cfg, err := domain.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting watchtower",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"latency", cfg.Latency.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize scoring engine with the built-in detector rule sets
	engine, err := scoring.New()
	if err != nil {
		slog.Error("failed to initialize scoring engine", "error", err)
		os.Exit(1)
	}
	for _, d := range domain.Detectors {
		if set, ok := engine.Rules(d); ok {
			slog.Info("detector loaded", "detector", d, "rules_count", len(set.Rules), "threshold", set.Threshold)
		}
	}

	statsSvc := stats.NewService(cacheImpl, cfg.Stats.Window)

	// Initialize generator and live feed
	gen := traffic.FromConfig(cfg.Simulation)
	liveFeed := feed.New(gen,
		feed.WithBus(busImpl),
		feed.WithInterval(cfg.Simulation.Interval),
		feed.WithCapacity(cfg.Simulation.Capacity),
	)
	defer liveFeed.Stop()

	// Shadow scoring re-scores every feed entry and publishes alerts
	var shadow *worker.Worker
	if cfg.Simulation.ShadowScoring {
		shadow = worker.NewWorker(busImpl, engine, statsSvc)
		if err := shadow.Start(); err != nil {
			slog.Error("failed to start shadow scoring", "error", err)
			shadow = nil
		} else {
			slog.Info("shadow scoring started")
		}
	}

	if *autostart != "" {
		if err := liveFeed.Start(ctx, feed.Mode(*autostart)); err != nil {
			slog.Error("failed to start live feed", "mode", *autostart, "error", err)
			os.Exit(1)
		}
		slog.Info("live feed started", "mode", *autostart)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Dependencies{
		Engine:      engine,
		Generator:   gen,
		Feed:        liveFeed,
		Stats:       statsSvc,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Latency:     cfg.Latency,
		VerdictTTL:  cfg.Cache.VerdictTTL,
		Version:     Version,
		Tier:        cfg.Tier,
		FeedContext: ctx,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("watchtower is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop producing before the consumers go away
	liveFeed.Stop()

	if shadow != nil {
		if err := shadow.Stop(); err != nil {
			slog.Error("failed to stop shadow scoring", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("watchtower shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               WATCHTOWER                  ║")
	fmt.Println("  ║      Heuristic Security Scoring           ║")
	fmt.Println("  ║   Phishing. Bots. Nation-state threats.   ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /detect/phishing     - Score a URL")
	fmt.Println("    POST /detect/bot          - Score a transaction")
	fmt.Println("    POST /detect/network      - Score a network incident")
	fmt.Println("    GET  /samples/{detector}  - Draw a synthetic sample")
	fmt.Println("    GET  /rules/{detector}    - List a detector's rules")
	fmt.Println("    GET  /catalog             - Form options")
	fmt.Println("    POST /simulation/start    - Start the live feed")
	fmt.Println("    POST /simulation/stop     - Stop the live feed")
	fmt.Println("    GET  /simulation          - Live feed log")
	fmt.Println("    GET  /simulation/stream   - Live feed events (SSE)")
	fmt.Println("    GET  /stats               - Scan and alert counters")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
