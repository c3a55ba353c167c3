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

	"github.com/Sternrassler/offline-proxy/pkg/config"
	"github.com/Sternrassler/offline-proxy/pkg/logging"
	"github.com/rs/zerolog/log"
)

var (
	configFilenameFlag string
	originFlag         string
	portFlag           int
	versionFlag        string
	backendFlag        string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	flag.StringVar(&originFlag, "origin", "", "Origin to proxy to (overrides config and env)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config and env)")
	flag.StringVar(&versionFlag, "cache-version", "", "Cache version to install and activate")
	flag.StringVar(&backendFlag, "backend", "", "Cache backend: redis, sqlite or memory")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Backend).Msg("Failed to open cache backend")
	}
	logger.Info().Str("backend", cfg.Backend).Msg("Cache backend ready")

	a, err := newApp(cfg, backend)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create proxy")
	}

	// the version must be active before the first request is served
	if err := a.startup(ctx); err != nil {
		logger.Fatal().Err(err).Str("version", cfg.Version).Msg("Failed to install cache version")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("origin", cfg.Origin).
			Str("version", cfg.Version).
			Msg("Starting offline proxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Cache backend close failed")
	}
	logger.Info().Msg("Stopped")
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configFilenameFlag != "" {
		loaded, err := config.Load(configFilenameFlag)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	if originFlag != "" {
		cfg.Origin = originFlag
	}
	if portFlag > 0 {
		cfg.Port = portFlag
	}
	if versionFlag != "" {
		cfg.Version = versionFlag
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}

	return cfg, cfg.Validate()
}
