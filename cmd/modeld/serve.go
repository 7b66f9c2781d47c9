package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"modeld/internal/backend/echo"
	"modeld/internal/config"
	"modeld/internal/httpapi"
	"modeld/internal/manager"
	"modeld/internal/pool"
	"modeld/internal/response"
	"modeld/internal/server"
	"modeld/pkg/types"
)

// runServe loads cfg, wires the Manager/Server/admin-HTTP stack, and blocks
// until SIGINT/SIGTERM, then drains in-flight requests per
// server.Config.ExitTimeout (spec.md §4.7 "Stop").
func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(level)

	mgr, err := manager.New(manager.Config{
		RepositoryRoots:   cfg.ModelRepositoryPaths,
		ControlMode:       types.ControlMode(cfg.ModelControlMode),
		StrictModelConfig: cfg.StrictModelConfig,
		StartupModels:     cfg.StartupModels,
		Factory:           echo.Factory{},
		Logger:            logger,
		MetricsRegisterer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("construct manager: %w", err)
	}

	pools := pool.NewRegistry()
	pinned := pools.Configure("pinned", cfg.PinnedMemoryPoolSize)
	for deviceID, budget := range cfg.CUDAMemoryPoolSize {
		pools.Configure("gpu:"+deviceID, budget)
	}
	for _, c := range pools.Collectors() {
		_ = prometheus.Register(c)
	}

	srv := server.New(mgr, server.Config{
		StrictReadiness: cfg.StrictReadiness,
		ExitTimeout:     time.Duration(cfg.ExitTimeoutSecs) * time.Second,
		StartupModels:   cfg.StartupModels,
		SdNotify:        cfg.SdNotify,
		Logger:          logger,
		Allocator:       response.NewBytesAllocator(pinned),
	})
	if err := srv.Init(); err != nil {
		logger.Warn().Err(err).Msg("one or more startup models failed to load")
	}

	var stopPoll func()
	if types.ControlMode(cfg.ModelControlMode) == types.ControlPoll {
		stopPoll = startPollLoop(mgr, cfg.PollIntervalSecs, logger)
	}

	mux := httpapi.NewMux(srv, types.ControlMode(cfg.ModelControlMode), httpapi.CORSOptions{
		Enabled:        cfg.CORSEnabled,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: cfg.CORSAllowedMethods,
		AllowedHeaders: cfg.CORSAllowedHeaders,
	})
	httpSrv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("modeld listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	if stopPoll != nil {
		stopPoll()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown error")
	}

	return srv.Stop()
}

// startPollLoop re-scans the repository on intervalSecs (default 30s) until
// the returned stop func is called (spec.md §4.4 POLL mode). Each tick's
// per-model reconciliation runs concurrently inside
// Manager.PollModelRepository; this loop only decides cadence, and the
// ticker itself ensures successive cycles don't overlap.
func startPollLoop(mgr *manager.Manager, intervalSecs int, logger zerolog.Logger) func() {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	done := make(chan struct{})
	ticker := time.NewTicker(time.Duration(intervalSecs) * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := mgr.PollModelRepository(); err != nil {
					logger.Warn().Err(err).Msg("poll cycle error")
				}
			}
		}
	}()
	return func() { close(done) }
}
