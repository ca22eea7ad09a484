// Package main is the entry point for the zone-info service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-nav/internal/config"
	"github.com/Faultbox/midgard-nav/internal/logger"
	"github.com/Faultbox/midgard-nav/internal/metrics"
	"github.com/Faultbox/midgard-nav/internal/storage"
	"github.com/Faultbox/midgard-nav/internal/zoneinfo"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Parse CLI flags first
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := initLogger(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== Midgard Zone Info ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	if err := run(cfg); err != nil {
		logger.Error("service error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("service stopped")
}

func initLogger(lc config.LoggingConfig) error {
	if lc.JSON {
		var fileCfg logger.FileConfig
		if lc.LogFile != "" {
			fileCfg = logger.DefaultFileConfig(lc.LogFile)
		}
		return logger.InitJSON(lc.Level, fileCfg)
	}
	return logger.Init(lc.Level, lc.LogFile)
}

func run(cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := zoneinfo.Deps{
		Metrics:  metrics.New(reg),
		Gatherer: reg,
	}

	if cfg.Storage.Enabled {
		store, err := storage.Open(cfg.Storage.Dir)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.GraphCache = store
		logger.Info("graph cache enabled", zap.String("dir", cfg.Storage.Dir))
	}

	srv, err := zoneinfo.New(zoneinfo.Config{
		DataDir:      cfg.Data.Dir,
		Settings:     cfg.Nav.Settings(),
		FloorRange:   cfg.Nav.FloorRange,
		CacheEntries: cfg.Server.CacheEntries,
		CacheTTL:     cfg.Server.CacheTTL,
		BuildOnLoad:  cfg.Server.BuildOnLoad,
	}, deps)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Server.Listen),
			zap.String("data", cfg.Data.Dir))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
