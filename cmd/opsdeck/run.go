package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	opsdeck "github.com/veslov/opsdeck/internal"
	"github.com/veslov/opsdeck/internal/cache"
	"github.com/veslov/opsdeck/internal/circuitbreaker"
	"github.com/veslov/opsdeck/internal/config"
	"github.com/veslov/opsdeck/internal/ratelimit"
	"github.com/veslov/opsdeck/internal/refresh"
	"github.com/veslov/opsdeck/internal/server"
	"github.com/veslov/opsdeck/internal/source"
	"github.com/veslov/opsdeck/internal/storage/sqlite"
	"github.com/veslov/opsdeck/internal/telemetry"
	"github.com/veslov/opsdeck/internal/worker"
)

const dnsRefreshInterval = 5 * time.Minute

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	panels, err := cfg.ResolvePanels()
	if err != nil {
		return err
	}

	slog.Info("starting opsdeck", "version", version, "addr", cfg.Server.Addr, "panels", len(panels))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Metrics
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Persistent fallback cache
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Volatile cache
	mem, err := cache.NewMemory(cfg.Cache.MaxSize, cfg.Defaults.FreshTTL)
	if err != nil {
		return err
	}

	// Upstream client with cached DNS lookups
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(dnsRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-ctx.Done():
				return
			}
		}
	}()
	client := source.New(cfg.Upstream.BaseURL, cfg.Upstream.AuthToken, cfg.Upstream.Timeout, resolver)

	// Orchestration
	gates := ratelimit.NewRegistry()
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
	})
	orch := refresh.New(refresh.Options{
		Volatile: mem,
		Fallback: store,
		Source:   client,
		Gates:    gates,
		Breakers: breakers,
		Metrics:  metrics,
		OnUpdate: func(p opsdeck.Panel, res opsdeck.Result) {
			slog.Debug("background revalidation landed", "panel", p.Name, "outcome", res.Outcome.String())
		},
	})
	defer orch.Close()

	// Background workers
	auto := worker.NewAutoRefresh(orch, panels)
	runner := worker.NewRunner(auto, worker.NewGateEvictor(gates))
	workerErrCh := make(chan error, 1)
	go func() {
		if err := runner.Run(ctx); err != nil {
			workerErrCh <- err
		}
		close(workerErrCh)
	}()

	// HTTP server
	handler := server.New(server.Deps{
		Orchestrator:   orch,
		Panels:         panels,
		AutoRefresh:    auto,
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("opsdeck ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	case err := <-workerErrCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop workers and in-flight revalidations before the store closes.
	cancel()
	orch.Close()

	slog.Info("opsdeck stopped")
	return nil
}
