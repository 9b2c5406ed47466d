package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/eugener/respcache/internal/app"
	"github.com/eugener/respcache/internal/auth"
	"github.com/eugener/respcache/internal/cache"
	"github.com/eugener/respcache/internal/cache/redisstore"
	"github.com/eugener/respcache/internal/cloudauth"
	"github.com/eugener/respcache/internal/config"
	"github.com/eugener/respcache/internal/generator"
	"github.com/eugener/respcache/internal/ratelimit"
	"github.com/eugener/respcache/internal/server"
	"github.com/eugener/respcache/internal/storage/sqlite"
	"github.com/eugener/respcache/internal/telemetry"
	"github.com/eugener/respcache/internal/worker"
)

const dnsRefreshInterval = 5 * time.Minute

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting respcache", "version", version, "addr", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}

	// Metrics
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Open the generation ledger
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// DNS cache shared by the upstream transport and the Redis dialer
	var resolver *dnscache.Resolver
	if cfg.Upstream.DNSCache {
		resolver = &dnscache.Resolver{}
		go refreshDNS(ctx, resolver)
	}

	// Cache tiers
	logger := slog.Default()
	stats := cache.NewStats(metrics)
	ttls := cfg.Cache.TTLs()
	local, err := newLocal(cfg.Cache.Local, maxTTL(ttls[:]), stats)
	if err != nil {
		return err
	}

	var remote cache.RemoteStore
	if cfg.Remote.Enabled {
		mode, _ := redisstore.ParsePoolMode(cfg.Remote.PoolMode)
		remote = redisstore.New(redisstore.Config{
			Addr:      cfg.Remote.Addr,
			Username:  cfg.Remote.Username,
			Password:  cfg.Remote.Password,
			DB:        cfg.Remote.DB,
			PoolSize:  cfg.Remote.PoolSize,
			PoolMode:  mode,
			PoolWait:  cfg.Remote.PoolWait,
			OpTimeout: cfg.Remote.OpTimeout,
			Resolver:  resolver,
		})
	}
	writeMode, _ := cache.ParseWriteMode(cfg.Remote.WriteMode)
	tiered := cache.NewTiered(local, remote, stats, logger, cache.TieredConfig{
		WriteMode:     writeMode,
		Cooldown:      cfg.Remote.Cooldown,
		HealthTimeout: cfg.Remote.HealthTimeout,
	})
	manager := cache.NewManager(cache.Config{
		Namespace:          cfg.Cache.Namespace,
		TTLs:               ttls,
		ComputeTimeout:     cfg.Cache.ComputeTimeout,
		SkipRoundTripCheck: cfg.Cache.SkipRoundTripCheck,
	}, tiered, logger)
	defer manager.Close()

	// Upstream generator
	authMode, _ := cloudauth.ParseMode(cfg.Upstream.Auth)
	transport, err := cloudauth.New(ctx, cloudauth.Config{
		Mode:    authMode,
		Key:     cfg.Upstream.APIKey,
		Scopes:  cfg.Upstream.Scopes,
		Region:  cfg.Upstream.Region,
		Service: cfg.Upstream.Service,
	}, generator.NewTransport(resolver))
	if err != nil {
		return fmt.Errorf("upstream auth: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Limits{RPM: cfg.Upstream.MaxRPM, TPM: cfg.Upstream.MaxTPM})
	gen := generator.New(cfg.Upstream.BaseURL, cfg.Upstream.Model,
		&http.Client{Transport: transport, Timeout: cfg.Upstream.Timeout()}, limiter, metrics)

	// Services and background workers
	recorder := worker.NewGenerationRecorder(store, metrics)
	text := app.NewTextService(manager, gen, recorder, gen.Model(), logger)

	workers := []worker.Worker{
		recorder,
		worker.NewLocalSweeper(tiered, cfg.Cache.Local.SweepInterval),
	}
	if remote != nil {
		workers = append(workers, worker.NewRemoteProber(tiered, cfg.Remote.HealthInterval))
	}
	if cfg.Database.Retention > 0 {
		workers = append(workers, worker.NewLedgerRetention(store, cfg.Database.Retention, cfg.Database.RetentionInterval))
	}
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.NewRunner(workers...).Run(workerCtx) }()

	// Create HTTP server
	handler := server.New(server.Deps{
		Text:           text,
		Cache:          manager,
		Ledger:         store,
		Limiter:        limiter,
		Auth:           auth.NewTokenAuth(cfg.Server.AdminTokens),
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

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("respcache ready",
		"addr", cfg.Server.Addr,
		"model", gen.Model(),
		"local_engine", cfg.Cache.Local.Engine,
		"remote", cfg.Remote.Enabled,
	)

	var (
		serveErr       error
		workersStopped bool
	)
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case serveErr = <-errCh:
	case err := <-workerDone:
		workersStopped = true
		if err != nil {
			serveErr = fmt.Errorf("worker: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}

	// Stop workers after the server so in-flight generations reach the ledger.
	cancelWorkers()
	if !workersStopped {
		select {
		case <-workerDone:
		case <-shutdownCtx.Done():
			slog.Warn("workers did not stop before the shutdown deadline")
		}
	}

	slog.Info("respcache stopped")
	return serveErr
}

// newLocal builds the in-process tier. Capacity evictions feed the stats.
func newLocal(cfg config.LocalConfig, maxTTL time.Duration, stats *cache.Stats) (cache.LocalStore, error) {
	onEvict := func(string) { stats.RecordEviction() }
	switch cfg.Engine {
	case "tinylfu":
		m, err := cache.NewMemory(cfg.MaxEntries, maxTTL, onEvict)
		if err != nil {
			return nil, fmt.Errorf("local cache: %w", err)
		}
		return m, nil
	default:
		return cache.NewLRU(cfg.MaxEntries, cache.WithEvictHook(onEvict)), nil
	}
}

func maxTTL(ttls []time.Duration) time.Duration {
	var m time.Duration
	for _, d := range ttls {
		m = max(m, d)
	}
	return m
}

// refreshDNS drops stale resolver entries until ctx is cancelled.
func refreshDNS(ctx context.Context, r *dnscache.Resolver) {
	t := time.NewTicker(dnsRefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Refresh(true)
		}
	}
}
