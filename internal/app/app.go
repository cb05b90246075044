// Package app wires configuration, storage, delivery and triggers into a
// running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"SendQueue/internal/api"
	"SendQueue/internal/config"
	"SendQueue/internal/db"
	"SendQueue/internal/db/memory"
	"SendQueue/internal/email"
	"SendQueue/internal/metrics"
	"SendQueue/internal/scheduler"
	"SendQueue/internal/worker"
)

// Store is every job store operation the service uses.
type Store interface {
	worker.Store
	api.Store
	Close()
}

type App struct {
	Config    *config.Config
	Log       *zap.Logger
	Store     Store
	Registry  *prometheus.Registry
	Metrics   *metrics.Collector
	Processor *worker.Processor
}

// New opens the store and builds the processor. Missing delivery settings do
// not fail here: every pass reports them through its preflight check until
// they are fixed.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	sender, err := cfg.Sender(log)
	if err != nil {
		log.Warn("delivery provider not configured", zap.Error(err))
		sender = email.Unavailable{Err: err}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := max(int(cfg.RateLimit), 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	proc, err := worker.New(worker.Deps{
		Store:           store,
		Sender:          sender,
		Policy:          cfg.Policy(),
		Clock:           worker.SystemClock{},
		Log:             log,
		Metrics:         m,
		Limiter:         limiter,
		Checks:          []worker.Check{cfg.Check, store.Ping},
		ClaimTimeout:    cfg.ClaimTimeout,
		DeliveryTimeout: cfg.DeliveryTimeout,
		Concurrency:     cfg.WorkerCount,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Registry:  reg,
		Metrics:   m,
		Processor: proc,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (Store, error) {
	if cfg.MemoryStore {
		log.Warn("using in-memory job store; jobs are lost on exit")
		return memory.New(), nil
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL", config.ErrMissing)
	}
	return db.New(ctx, cfg.DatabaseURL, log)
}

// Migrate applies schema migrations. The memory store has none.
func (a *App) Migrate(ctx context.Context) error {
	pg, ok := a.Store.(*db.Store)
	if !ok {
		return nil
	}
	return pg.Migrate(ctx)
}

func (a *App) Close() {
	a.Store.Close()
}

// Serve runs the metrics server, the periodic trigger and the HTTP API until
// ctx is cancelled or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config

	sched, err := scheduler.New(a.Processor, cfg.TriggerInterval, cfg.BatchLimit, a.Log, a.Metrics)
	if err != nil {
		return err
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ------------------------------------------------
	// HTTP API
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Store:        a.Store,
		Proc:         a.Processor,
		Log:          a.Log,
		Metrics:      a.Metrics,
		DefaultLimit: cfg.BatchLimit,
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		return listen(metricsServer)
	})

	g.Go(func() error {
		a.Log.Info("api server started", zap.String("port", cfg.APIPort))
		return listen(apiServer)
	})

	g.Go(func() error {
		return sched.Start(ctx)
	})

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	g.Go(func() error {
		<-ctx.Done()
		a.Log.Info("shutting down services...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			a.Log.Error("api shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			a.Log.Error("metrics shutdown failed", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	a.Log.Info("application shutdown complete")
	return err
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}
