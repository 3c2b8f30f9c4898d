package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ahrav/castrank/infrastructure/events"
	"github.com/ahrav/castrank/infrastructure/middleware"
	"github.com/ahrav/castrank/infrastructure/store"
	"github.com/ahrav/castrank/infrastructure/store/memory"
	mongostore "github.com/ahrav/castrank/infrastructure/store/mongo"
	postgresstore "github.com/ahrav/castrank/infrastructure/store/postgres"
	redisstore "github.com/ahrav/castrank/infrastructure/store/redis"
	"github.com/ahrav/castrank/internal/application"
	"github.com/ahrav/castrank/internal/ports"
)

const bootstrapModule = "cmd/castrank"

// App is the wired process: a store behind its middleware chain, the change
// feed the pipeline listens on and the pipeline itself.
type App struct {
	Pipeline   *application.Pipeline
	Store      ports.DocumentStore
	Subscriber ports.ChangeSubscriber

	cfg      application.Config
	registry *prometheus.Registry
	bus      *events.Bus
	closers  []func() error
	logger   *slog.Logger
}

// backend is a connected base store plus the feed carrying its writes.
type backend struct {
	store      ports.DocumentStore
	subscriber ports.ChangeSubscriber
	close      func() error
}

// Build connects the configured backend and assembles the pipeline.
func Build(ctx context.Context, cfg application.Config, logger *slog.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := middleware.NewPrometheusMetrics(registry, cfg.Metrics.Namespace)

	bus := events.NewBus(events.WithLogger(logger))
	be, err := openBackend(ctx, cfg, bus, logger)
	if err != nil {
		return nil, err
	}

	docs := store.Chain(be.store,
		store.TracingMiddleware(cfg.Store.Backend),
		store.MetricsMiddleware(cfg.Store.Backend, metrics),
		store.CircuitBreakerMiddleware(
			store.NewCircuitBreaker(cfg.Store.CircuitBreaker.MaxFailures, cfg.Store.CircuitBreaker.Cooldown),
			cfg.Store.Backend, metrics,
		),
		store.RetryMiddleware(cfg.Store.Retry.MaxRetries, cfg.Store.Retry.BaseDelay, cfg.Store.Retry.MaxDelay),
		store.TimeoutMiddleware(cfg.Store.Timeout),
		store.RateLimitMiddleware(rate.Limit(cfg.Store.RateLimit), cfg.Store.Burst),
	)

	pipeline, err := application.NewPipeline(cfg, application.Dependencies{
		Store:   docs,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		_ = be.close()
		return nil, err
	}

	return &App{
		Pipeline:   pipeline,
		Store:      docs,
		Subscriber: be.subscriber,
		cfg:        cfg,
		registry:   registry,
		bus:        bus,
		closers:    []func() error{be.close},
		logger:     logger,
	}, nil
}

// openBackend connects the configured store. Backends without a native
// change feed publish their own writes to bus.
func openBackend(ctx context.Context, cfg application.Config, bus *events.Bus, logger *slog.Logger) (backend, error) {
	noop := func() error { return nil }

	switch cfg.Store.Backend {
	case application.BackendMemory:
		s := memory.NewStore(memory.WithPublisher(bus), memory.WithLogger(logger))
		return backend{store: s, subscriber: bus, close: noop}, nil

	case application.BackendPostgres:
		db, err := postgresstore.Connect(cfg.Store.Postgres.DSN)
		if err != nil {
			return backend{}, err
		}
		closeDB := func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}
		s := postgresstore.NewStore(db,
			postgresstore.WithTable(cfg.Store.Postgres.Table),
			postgresstore.WithPublisher(bus),
			postgresstore.WithLogger(logger),
		)
		if err := s.Migrate(ctx); err != nil {
			_ = closeDB()
			return backend{}, err
		}
		return backend{store: s, subscriber: bus, close: closeDB}, nil

	case application.BackendRedis:
		client, err := redisstore.Connect(ctx, cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
		if err != nil {
			return backend{}, err
		}
		s := redisstore.NewStore(client,
			redisstore.WithKeyPrefix(cfg.Store.Redis.KeyPrefix),
			redisstore.WithPublisher(bus),
			redisstore.WithLogger(logger),
		)
		return backend{store: s, subscriber: bus, close: client.Close}, nil

	case application.BackendMongo:
		client, err := mongostore.Connect(ctx, cfg.Store.Mongo.URI)
		if err != nil {
			return backend{}, err
		}
		db := client.Database(cfg.Store.Mongo.Database)
		return backend{
			store:      mongostore.NewStore(db, nil, logger),
			subscriber: mongostore.NewChangeFeed(db, logger),
			close: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return client.Disconnect(ctx)
			},
		}, nil

	default:
		return backend{}, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// Run starts the pipeline and the metrics endpoint and blocks until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Pipeline.Start(ctx, a.Subscriber); err != nil {
		return err
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if a.cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
		server = &http.Server{
			Addr:              a.cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	a.logger.Info("castrank pipeline started",
		"event", "bootstrap_pipeline_started",
		"module", bootstrapModule,
		"layer", "platform",
		"store_backend", a.cfg.Store.Backend,
		"watched_collections", a.Pipeline.Dispatcher.Collections(),
		"metrics_addr", a.cfg.Metrics.ListenAddr,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		runErr = fmt.Errorf("metrics server: %w", runErr)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	a.bus.Wait()
	return runErr
}

// Close releases the backend connection.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
