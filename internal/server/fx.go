// Package server builds the fetchqueue application and runs its HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/api"
	"github.com/JakeFAU/fetchqueue/internal/clock/system"
	"github.com/JakeFAU/fetchqueue/internal/config"
	"github.com/JakeFAU/fetchqueue/internal/crawler"
	"github.com/JakeFAU/fetchqueue/internal/dedup"
	"github.com/JakeFAU/fetchqueue/internal/document/headless"
	"github.com/JakeFAU/fetchqueue/internal/document/query"
	httpfetcher "github.com/JakeFAU/fetchqueue/internal/fetcher/http"
	"github.com/JakeFAU/fetchqueue/internal/id/uuid"
	"github.com/JakeFAU/fetchqueue/internal/logging"
	"github.com/JakeFAU/fetchqueue/internal/metrics"
	"github.com/JakeFAU/fetchqueue/internal/progress"
	progresssinks "github.com/JakeFAU/fetchqueue/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/fetchqueue/internal/publisher/pubsub"
	"github.com/JakeFAU/fetchqueue/internal/results"
	gcsstorage "github.com/JakeFAU/fetchqueue/internal/storage/gcs"
	localstorage "github.com/JakeFAU/fetchqueue/internal/storage/local"
	pgstore "github.com/JakeFAU/fetchqueue/internal/storage/postgres"
	"github.com/JakeFAU/fetchqueue/internal/store"
	"github.com/JakeFAU/fetchqueue/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	engine    *crawler.Engine
	results   *results.Store
	apiServer *api.Server
	hub       *progress.Hub
	renderer  *headless.Renderer
	transport *httpfetcher.Transport
	storage   *storage.Client
	events    *pgstore.EventStore
	publisher *gcppublisher.Publisher

	tracerShutdown func(context.Context) error
	closeOnce      sync.Once
}

// Engine returns the request engine.
func (a *App) Engine() *crawler.Engine { return a.engine }

// Results returns the result store every API submission settles into.
func (a *App) Results() *results.Store { return a.results }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves the API and blocks until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.engine.Wait(shutdownCtx); err != nil {
		a.logger.Warn("engine did not drain before shutdown", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close stops the engine and releases every client. Later calls are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.engine.Close()
		a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.transport != nil {
		a.transport.CloseIdleConnections()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.events != nil {
		a.events.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("building application", zap.Int("server_port", cfg.Server.Port))

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	if cfg.OTel.Enabled {
		processor, err := telemetry.NewCloudTraceProcessor(cfg.OTel.ProjectID)
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		tp, err := telemetry.InitTracerProvider(ctx, cfg.OTel.ServiceName, processor)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerShutdown = tp.Shutdown
	}

	opts, err := cfg.Engine.Options()
	if err != nil {
		return fmt.Errorf("engine options: %w", err)
	}

	downloads, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}

	clock := system.New()
	ids := uuid.New()
	a.results = results.New(clock)
	if err := a.setupProgress(ctx); err != nil {
		return err
	}

	seen, err := dedup.New()
	if err != nil {
		return fmt.Errorf("dedup store init failed: %w", err)
	}
	a.transport = httpfetcher.New(httpfetcher.Config{
		DialTimeout:         cfg.HTTP.DialTimeout,
		TLSHandshakeTimeout: cfg.HTTP.TLSTimeout,
		MaxIdleConns:        cfg.HTTP.MaxIdleConns,
		MaxBodyBytes:        cfg.HTTP.MaxBodyBytes,
		FollowRedirects:     cfg.HTTP.FollowRedirects,
	}, a.logger.Named("transport"))

	deps := crawler.Deps{
		Transport: a.transport,
		Parser:    query.New(),
		Seen:      seen,
		IDs:       ids,
		Clock:     clock,
		Downloads: downloads,
		Events:    a.hub,
	}
	if cfg.Headless.Enabled {
		a.renderer, err = headless.New(headless.Config{
			MaxParallel:   cfg.Headless.MaxParallel,
			RenderTimeout: cfg.Headless.NavTimeout,
			HelperScripts: cfg.Headless.HelperScripts,
		})
		if err != nil {
			return fmt.Errorf("headless renderer init failed: %w", err)
		}
		deps.Environment = a.renderer
		a.logger.Info("headless documents enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	a.engine = crawler.New(opts, deps, a.logger.Named("engine"))
	a.logger.Info("engine initialized",
		zap.Int("max_connections", opts.MaxConnections),
		zap.Int("limiter_concurrency", opts.LimiterConcurrency),
		zap.Duration("rate_limit", opts.RateLimit),
	)

	metrics.Init()
	if err := registerCollector(prometheus.DefaultRegisterer, metrics.NewEngineCollector(a.engine.Stats)); err != nil {
		return fmt.Errorf("register engine collector: %w", err)
	}

	// A nil *EventStore must not reach the API as a non-nil interface.
	var events store.EventRepository
	if a.events != nil {
		events = a.events
	}
	a.apiServer = api.NewServer(a.engine, a.results, ids, cfg, a.logger.Named("api"), events)
	return nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.DownloadStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS download backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobStore, err := gcsstorage.New(client, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		a.logger.Info("using local download backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobStore, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		a.logger.Info("downloads disabled")
		return nil, nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no DSN specified for database, skipping request event log")
		return nil
	}
	events, err := pgstore.NewEventStore(ctx, pgstore.EventStoreConfig{
		DSN:             a.cfg.Database.DSN,
		Table:           a.cfg.Database.Table,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("event store init failed: %w", err)
	}
	a.events = events
	a.logger.Info("event store initialized", zap.String("table", a.cfg.Database.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicID == "" {
		a.logger.Debug("no Pub/Sub topic configured, lifecycle events stay local")
		return nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicID),
	)
	return nil
}

// setupProgress always starts a hub: the result store needs skip events even
// when every external sink is disabled.
func (a *App) setupProgress(ctx context.Context) error {
	sinkList := []progress.Sink{a.results}
	if a.cfg.Progress.Enabled {
		if a.events != nil {
			sinkList = append(sinkList, progresssinks.NewStoreSink(a.events, a.logger.Named("progress_store")))
		}
		if a.publisher != nil {
			sinkList = append(sinkList, progresssinks.NewPublisherSink(a.publisher, a.logger.Named("progress_pubsub")))
		}
		if a.cfg.Progress.LogEnabled {
			sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		}
		if a.cfg.Progress.PrometheusEnabled {
			promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("prometheus progress sink: %w", err)
			}
			sinkList = append(sinkList, promSink)
		}
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

// registerCollector tolerates a collector registered by an earlier Build in
// the same process.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}
