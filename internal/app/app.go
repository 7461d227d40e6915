package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"catpipe/internal/config"
	"catpipe/internal/exporter"
	"catpipe/internal/infrastructure"
	"catpipe/internal/middleware"
	"catpipe/internal/operations"
	"catpipe/internal/services"
	handlers "catpipe/internal/transport/http"
	ws "catpipe/internal/websocket"
	"catpipe/pkg/contracts"
)

const (
	snapshotSweepInterval = 10 * time.Minute
	snapshotRetention     = time.Hour
	queueStopTimeout      = 30 * time.Second
)

// Application holds every long-lived component of the catpipe server
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.PipelineMetrics
	WebSocketHub  *ws.Hub
	Manager       *operations.Manager
	JobQueue      *operations.JobQueue
	Services      *ServiceContainer

	closeLogger func() error
	cancel      context.CancelFunc
	stopOnce    sync.Once
	stopErr     error
}

// ServiceContainer holds the services shared by handlers and pipeline steps
type ServiceContainer struct {
	Pipeline *operations.Services
	Health   *services.HealthService
	Store    exporter.ArtifactStore
}

// NewApplication wires the server from cfg. A nil logger builds one from
// cfg.Logging.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	closeLogger := func() error { return nil }
	if logger == nil {
		l, closer, err := infrastructure.NewLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger, closeLogger = l, closer
	}

	logger.Info("application_starting",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", cfg.Server.Port))

	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(logger); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if providers.TracerProvider != nil {
		otel.SetTracerProvider(providers.TracerProvider)
	}
	if providers.MeterProvider != nil {
		otel.SetMeterProvider(providers.MeterProvider)
	}

	metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: providers,
		Metrics:       metrics,
		closeLogger:   closeLogger,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the hub, the pipeline manager and the job queue
func (a *Application) initializeServices() error {
	store, err := exporter.NewArtifactStore(a.Config.Export.Store, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}

	a.WebSocketHub = ws.NewHub(nil, a.Logger)

	tracer := operations.NewOperationTracer(a.Metrics)
	manager, pipeline, err := NewPipeline(a.Config, a.Paths, a.WebSocketHub, store, tracer, a.Logger)
	if err != nil {
		return err
	}
	a.Manager = manager
	a.WebSocketHub.SetSnapshotSource(manager.GetBroadcaster())

	a.JobQueue = operations.NewJobQueue(a.Config.Server.Workers, operations.NewMemoryJobStore(), manager, a.Logger)

	a.Services = &ServiceContainer{
		Pipeline: pipeline,
		Health:   services.NewHealthService(a.Paths, a.WebSocketHub, a.JobQueue, manager, a.Logger),
		Store:    store,
	}

	a.Logger.Info("services_initialized",
		slog.String("artifact_store", store.Backend()),
		slog.Int("workers", a.Config.Server.Workers),
		slog.Int("steps", manager.GetRegistry().Count()))
	return nil
}

// NewPipeline builds a manager with every pipeline step registered and the
// report writer attached. hub may be nil for headless runs.
func NewPipeline(cfg *config.Config, paths *config.Paths, hub operations.WebSocketHub, store exporter.ArtifactStore, tracer *operations.OperationTracer, logger *slog.Logger) (*operations.Manager, *operations.Services, error) {
	svc := operations.NewServices(cfg, paths, store, tracer, logger)
	manager := operations.NewManager(hub, nil, operations.ConfigFrom(cfg), logger)
	if err := operations.RegisterPipeline(manager, svc, logger); err != nil {
		return nil, nil, fmt.Errorf("failed to register pipeline: %w", err)
	}
	manager.SetReportWriter(operations.NewReportFileWriter(paths))
	return manager, svc, nil
}

// setupRouter mounts middleware and routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics).Handler)
	r.Use(middleware.StructuredLogger(a.Logger))
	r.Use(middleware.Recoverer(a.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(a.getCORSConfig()))

	r.NotFound(middleware.NotFound(a.Logger))
	r.MethodNotAllowed(middleware.MethodNotAllowed(a.Logger))

	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)
	metricsHandler := handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP, a.WebSocketHub, a.JobQueue)

	r.Mount("/healthz", healthHandler.Routes())
	r.Get("/metrics", metricsHandler.Prometheus)
	r.Get("/ws", ws.ServeWS(a.WebSocketHub, a.Config.WebSocket, a.Logger))

	a.setupAPIRoutes(r, healthHandler, metricsHandler)

	a.Router = r
}

func (a *Application) setupAPIRoutes(r chi.Router, health *handlers.HealthHandler, metrics *handlers.MetricsHandler) {
	runsHandler := handlers.NewRunsHandler(a.JobQueue, a.Manager, a.Manager.GetBroadcaster(), a.Services.Pipeline.Splitter, a.Logger)
	runsHandler.SetRequestTimeout(a.Config.Server.WriteTimeout)
	pipelineHandler := handlers.NewPipelineHandler(a.Manager.GetRegistry(), a.Logger)
	limiter := middleware.NewRateLimiterFromConfig(a.Config.Server.RateLimit, a.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(limiter.Handler)

		r.Get("/version", health.Version)
		r.Get("/pipeline", pipelineHandler.Describe)
		r.Mount("/metrics", metrics.Routes())
		r.Mount("/runs", runsHandler.Routes())
	})
}

func (a *Application) getCORSConfig() middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowedOrigins: a.Config.WebSocket.AllowedOrigins,
		ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start launches the background workers: hub, job queue and snapshot
// sweeper. It does not listen; Run does.
func (a *Application) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.WebSocketHub.Start()
	a.JobQueue.Start(ctx)
	go a.sweepSnapshots(ctx)

	a.performStartupHealthCheck(ctx)
}

func (a *Application) sweepSnapshots(ctx context.Context) {
	ticker := time.NewTicker(snapshotSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Manager.GetBroadcaster().CleanupOldOperations(ctx, snapshotRetention); n > 0 {
				a.Logger.InfoContext(ctx, "snapshots_swept", slog.Int("removed", n))
			}
		}
	}
}

func (a *Application) performStartupHealthCheck(ctx context.Context) {
	status := a.Services.Health.ReadinessCheck(ctx)
	if status.Status != "ready" {
		a.Logger.WarnContext(ctx, "startup_health_check_warnings",
			slog.Any("services", status.Services))
		return
	}
	a.Logger.InfoContext(ctx, "startup_health_check_passed")
}

// Stop shuts everything down in reverse order of startup. Safe to call more
// than once.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopErr = a.stop(ctx)
	})
	return a.stopErr
}

func (a *Application) stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "application_stopping")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if err := a.JobQueue.Stop(queueStopTimeout); err != nil {
		a.Logger.ErrorContext(ctx, "job_queue_stop_failed", slog.String("error", err.Error()))
	}
	if a.cancel != nil {
		a.cancel()
	}

	a.WebSocketHub.BroadcastError("", "shutdown", "server is shutting down", true)
	a.WebSocketHub.Stop()
	a.Manager.Shutdown()

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "telemetry_shutdown_failed", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "application_stopped")
	if err := a.closeLogger(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	return errors.Join(errs...)
}

// Run starts the application and serves HTTP until ctx is cancelled or the
// process receives SIGINT or SIGTERM
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "server_listening", slog.String("address", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}
