package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comicden/recotrack/config"
	"github.com/comicden/recotrack/internal/data"
	"github.com/comicden/recotrack/internal/observability/statsd"
	"github.com/comicden/recotrack/internal/service"
	"github.com/redis/go-redis/v9"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Registry  *service.SessionRegistry
	Cache     *service.ProgressCache
	CacheRepo *data.RedisCacheRepo
	Snapshots *data.ProgressSnapshotStore
	Records   *data.RecordRepo
	Progress  *service.ProgressService
	Status    *service.StatusService
	RecordSvc *service.RecordService
	Sweeper   *service.SweeperService

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.StatsdPrefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// NewServices constructs the full service graph from shared infrastructure.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)

	cacheRepo := data.NewRedisCacheRepo(deps.RedisClient)
	snapshots, err := data.NewProgressSnapshotStore(data.ProgressSnapshotStoreOptions{
		Cache:        cacheRepo,
		TTL:          cfg.Progress.SnapshotTTL,
		HistoryLimit: cfg.Progress.HistoryLimit,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build snapshot store: %w", err)
	}
	records := data.NewRecordRepo(deps.DB, data.RecordRepoConfig{Logger: logger})

	registry := service.NewSessionRegistry()
	cache := service.NewProgressCache()

	progress, err := service.NewProgressService(service.ProgressServiceOptions{
		Registry:  registry,
		Cache:     cache,
		Snapshots: snapshots,
		Records:   records,
		Config:    cfg.Progress,
		Logger:    logger,
		Metrics:   observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build progress service: %w", err)
	}

	status, err := service.NewStatusService(service.StatusServiceOptions{
		Registry:  registry,
		Cache:     cache,
		Snapshots: snapshots,
		Records:   records,
		Config:    cfg.Progress,
		Logger:    logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build status service: %w", err)
	}

	recordSvc, err := service.NewRecordService(service.RecordServiceOptions{
		Repo:   records,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build record service: %w", err)
	}

	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Cache:   cache,
		Records: records,
		Config:  cfg.Sweeper,
		Logger:  logger,
		Metrics: observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build sweeper service: %w", err)
	}

	return ServiceContainer{
		Registry:      registry,
		Cache:         cache,
		CacheRepo:     cacheRepo,
		Snapshots:     snapshots,
		Records:       records,
		Progress:      progress,
		Status:        status,
		RecordSvc:     recordSvc,
		Sweeper:       sweeper,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		BaseContext: deps.ctx,
		Config:      deps.cfg.Config,
		Services:    deps.cfg.Services,
		Logger:      deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				if deps.logger != nil {
					deps.logger.WarnContext(
						ctx,
						"dropping background service error",
						"service",
						descriptor.name,
						"error",
						errMsg,
					)
				} else {
					slog.Default().WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
				}
			}
		}
	}()

	if deps.logger != nil {
		deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	} else {
		slog.Default().InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	}

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newSweeperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeSweeper,
		name: "cleanup sweeper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Services.Sweeper == nil {
				return nil
			}
			return deps.cfg.Services.Sweeper.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newSweeperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		cancel:          cancel,
		errCh:           errCh,
		httpServer:      result.HTTPServer,
		metricsSink:     cfg.Services.Observability.MetricsSink,
		shutdownTimeout: time.Duration(cfg.Config.HTTP.ShutdownTimeoutSeconds) * time.Second,
		logger:          logger,
		backgrounds:     result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	modes := []config.ServiceMode{
		config.ServiceModeHTTP,
		config.ServiceModeSweeper,
	}

	count := 0
	for _, mode := range modes {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel          context.CancelFunc
	errCh           <-chan error
	httpServer      *http.Server
	metricsSink     *statsd.Client
	shutdownTimeout time.Duration
	logger          *slog.Logger
	backgrounds     []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		// The service context is already cancelled here; use a fresh one so
		// in-flight requests still get the grace period.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Timeout: cfg.shutdownTimeout,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	// Flush and release the metrics sink last so shutdown itself is observable
	if cfg.metricsSink != nil {
		if err := cfg.metricsSink.Close(); err != nil {
			cfg.logger.Warn("close metrics sink failed", "error", err)
		}
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
