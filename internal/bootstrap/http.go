package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/comicden/recotrack/config"
	httpx "github.com/comicden/recotrack/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	// BaseContext becomes the base context of every request. Cancelling it
	// unblocks long-lived progress streams so graceful shutdown can finish.
	BaseContext context.Context
	Config      *config.AppConfig
	Services    ServiceContainer
	Logger      *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	// Build router services; the router applies logging and recovery middleware
	handler := httpx.NewRouter(httpx.RouterServices{
		Progress:   cfg.Services.Progress,
		Status:     cfg.Services.Status,
		Records:    cfg.Services.RecordSvc,
		Registry:   cfg.Services.Registry,
		Config:     appCfg.Progress,
		Cache:      cfg.Services.CacheRepo,
		RecordRepo: cfg.Services.Records,
		Logger:     logger,
	})

	// Start server (logs "starting HTTP server" internally)
	server := startServer(cfg.BaseContext, logger, handler, appCfg.HTTP)

	return server
}

func startServer(baseCtx context.Context, logger *slog.Logger, handler http.Handler, httpCfg config.HTTPConfig) *http.Server {
	addr := httpCfg.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: time.Duration(httpCfg.ReadTimeoutSeconds) * time.Second,
		// No WriteTimeout: live progress streams stay open far longer than
		// any per-request bound. Idle channels are reaped by the stream
		// handler's own timeout.
		IdleTimeout: 120 * time.Second,
	}
	if baseCtx != nil {
		server.BaseContext = func(net.Listener) context.Context { return baseCtx }
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	shutdownCtx, cancel := context.WithTimeout(cfg.Context, timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
