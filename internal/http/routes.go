package httpx

import (
	"log/slog"
	"net/http"

	"github.com/comicden/recotrack/config"
	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Progress *service.ProgressService
	Status   *service.StatusService
	Records  *service.RecordService
	Registry *service.SessionRegistry
	Config   config.ProgressConfig
	// Optional: backing stores for the deep health check
	Cache      core.CacheRepository
	RecordRepo core.RecordRepository
	Logger     *slog.Logger // Logger for HTTP middleware and handlers (optional)
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	progressHandlers := &ProgressHandlers{Svc: services.Progress, Logger: services.Logger}
	streamHandlers := &StreamHandlers{
		Svc:      services.Progress,
		Registry: services.Registry,
		Config:   services.Config,
		Logger:   services.Logger,
	}
	statusHandlers := &StatusHandlers{Status: services.Status, Records: services.Records}
	healthHandlers := &HealthHandlers{Cache: services.Cache, Records: services.RecordRepo}

	registerIngestionRoutes(mux, progressHandlers)
	registerConsumptionRoutes(mux, streamHandlers, statusHandlers)
	registerRecordRoutes(mux, statusHandlers)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.HandleFunc("GET /healthz/deep", healthHandlers.Deep)

	var handler http.Handler = mux
	if services.Logger != nil {
		handler = Logging(services.Logger)(handler)
		handler = Recover(services.Logger)(handler)
	}
	return handler
}

// registerIngestionRoutes wires the producer-facing API.
func registerIngestionRoutes(mux *http.ServeMux, h *ProgressHandlers) {
	mux.HandleFunc("POST /api/sessions/{id}/init", h.Initialize)
	mux.HandleFunc("POST /api/sessions/{id}/progress", h.UpdateProgress)
	mux.HandleFunc("POST /api/sessions/{id}/complete", h.Complete)
	mux.HandleFunc("POST /api/sessions/{id}/fail", h.Fail)
}

// registerConsumptionRoutes wires the consumer-facing read API.
func registerConsumptionRoutes(mux *http.ServeMux, stream *StreamHandlers, status *StatusHandlers) {
	mux.HandleFunc("GET /api/sessions/{id}/stream", stream.Stream)
	mux.HandleFunc("GET /api/sessions/{id}/status", status.GetStatus)
}

// registerRecordRoutes wires the persistent record listing and lifecycle API.
func registerRecordRoutes(mux *http.ServeMux, h *StatusHandlers) {
	mux.HandleFunc("GET /api/sessions", h.List)
	mux.HandleFunc("GET /api/sessions/{id}", h.GetRecord)
	mux.HandleFunc("POST /api/sessions/{id}/dismiss", h.Dismiss)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.Delete)
}
