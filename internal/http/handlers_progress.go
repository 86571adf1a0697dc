// Package httpx provides HTTP handlers and utilities for the recotrack progress API.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/comicden/recotrack/internal/domain/model"
	"github.com/comicden/recotrack/internal/service"
)

// ProgressHandlers provides HTTP handlers for the producer-facing ingestion API.
type ProgressHandlers struct {
	Svc *service.ProgressService
	// Optional: structured logger for request-scoped logging
	Logger *slog.Logger
}

func (h *ProgressHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Initialize handles HTTP requests to create a new progress session.
func (h *ProgressHandlers) Initialize(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")},
		)
		return
	}

	// Body is optional; an empty body initializes with no metadata.
	var meta model.JobMeta
	if r.ContentLength != 0 {
		if !DecodeJSON(w, r, &meta) {
			return
		}
	}

	if err := h.Svc.Initialize(r.Context(), sessionID, meta); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "initialized"})
}

// UpdateProgress handles HTTP requests to report progress for a session.
func (h *ProgressHandlers) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")},
		)
		return
	}

	var req model.ProgressUpdateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.Svc.UpdateProgress(r.Context(), sessionID, req); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Complete handles HTTP requests to finalize a session successfully.
func (h *ProgressHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")},
		)
		return
	}

	// The result payload is opaque; it is bounded downstream before delivery.
	var body struct {
		Result json.RawMessage `json:"result"`
	}
	if r.ContentLength != 0 {
		if !DecodeJSON(w, r, &body) {
			return
		}
	}

	if err := h.Svc.Complete(r.Context(), sessionID, body.Result); err != nil {
		WriteAppError(w, err)
		return
	}

	h.logger().DebugContext(r.Context(), "session completed via api", "session_id", sessionID)
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Fail handles HTTP requests to finalize a session with an error.
func (h *ProgressHandlers) Fail(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")},
		)
		return
	}

	var body struct {
		Error string `json:"error"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Error == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_body", Err: errors.New("error message is required")},
		)
		return
	}

	if err := h.Svc.Fail(r.Context(), sessionID, body.Error); err != nil {
		WriteAppError(w, err)
		return
	}

	h.logger().DebugContext(r.Context(), "session failed via api", "session_id", sessionID)
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
