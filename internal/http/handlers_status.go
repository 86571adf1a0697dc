package httpx

import (
	"errors"
	"net/http"

	"github.com/comicden/recotrack/internal/domain/model"
	"github.com/comicden/recotrack/internal/service"
)

// StatusHandlers provides HTTP handlers for the consumer-facing read API.
type StatusHandlers struct {
	Status  *service.StatusService
	Records *service.RecordService
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// GetStatus handles HTTP requests to poll a session's current status. Unknown
// sessions return a not_found view with HTTP 200; the view's source field
// tells the caller what happened.
func (h *StatusHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")},
		)
		return
	}

	view := h.Status.GetStatus(r.Context(), sessionID)
	WriteJSON(w, http.StatusOK, view)
}

type recordListResponse struct {
	Sessions []*model.JobRecord `json:"sessions"`
	Count    int                `json:"count"`
}

// List handles HTTP requests to list persistent session records.
// Query params: active (processing only), include_dismissed, owner, limit, offset.
func (h *StatusHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)

	opts := model.RecordListOptions{
		ActiveOnly:       parseBoolQuery(r, "active", false),
		IncludeDismissed: parseBoolQuery(r, "include_dismissed", false),
		OwnerID:          r.URL.Query().Get("owner"),
		Limit:            limit,
		Offset:           offset,
	}

	records, err := h.Records.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if records == nil {
		records = []*model.JobRecord{}
	}
	WriteJSON(w, http.StatusOK, recordListResponse{Sessions: records, Count: len(records)})
}

// GetRecord handles HTTP requests to fetch a single persistent record.
func (h *StatusHandlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")},
		)
		return
	}

	rec, err := h.Records.Get(r.Context(), sessionID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// Dismiss handles HTTP requests to soft-delete a session record.
func (h *StatusHandlers) Dismiss(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")},
		)
		return
	}

	if err := h.Records.Dismiss(r.Context(), sessionID); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Delete handles HTTP requests to hard-delete a session record.
func (h *StatusHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")},
		)
		return
	}

	if err := h.Records.Delete(r.Context(), sessionID); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
