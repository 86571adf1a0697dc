// Package model defines the core data types and structures used throughout the recotrack progress system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType represents the type of a progress event.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type EventType string

// JobState represents the lifecycle state of a persistent job record.
type JobState string

// StatusSource identifies which storage tier served a status view.
type StatusSource string

const (
	// EventTypeProgress represents an intermediate progress update.
	EventTypeProgress EventType = "progress"
	// EventTypeCompleted represents successful completion of a session.
	EventTypeCompleted EventType = "completed"
	// EventTypeError represents a failed session.
	EventTypeError EventType = "error"

	// JobStateProcessing indicates a session is still being processed.
	JobStateProcessing JobState = "processing"
	// JobStateCompleted indicates a session finished successfully.
	JobStateCompleted JobState = "completed"
	// JobStateError indicates a session failed.
	JobStateError JobState = "error"

	// SourceMemory tags a status view served from the in-process progress cache.
	SourceMemory StatusSource = "memory"
	// SourceSharedCache tags a status view served from the Redis snapshot store.
	SourceSharedCache StatusSource = "shared-cache"
	// SourcePersistent tags a status view served from the persistent record store.
	SourcePersistent StatusSource = "persistent"
	// SourceNotFound tags a status view for an unknown session.
	SourceNotFound StatusSource = "not_found"
)

// UnmarshalText implements encoding.TextUnmarshaler for EventType.
func (t *EventType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	et := EventType(v)
	if et.Valid() {
		*t = et
		return nil
	}
	return fmt.Errorf("invalid EventType: %q", v)
}

// Valid returns true if the EventType is valid.
func (t EventType) Valid() bool {
	return t == EventTypeProgress || t == EventTypeCompleted || t == EventTypeError
}

// Valid returns true if the JobState is valid.
func (s JobState) Valid() bool {
	return s == JobStateProcessing || s == JobStateCompleted || s == JobStateError
}

// Terminal returns true if the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateError
}

// Counters carries per-session item counts reported by the recognition worker.
// Fields merge with advance-only semantics: a counter never decreases.
type Counters struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Merge returns a copy of c advanced by the non-regressing fields of other.
func (c Counters) Merge(other Counters) Counters {
	if other.Total > c.Total {
		c.Total = other.Total
	}
	if other.Processed > c.Processed {
		c.Processed = other.Processed
	}
	if other.Successful > c.Successful {
		c.Successful = other.Successful
	}
	if other.Failed > c.Failed {
		c.Failed = other.Failed
	}
	return c
}

// IsZero returns true when no counter has been reported.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// ProgressEvent is an immutable snapshot of a session's progress at a point
// in time. Events are superseded by newer events, never edited in place.
type ProgressEvent struct {
	Type        EventType       `json:"type"`
	SessionID   string          `json:"sessionId"`
	Stage       string          `json:"stage"`
	Progress    *int            `json:"progress"` // 0-100, nil when the producer reported none
	Message     string          `json:"message"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Counters    *Counters       `json:"counters,omitempty"`
	ProcessType string          `json:"processType,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Percent returns the event's progress value, or fallback when unset.
func (e *ProgressEvent) Percent(fallback int) int {
	if e.Progress == nil {
		return fallback
	}
	return *e.Progress
}

// ClampPercent clamps a percent value to the [0, 100] range.
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// MonotonicPercent returns the effective percent after applying the
// monotonic-update rule: the value only ever advances, never regresses.
func MonotonicPercent(previous, incoming int) int {
	if incoming > previous {
		return incoming
	}
	return previous
}

// JobRecord is the durable, non-expiring record of a session's lifecycle.
type JobRecord struct {
	SessionID       string     `json:"session_id"                 db:"session_id"`
	State           JobState   `json:"state"                      db:"state"`
	Percentage      int        `json:"percentage"                 db:"percentage"`
	CurrentStage    string     `json:"current_stage"              db:"current_stage"`
	StatusMessage   string     `json:"status_message"             db:"status_message"`
	TotalItems      int        `json:"total_items"                db:"total_items"`
	ProcessedItems  int        `json:"processed_items"            db:"processed_items"`
	SuccessfulItems int        `json:"successful_items"           db:"successful_items"`
	FailedItems     int        `json:"failed_items"               db:"failed_items"`
	ProcessType     string     `json:"process_type"               db:"process_type"`
	StartedAt       time.Time  `json:"started_at"                 db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"      db:"finished_at"`
	ErrorMessage    *string    `json:"error_message,omitempty"    db:"error_message"`
	OwnerID         string     `json:"owner_id"                   db:"owner_id"`
	Dismissed       bool       `json:"dismissed"                  db:"dismissed"`
	LastUpdated     time.Time  `json:"last_updated"               db:"last_updated"`
}

// Counters collects the record's item counts.
func (r *JobRecord) Counters() Counters {
	return Counters{
		Total:      r.TotalItems,
		Processed:  r.ProcessedItems,
		Successful: r.SuccessfulItems,
		Failed:     r.FailedItems,
	}
}

// StatusView is a normalized point-in-time status snapshot, tagged with the
// storage tier that served it so callers can reason about freshness.
type StatusView struct {
	SessionID  string          `json:"sessionId"`
	Type       EventType       `json:"type"`
	Stage      string          `json:"stage"`
	Progress   *int            `json:"progress"`
	Message    string          `json:"message"`
	Timestamp  time.Time       `json:"timestamp"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Counters   *Counters       `json:"counters,omitempty"`
	HasChannel bool            `json:"hasChannel"`
	Source     StatusSource    `json:"source"`
}

// NotFoundView returns the status view for an unknown session.
func NotFoundView(sessionID string) StatusView {
	return StatusView{
		SessionID: sessionID,
		Source:    SourceNotFound,
	}
}

// JobMeta carries producer-supplied metadata for session initialization.
type JobMeta struct {
	OwnerID     string `json:"owner_id"`
	ProcessType string `json:"process_type"`
}

// ProgressUpdateRequest is a producer request to report session progress.
type ProgressUpdateRequest struct {
	Stage       string    `json:"stage"`
	Progress    *int      `json:"progress,omitempty"`
	Message     string    `json:"message"`
	Counters    *Counters `json:"counters,omitempty"`
	ProcessType string    `json:"process_type,omitempty"`
}

// Validate validates the ProgressUpdateRequest fields.
func (r *ProgressUpdateRequest) Validate() error {
	if strings.TrimSpace(r.Stage) == "" {
		return errors.New("stage is required")
	}
	if r.Counters != nil {
		c := r.Counters
		if c.Total < 0 || c.Processed < 0 || c.Successful < 0 || c.Failed < 0 {
			return errors.New("counters must be non-negative")
		}
	}
	return nil
}

// ValidateSessionID validates a producer-supplied session identifier.
// Identifiers are opaque but must be non-empty and reasonably sized so
// they remain usable as Redis keys and SQL primary keys.
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is required")
	}
	if len(id) > 128 {
		return errors.New("session id exceeds 128 characters")
	}
	return nil
}
