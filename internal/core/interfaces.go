// Package core defines the ports between the service layer and the data layer
// of the recotrack progress system.
package core

import (
	"context"
	"time"

	"github.com/comicden/recotrack/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// CacheRepository defines the interface for shared-cache operations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// SetTTL updates the TTL for an existing key.
	// Returns true if the key exists and TTL was updated.
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AppendList pushes a value onto the head of a bounded list, trims the
	// list to params.MaxLen entries, and refreshes its TTL in one atomic step.
	AppendList(ctx context.Context, params AppendListParams) error

	// ListRange returns up to limit entries from the head of a list,
	// newest first. Returns nil if the key doesn't exist.
	ListRange(ctx context.Context, key string, limit int64) ([][]byte, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// AppendListParams groups parameters for AppendList to keep param count ≤3.
type AppendListParams struct {
	Key    string
	Value  []byte
	MaxLen int64
	TTL    time.Duration
}

// SnapshotStore defines the interface for the shared progress snapshot tier.
// Implementations persist the latest event and a bounded recent-history list
// per session, both TTL-bounded.
type SnapshotStore interface {
	// WriteLatest stores the event as the session's latest snapshot and
	// appends it to the session's recent-history list.
	WriteLatest(ctx context.Context, event *model.ProgressEvent) error

	// ReadLatest returns the session's latest snapshot, or nil if none
	// exists (or it has expired).
	ReadLatest(ctx context.Context, sessionID string) (*model.ProgressEvent, error)

	// History returns up to limit recent events for the session, newest first.
	History(ctx context.Context, sessionID string, limit int64) ([]*model.ProgressEvent, error)

	// Invalidate removes the session's snapshot and history.
	Invalidate(ctx context.Context, sessionID string) error
}

// UpdateRecordProgressParams groups parameters for RecordRepository.UpdateProgress.
type UpdateRecordProgressParams struct {
	SessionID   string
	Percentage  int
	Stage       string
	Message     string
	Counters    model.Counters
	ProcessType string
}

// FinalizeRecordParams groups parameters for RecordRepository.Finalize.
type FinalizeRecordParams struct {
	SessionID    string
	State        model.JobState
	Message      string
	ErrorMessage *string
	Counters     model.Counters
}

// MarkOrphanedParams groups parameters for RecordRepository.MarkOrphaned.
type MarkOrphanedParams struct {
	IdleFor      time.Duration
	BatchSize    int
	ErrorMessage string
}

// RecordRepository defines the interface for persistent job record operations.
type RecordRepository interface {
	// Create inserts a new record in the processing state. It is idempotent:
	// creating a record for an existing session id is a no-op and returns
	// false, true when a row was actually inserted.
	Create(ctx context.Context, rec *model.JobRecord) (bool, error)

	// GetBySessionID retrieves a record by its session id.
	GetBySessionID(ctx context.Context, sessionID string) (*model.JobRecord, error)

	// UpdateProgress opportunistically updates stage/percent/message/counters
	// on a still-processing record. The percent only ever advances and the
	// write is skipped entirely when nothing changed. Returns true when a row
	// was updated.
	UpdateProgress(ctx context.Context, params UpdateRecordProgressParams) (bool, error)

	// Finalize transitions a processing record to a terminal state, setting
	// finished_at. Repeated finalization of an already-terminal record only
	// refreshes message/last_updated. Returns true on the terminal transition.
	Finalize(ctx context.Context, params FinalizeRecordParams) (bool, error)

	// List returns records matching the given options, most recent first.
	List(ctx context.Context, opts model.RecordListOptions) ([]*model.JobRecord, error)

	// SetDismissed flips the soft-delete flag. Returns true if the record exists.
	SetDismissed(ctx context.Context, sessionID string, dismissed bool) (bool, error)

	// Delete hard-deletes a record. Returns true if a row was removed.
	Delete(ctx context.Context, sessionID string) (bool, error)

	// MarkOrphaned transitions processing records with no activity for
	// params.IdleFor to the error state in batches. Returns the number of
	// records transitioned.
	MarkOrphaned(ctx context.Context, params MarkOrphanedParams) (int64, error)

	// Health checks the health of the record store connection.
	Health(ctx context.Context) error
}
