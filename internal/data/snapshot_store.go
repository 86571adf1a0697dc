package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/domain/model"
)

const (
	snapshotKeyPrefix = "progress:latest:"
	historyKeyPrefix  = "progress:history:"
)

// ProgressSnapshotStore implements the SnapshotStore interface on top of a
// CacheRepository. It keeps two keys per session: the latest event snapshot
// and a bounded recent-history list, both refreshed to the same TTL on every
// write so a live session never expires mid-run.
type ProgressSnapshotStore struct {
	cache        core.CacheRepository
	ttl          time.Duration
	historyLimit int64
}

// ProgressSnapshotStoreOptions bundles dependencies for NewProgressSnapshotStore.
type ProgressSnapshotStoreOptions struct {
	Cache        core.CacheRepository
	TTL          time.Duration
	HistoryLimit int
}

// NewProgressSnapshotStore creates a new ProgressSnapshotStore.
func NewProgressSnapshotStore(opts ProgressSnapshotStoreOptions) (*ProgressSnapshotStore, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache repository is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("snapshot ttl must be greater than zero")
	}
	if opts.HistoryLimit <= 0 {
		return nil, fmt.Errorf("history limit must be greater than zero")
	}

	return &ProgressSnapshotStore{
		cache:        opts.Cache,
		ttl:          opts.TTL,
		historyLimit: int64(opts.HistoryLimit),
	}, nil
}

// WriteLatest stores the event as the session's latest snapshot and appends
// it to the bounded history list.
func (s *ProgressSnapshotStore) WriteLatest(ctx context.Context, event *model.ProgressEvent) error {
	if event == nil || event.SessionID == "" {
		return fmt.Errorf("event with session id is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.cache.Set(ctx, snapshotKey(event.SessionID), payload, s.ttl); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := s.cache.AppendList(ctx, core.AppendListParams{
		Key:    historyKey(event.SessionID),
		Value:  payload,
		MaxLen: s.historyLimit,
		TTL:    s.ttl,
	}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ReadLatest returns the session's latest snapshot, or nil when absent.
func (s *ProgressSnapshotStore) ReadLatest(ctx context.Context, sessionID string) (*model.ProgressEvent, error) {
	payload, err := s.cache.Get(ctx, snapshotKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if payload == nil {
		return nil, nil
	}

	var event model.ProgressEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// A corrupt snapshot is treated as absent; it will be overwritten by
		// the next progress write.
		return nil, nil
	}
	return &event, nil
}

// History returns up to limit recent events for the session, newest first.
func (s *ProgressSnapshotStore) History(ctx context.Context, sessionID string, limit int64) ([]*model.ProgressEvent, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	raw, err := s.cache.ListRange(ctx, historyKey(sessionID), limit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	events := make([]*model.ProgressEvent, 0, len(raw))
	for _, payload := range raw {
		var event model.ProgressEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue // skip corrupt entries
		}
		events = append(events, &event)
	}
	return events, nil
}

// Invalidate removes the session's snapshot and history.
func (s *ProgressSnapshotStore) Invalidate(ctx context.Context, sessionID string) error {
	if _, err := s.cache.Delete(ctx, snapshotKey(sessionID)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if _, err := s.cache.Delete(ctx, historyKey(sessionID)); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func snapshotKey(sessionID string) string {
	return snapshotKeyPrefix + sessionID
}

func historyKey(sessionID string) string {
	return historyKeyPrefix + sessionID
}
