package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/domain/model"
	apperrors "github.com/comicden/recotrack/internal/errors"
)

// fakeChannel records sent events and close calls for assertions.
type fakeChannel struct {
	mu      sync.Mutex
	events  []model.ProgressEvent
	closed  bool
	sendErr error
}

func (c *fakeChannel) Send(event model.ProgressEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChannel) sent() []model.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ProgressEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// fakeSnapshotStore is an in-memory SnapshotStore.
type fakeSnapshotStore struct {
	mu       sync.Mutex
	latest   map[string]model.ProgressEvent
	history  map[string][]model.ProgressEvent
	writeErr error
	readErr  error
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{
		latest:  make(map[string]model.ProgressEvent),
		history: make(map[string][]model.ProgressEvent),
	}
}

func (s *fakeSnapshotStore) WriteLatest(_ context.Context, event *model.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.latest[event.SessionID] = *event
	s.history[event.SessionID] = append([]model.ProgressEvent{*event}, s.history[event.SessionID]...)
	return nil
}

func (s *fakeSnapshotStore) ReadLatest(_ context.Context, sessionID string) (*model.ProgressEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	event, ok := s.latest[sessionID]
	if !ok {
		return nil, nil
	}
	return &event, nil
}

func (s *fakeSnapshotStore) History(_ context.Context, sessionID string, limit int64) ([]*model.ProgressEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.history[sessionID]
	if int64(len(events)) > limit {
		events = events[:limit]
	}
	out := make([]*model.ProgressEvent, len(events))
	for i := range events {
		e := events[i]
		out[i] = &e
	}
	return out, nil
}

func (s *fakeSnapshotStore) Invalidate(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, sessionID)
	delete(s.history, sessionID)
	return nil
}

func (s *fakeSnapshotStore) put(event model.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[event.SessionID] = event
}

// fakeRecordRepo is an in-memory RecordRepository.
type fakeRecordRepo struct {
	mu      sync.Mutex
	records map[string]model.JobRecord
	now     func() time.Time
	failAll bool
}

var _ core.RecordRepository = (*fakeRecordRepo)(nil)

func newFakeRecordRepo(now func() time.Time) *fakeRecordRepo {
	if now == nil {
		now = time.Now
	}
	return &fakeRecordRepo{
		records: make(map[string]model.JobRecord),
		now:     now,
	}
}

var errFakeRepoDown = errors.New("record store unavailable")

func (r *fakeRecordRepo) Create(_ context.Context, rec *model.JobRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return false, errFakeRepoDown
	}
	if _, exists := r.records[rec.SessionID]; exists {
		return false, nil
	}
	stored := *rec
	if stored.State == "" {
		stored.State = model.JobStateProcessing
	}
	if stored.StartedAt.IsZero() {
		stored.StartedAt = r.now()
	}
	stored.LastUpdated = r.now()
	r.records[rec.SessionID] = stored
	return true, nil
}

func (r *fakeRecordRepo) GetBySessionID(_ context.Context, sessionID string) (*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errFakeRepoDown
	}
	rec, ok := r.records[sessionID]
	if !ok {
		return nil, apperrors.NotFoundf("session %s not found", sessionID)
	}
	return &rec, nil
}

func (r *fakeRecordRepo) UpdateProgress(_ context.Context, params core.UpdateRecordProgressParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return false, errFakeRepoDown
	}
	rec, ok := r.records[params.SessionID]
	if !ok || rec.State != model.JobStateProcessing {
		return false, nil
	}
	rec.Percentage = model.MonotonicPercent(rec.Percentage, model.ClampPercent(params.Percentage))
	rec.CurrentStage = params.Stage
	rec.StatusMessage = params.Message
	merged := rec.Counters().Merge(params.Counters)
	rec.TotalItems = merged.Total
	rec.ProcessedItems = merged.Processed
	rec.SuccessfulItems = merged.Successful
	rec.FailedItems = merged.Failed
	if params.ProcessType != "" {
		rec.ProcessType = params.ProcessType
	}
	rec.LastUpdated = r.now()
	r.records[params.SessionID] = rec
	return true, nil
}

func (r *fakeRecordRepo) Finalize(_ context.Context, params core.FinalizeRecordParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return false, errFakeRepoDown
	}
	rec, ok := r.records[params.SessionID]
	if !ok {
		return false, apperrors.NotFoundf("session %s not found", params.SessionID)
	}
	now := r.now()
	if rec.State != model.JobStateProcessing {
		rec.StatusMessage = params.Message
		rec.LastUpdated = now
		r.records[params.SessionID] = rec
		return false, nil
	}
	rec.State = params.State
	if params.State == model.JobStateCompleted {
		rec.Percentage = 100
	}
	rec.StatusMessage = params.Message
	rec.ErrorMessage = params.ErrorMessage
	merged := rec.Counters().Merge(params.Counters)
	rec.TotalItems = merged.Total
	rec.ProcessedItems = merged.Processed
	rec.SuccessfulItems = merged.Successful
	rec.FailedItems = merged.Failed
	rec.FinishedAt = &now
	rec.LastUpdated = now
	r.records[params.SessionID] = rec
	return true, nil
}

func (r *fakeRecordRepo) List(_ context.Context, opts model.RecordListOptions) ([]*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errFakeRepoDown
	}
	var out []*model.JobRecord
	for _, rec := range r.records {
		if opts.ActiveOnly && rec.State != model.JobStateProcessing {
			continue
		}
		if !opts.IncludeDismissed && rec.Dismissed {
			continue
		}
		if opts.OwnerID != "" && rec.OwnerID != opts.OwnerID {
			continue
		}
		copied := rec
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeRecordRepo) SetDismissed(_ context.Context, sessionID string, dismissed bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sessionID]
	if !ok {
		return false, nil
	}
	rec.Dismissed = dismissed
	r.records[sessionID] = rec
	return true, nil
}

func (r *fakeRecordRepo) Delete(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[sessionID]
	delete(r.records, sessionID)
	return ok, nil
}

func (r *fakeRecordRepo) MarkOrphaned(_ context.Context, params core.MarkOrphanedParams) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return 0, errFakeRepoDown
	}
	cutoff := r.now().Add(-params.IdleFor)
	var marked int64
	for id, rec := range r.records {
		if marked >= int64(params.BatchSize) {
			break
		}
		if rec.State != model.JobStateProcessing || !rec.LastUpdated.Before(cutoff) {
			continue
		}
		now := r.now()
		rec.State = model.JobStateError
		msg := params.ErrorMessage
		rec.ErrorMessage = &msg
		rec.StatusMessage = msg
		rec.FinishedAt = &now
		rec.LastUpdated = now
		r.records[id] = rec
		marked++
	}
	return marked, nil
}

func (r *fakeRecordRepo) Health(context.Context) error { return nil }

func (r *fakeRecordRepo) get(sessionID string) (model.JobRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sessionID]
	return rec, ok
}

func (r *fakeRecordRepo) setLastUpdated(sessionID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sessionID]
	if !ok {
		return
	}
	rec.LastUpdated = at
	r.records[sessionID] = rec
}

func (r *fakeRecordRepo) setFailAll(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAll = fail
}
