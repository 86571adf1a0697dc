package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/comicden/recotrack/config"
	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/domain/model"
	apperrors "github.com/comicden/recotrack/internal/errors"
)

// StatusServiceOptions groups dependencies for StatusService.
type StatusServiceOptions struct {
	Registry  *SessionRegistry      // Required: used for the hasChannel flag
	Cache     *ProgressCache        // Required: memory tier
	Snapshots core.SnapshotStore    // Optional: shared-cache tier
	Records   core.RecordRepository // Optional: persistent tier
	Config    config.ProgressConfig
	Logger    *slog.Logger     // Optional: structured logger
	Now       func() time.Time // Optional: clock override for tests
}

// StatusService serves point-in-time status reads via an ordered three-tier
// fallback: in-process cache, shared cache (within the staleness window),
// persistent record. Each view is tagged with the tier that served it so
// callers can reason about freshness.
//
// The read path never mutates stored state. When a persistent record is still
// processing, a fresh shared-cache snapshot is merged into the returned view
// only; orphaned records are handled by the sweeper, not by reads.
type StatusService struct {
	registry  *SessionRegistry
	cache     *ProgressCache
	snapshots core.SnapshotStore
	records   core.RecordRepository
	config    config.ProgressConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewStatusService constructs a new StatusService.
func NewStatusService(opts StatusServiceOptions) (*StatusService, error) {
	if opts.Registry == nil {
		return nil, errors.New("SessionRegistry is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("ProgressCache is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "status_service")
	}

	return &StatusService{
		registry:  opts.Registry,
		cache:     opts.Cache,
		snapshots: opts.Snapshots,
		records:   opts.Records,
		config:    opts.Config,
		logger:    logger,
		now:       now,
	}, nil
}

// GetStatus resolves the session's current status. It never fails for an
// unknown session; it returns a not_found view instead.
func (s *StatusService) GetStatus(ctx context.Context, sessionID string) model.StatusView {
	hasChannel := s.registry.Has(sessionID)

	if event := s.cache.Get(sessionID); event != nil {
		view := viewFromEvent(event, model.SourceMemory)
		view.HasChannel = hasChannel
		return view
	}

	if snap := s.freshSnapshot(ctx, sessionID); snap != nil {
		view := viewFromEvent(snap, model.SourceSharedCache)
		view.HasChannel = hasChannel
		return view
	}

	if s.records != nil {
		rec, err := s.records.GetBySessionID(ctx, sessionID)
		switch {
		case err == nil:
			view := s.viewFromRecord(ctx, rec)
			view.HasChannel = hasChannel
			return view
		case !apperrors.IsNotFound(err):
			if s.logger != nil {
				s.logger.WarnContext(ctx, "record read failed during status resolution",
					"session_id", sessionID, "error", err)
			}
		}
	}

	view := model.NotFoundView(sessionID)
	view.HasChannel = hasChannel
	return view
}

// freshSnapshot returns the shared-cache snapshot only when its age is within
// the staleness window; an older entry is treated as absent.
func (s *StatusService) freshSnapshot(ctx context.Context, sessionID string) *model.ProgressEvent {
	if s.snapshots == nil {
		return nil
	}

	snap, err := s.snapshots.ReadLatest(ctx, sessionID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "snapshot read failed during status resolution",
				"session_id", sessionID, "error", err)
		}
		return nil
	}
	if snap == nil {
		return nil
	}
	if s.now().Sub(snap.Timestamp) > s.config.StalenessWindow {
		return nil
	}
	return snap
}

// viewFromRecord builds a persistent-tier view, reconciling a fresh
// shared-cache snapshot into it when the record is still processing. The
// merge follows monotonic-update rules and affects the returned view only.
func (s *StatusService) viewFromRecord(ctx context.Context, rec *model.JobRecord) model.StatusView {
	percent := rec.Percentage
	view := model.StatusView{
		SessionID: rec.SessionID,
		Type:      eventTypeForState(rec.State),
		Stage:     rec.CurrentStage,
		Progress:  &percent,
		Message:   rec.StatusMessage,
		Timestamp: rec.LastUpdated,
		Source:    model.SourcePersistent,
	}
	if rec.State == model.JobStateError && rec.ErrorMessage != nil {
		view.Error = *rec.ErrorMessage
	}
	if counters := rec.Counters(); !counters.IsZero() {
		c := counters
		view.Counters = &c
	}

	if rec.State != model.JobStateProcessing {
		return view
	}

	snap := s.freshSnapshot(ctx, rec.SessionID)
	if snap == nil {
		return view
	}

	merged := model.MonotonicPercent(percent, snap.Percent(percent))
	view.Progress = &merged
	if snap.Stage != "" {
		view.Stage = snap.Stage
	}
	if snap.Message != "" {
		view.Message = snap.Message
	}
	if snap.Counters != nil {
		base := rec.Counters().Merge(*snap.Counters)
		view.Counters = &base
	}
	if snap.Timestamp.After(view.Timestamp) {
		view.Timestamp = snap.Timestamp
	}
	return view
}

func viewFromEvent(event *model.ProgressEvent, source model.StatusSource) model.StatusView {
	return model.StatusView{
		SessionID: event.SessionID,
		Type:      event.Type,
		Stage:     event.Stage,
		Progress:  event.Progress,
		Message:   event.Message,
		Timestamp: event.Timestamp,
		Result:    event.Result,
		Error:     event.Error,
		Counters:  event.Counters,
		Source:    source,
	}
}

func eventTypeForState(state model.JobState) model.EventType {
	switch state {
	case model.JobStateCompleted:
		return model.EventTypeCompleted
	case model.JobStateError:
		return model.EventTypeError
	default:
		return model.EventTypeProgress
	}
}
