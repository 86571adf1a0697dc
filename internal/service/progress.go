package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/comicden/recotrack/config"
	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/domain/model"
	apperrors "github.com/comicden/recotrack/internal/errors"
	"github.com/comicden/recotrack/internal/observability/metrics"
	"github.com/comicden/recotrack/internal/observability/statsd"
)

// InitialStage is the stage a session carries between initialization and the
// first producer progress report.
const InitialStage = "preparing"

// ConnectedStage is the stage of the synthetic event pushed when a stream opens.
const ConnectedStage = "connected"

// ProgressServiceOptions groups dependencies for ProgressService.
type ProgressServiceOptions struct {
	Registry  *SessionRegistry      // Required: live channel registry
	Cache     *ProgressCache        // Required: in-process progress cache
	Snapshots core.SnapshotStore    // Optional: shared snapshot tier
	Records   core.RecordRepository // Optional: persistent record tier
	Config    config.ProgressConfig
	Logger    *slog.Logger     // Optional: structured logger
	Metrics   statsd.Sink      // Optional: metrics sink (StatsD-compatible)
	Now       func() time.Time // Optional: clock override for tests
}

// ProgressService is the event ingestor: it receives initialize / progress /
// complete / fail calls from the recognition producer, updates the storage
// tiers and fans out to the live delivery channel when one is registered.
//
// Failure semantics: the in-process cache write is the only mandatory step.
// Shared-cache and persistent-record failures are logged and swallowed so
// they can never block live delivery; a channel transport failure deregisters
// the channel (treated as a disconnect) but never fails the ingestion call.
type ProgressService struct {
	registry  *SessionRegistry
	cache     *ProgressCache
	snapshots core.SnapshotStore
	records   core.RecordRepository
	config    config.ProgressConfig
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time
}

// NewProgressService constructs a new ProgressService.
func NewProgressService(opts ProgressServiceOptions) (*ProgressService, error) {
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
		logger = opts.Logger.With("component", "progress_service")
	}

	return &ProgressService{
		registry:  opts.Registry,
		cache:     opts.Cache,
		snapshots: opts.Snapshots,
		records:   opts.Records,
		config:    opts.Config,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// Initialize creates the session: a persistent record in the processing state
// and an in-process cache entry at stage "preparing", percent 0. Repeated
// initialization of an existing session is a no-op on the record side and
// never resets an in-flight session.
func (s *ProgressService) Initialize(ctx context.Context, sessionID string, meta model.JobMeta) error {
	if err := model.ValidateSessionID(sessionID); err != nil {
		s.emitIngestion("init", err)
		return apperrors.ValidationField("session_id", err.Error())
	}

	now := s.now()
	percent := 0
	event := model.ProgressEvent{
		Type:        model.EventTypeProgress,
		SessionID:   sessionID,
		Stage:       InitialStage,
		Progress:    &percent,
		ProcessType: meta.ProcessType,
		Timestamp:   now,
	}

	s.cache.Put(event, now)

	if s.records != nil {
		_, err := s.records.Create(ctx, &model.JobRecord{
			SessionID:    sessionID,
			State:        model.JobStateProcessing,
			CurrentStage: InitialStage,
			ProcessType:  meta.ProcessType,
			OwnerID:      meta.OwnerID,
			StartedAt:    now,
		})
		if err != nil {
			s.logStorageFailure(ctx, "create record", sessionID, err)
		}
	}

	s.writeSnapshot(ctx, &event)
	s.emitIngestion("init", nil)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "session initialized",
			"session_id", sessionID,
			"owner_id", meta.OwnerID,
			"process_type", meta.ProcessType,
		)
	}
	return nil
}

// OpenChannel registers ch as the session's live delivery channel and pushes
// the synthetic connected event. It fails with a not-found error when the
// session was never initialized: a stream open must not create a phantom
// session. Registering over a still-open channel replaces it (see
// SessionRegistry).
func (s *ProgressService) OpenChannel(ctx context.Context, sessionID string, ch Channel) error {
	if err := model.ValidateSessionID(sessionID); err != nil {
		return apperrors.ValidationField("session_id", err.Error())
	}
	if !s.sessionKnown(ctx, sessionID) {
		return apperrors.NotFoundf("session %s not found", sessionID)
	}

	s.registry.Register(sessionID, ch)

	percent := 0
	connected := model.ProgressEvent{
		Type:      model.EventTypeProgress,
		SessionID: sessionID,
		Stage:     ConnectedStage,
		Progress:  &percent,
		Timestamp: s.now(),
	}
	if err := ch.Send(connected); err != nil {
		s.dropChannel(sessionID, ch)
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "send connected event")
	}
	return nil
}

// UpdateProgress records a progress report: the percent is clamped to [0,100]
// and only ever advances, stage and message always overwrite, and counters
// merge with advance-only semantics. The event is fanned out to the live
// channel if one is registered.
func (s *ProgressService) UpdateProgress(ctx context.Context, sessionID string, req model.ProgressUpdateRequest) error {
	if err := model.ValidateSessionID(sessionID); err != nil {
		s.emitIngestion("progress", err)
		return apperrors.ValidationField("session_id", err.Error())
	}
	if err := req.Validate(); err != nil {
		s.emitIngestion("progress", err)
		return apperrors.Validation(err.Error())
	}

	now := s.now()
	prev := s.cache.Get(sessionID)

	event := model.ProgressEvent{
		Type:        model.EventTypeProgress,
		SessionID:   sessionID,
		Stage:       req.Stage,
		Progress:    s.effectivePercent(prev, req.Progress),
		Message:     req.Message,
		Counters:    mergeCounters(prev, req.Counters),
		ProcessType: coalesceProcessType(prev, req.ProcessType),
		Timestamp:   now,
	}

	s.cache.Put(event, now)
	s.push(event)
	s.writeSnapshot(ctx, &event)

	if s.records != nil {
		var counters model.Counters
		if event.Counters != nil {
			counters = *event.Counters
		}
		_, err := s.records.UpdateProgress(ctx, core.UpdateRecordProgressParams{
			SessionID:   sessionID,
			Percentage:  event.Percent(0),
			Stage:       event.Stage,
			Message:     event.Message,
			Counters:    counters,
			ProcessType: event.ProcessType,
		})
		if err != nil {
			s.logStorageFailure(ctx, "update record", sessionID, err)
		}
	}

	s.emitIngestion("progress", nil)
	return nil
}

// Complete finalizes the session successfully: the result payload is
// truncated if oversized, a final percent=100 event is fanned out, the
// persistent record transitions to completed and the channel is scheduled to
// close after a short delay so the client receives the final event first.
func (s *ProgressService) Complete(ctx context.Context, sessionID string, result json.RawMessage) error {
	if err := model.ValidateSessionID(sessionID); err != nil {
		s.emitIngestion("complete", err)
		return apperrors.ValidationField("session_id", err.Error())
	}

	now := s.now()
	prev := s.cache.Get(sessionID)
	bounded := TruncateResult(result, s.config.TruncateThresholdBytes, s.config.TruncateKeep)

	percent := 100
	event := model.ProgressEvent{
		Type:        model.EventTypeCompleted,
		SessionID:   sessionID,
		Stage:       string(model.JobStateCompleted),
		Progress:    &percent,
		Message:     "recognition complete",
		Result:      bounded,
		Counters:    mergeCounters(prev, countersFromResult(result)),
		ProcessType: coalesceProcessType(prev, ""),
		Timestamp:   now,
	}

	s.cache.Put(event, now)
	s.push(event)
	s.writeSnapshot(ctx, &event)
	s.finalizeRecord(ctx, core.FinalizeRecordParams{
		SessionID: sessionID,
		State:     model.JobStateCompleted,
		Message:   event.Message,
		Counters:  countersValue(event.Counters),
	})

	s.scheduleClose(sessionID, s.config.CompleteCloseDelay)
	s.emitIngestion("complete", nil)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "session completed", "session_id", sessionID)
	}
	return nil
}

// Fail finalizes the session with an error: an error event is fanned out, the
// persistent record transitions to the error state and the channel close is
// deferred slightly longer than on completion to allow client-side error
// handling.
func (s *ProgressService) Fail(ctx context.Context, sessionID, errorMessage string) error {
	if err := model.ValidateSessionID(sessionID); err != nil {
		s.emitIngestion("fail", err)
		return apperrors.ValidationField("session_id", err.Error())
	}

	now := s.now()
	prev := s.cache.Get(sessionID)

	event := model.ProgressEvent{
		Type:        model.EventTypeError,
		SessionID:   sessionID,
		Stage:       string(model.JobStateError),
		Progress:    s.effectivePercent(prev, nil),
		Message:     errorMessage,
		Error:       errorMessage,
		Counters:    mergeCounters(prev, nil),
		ProcessType: coalesceProcessType(prev, ""),
		Timestamp:   now,
	}

	s.cache.Put(event, now)
	s.push(event)
	s.writeSnapshot(ctx, &event)
	s.finalizeRecord(ctx, core.FinalizeRecordParams{
		SessionID:    sessionID,
		State:        model.JobStateError,
		Message:      errorMessage,
		ErrorMessage: &errorMessage,
		Counters:     countersValue(event.Counters),
	})

	s.scheduleClose(sessionID, s.config.FailCloseDelay)
	s.emitIngestion("fail", nil)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "session failed", "session_id", sessionID, "error", errorMessage)
	}
	return nil
}

// sessionKnown reports whether any tier has seen the session.
func (s *ProgressService) sessionKnown(ctx context.Context, sessionID string) bool {
	if s.cache.Get(sessionID) != nil {
		return true
	}
	if s.snapshots != nil {
		snap, err := s.snapshots.ReadLatest(ctx, sessionID)
		if err != nil {
			s.logStorageFailure(ctx, "read snapshot", sessionID, err)
		} else if snap != nil {
			return true
		}
	}
	if s.records != nil {
		if _, err := s.records.GetBySessionID(ctx, sessionID); err == nil {
			return true
		} else if !apperrors.IsNotFound(err) {
			s.logStorageFailure(ctx, "read record", sessionID, err)
		}
	}
	return false
}

// push delivers the event to the session's live channel, if any. A transport
// failure is a disconnect: the channel is dropped and never retried.
func (s *ProgressService) push(event model.ProgressEvent) {
	ch := s.registry.Get(event.SessionID)
	if ch == nil {
		return
	}
	if err := ch.Send(event); err != nil {
		s.dropChannel(event.SessionID, ch)
		if s.logger != nil {
			s.logger.Debug("channel send failed, deregistering",
				"session_id", event.SessionID, "error", err)
		}
	}
}

func (s *ProgressService) dropChannel(sessionID string, ch Channel) {
	if s.registry.Deregister(sessionID, ch) {
		ch.Close()
	}
}

// scheduleClose deregisters and closes the session's current channel after
// the given delay. If the channel is replaced before the timer fires, the
// conditional deregistration leaves the replacement alone.
func (s *ProgressService) scheduleClose(sessionID string, delay time.Duration) {
	ch := s.registry.Get(sessionID)
	if ch == nil {
		return
	}
	time.AfterFunc(delay, func() {
		s.dropChannel(sessionID, ch)
	})
}

func (s *ProgressService) writeSnapshot(ctx context.Context, event *model.ProgressEvent) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.WriteLatest(ctx, event); err != nil {
		s.logStorageFailure(ctx, "write snapshot", event.SessionID, err)
	}
}

func (s *ProgressService) finalizeRecord(ctx context.Context, params core.FinalizeRecordParams) {
	if s.records == nil {
		return
	}
	if _, err := s.records.Finalize(ctx, params); err != nil {
		s.logStorageFailure(ctx, "finalize record", params.SessionID, err)
	}
}

// logStorageFailure records a swallowed backing-store failure. These never
// propagate to the producer.
func (s *ProgressService) logStorageFailure(ctx context.Context, operation, sessionID string, err error) {
	if s.metrics != nil {
		s.metrics.Count("ingest.storage_failure", 1, map[string]string{"operation": operation})
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "backing store failure (swallowed)",
			"operation", operation,
			"session_id", sessionID,
			"error", err,
		)
	}
}

func (s *ProgressService) emitIngestion(operation string, err error) {
	if s.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitIngestion(s.metrics, metrics.IngestionMetric{
		Operation: operation,
		Result:    result,
		Err:       err,
	})
}

// effectivePercent applies the monotonic-update rule against the previous
// cached event. A nil incoming percent carries the previous value forward.
func (s *ProgressService) effectivePercent(prev *model.ProgressEvent, incoming *int) *int {
	if incoming == nil {
		if prev == nil || prev.Progress == nil {
			return nil
		}
		p := *prev.Progress
		return &p
	}

	p := model.ClampPercent(*incoming)
	if prev != nil && prev.Progress != nil {
		p = model.MonotonicPercent(*prev.Progress, p)
	}
	return &p
}

// mergeCounters merges incoming counters into the previous event's counters
// with advance-only semantics. Returns nil when neither side reported any.
func mergeCounters(prev *model.ProgressEvent, incoming *model.Counters) *model.Counters {
	var base model.Counters
	if prev != nil && prev.Counters != nil {
		base = *prev.Counters
	}
	if incoming != nil {
		base = base.Merge(*incoming)
	}
	if base.IsZero() {
		return nil
	}
	return &base
}

func coalesceProcessType(prev *model.ProgressEvent, incoming string) string {
	if incoming != "" {
		return incoming
	}
	if prev != nil {
		return prev.ProcessType
	}
	return ""
}

func countersValue(c *model.Counters) model.Counters {
	if c == nil {
		return model.Counters{}
	}
	return *c
}

// countersFromResult extracts summary counters from a completion result,
// either from a nested "counters" object or from top-level numeric fields.
func countersFromResult(result json.RawMessage) *model.Counters {
	if len(result) == 0 {
		return nil
	}

	var summary struct {
		Counters   *model.Counters `json:"counters"`
		Total      *int            `json:"total"`
		Processed  *int            `json:"processed"`
		Successful *int            `json:"successful"`
		Failed     *int            `json:"failed"`
	}
	if err := json.Unmarshal(result, &summary); err != nil {
		return nil
	}
	if summary.Counters != nil {
		return summary.Counters
	}

	var c model.Counters
	if summary.Total != nil {
		c.Total = *summary.Total
	}
	if summary.Processed != nil {
		c.Processed = *summary.Processed
	}
	if summary.Successful != nil {
		c.Successful = *summary.Successful
	}
	if summary.Failed != nil {
		c.Failed = *summary.Failed
	}
	if c.IsZero() {
		return nil
	}
	return &c
}
