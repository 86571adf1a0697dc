package httpx

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comicden/recotrack/config"
	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/data"
	"github.com/comicden/recotrack/internal/domain/model"
	apperrors "github.com/comicden/recotrack/internal/errors"
	"github.com/comicden/recotrack/internal/service"
	"github.com/comicden/recotrack/internal/testutil"
)

// memRecordRepo is an in-memory core.RecordRepository for handler tests.
type memRecordRepo struct {
	mu      sync.Mutex
	records map[string]model.JobRecord
}

var _ core.RecordRepository = (*memRecordRepo)(nil)

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{records: make(map[string]model.JobRecord)}
}

func (r *memRecordRepo) Create(_ context.Context, rec *model.JobRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.SessionID]; exists {
		return false, nil
	}
	stored := *rec
	if stored.State == "" {
		stored.State = model.JobStateProcessing
	}
	if stored.StartedAt.IsZero() {
		stored.StartedAt = time.Now()
	}
	stored.LastUpdated = time.Now()
	r.records[rec.SessionID] = stored
	return true, nil
}

func (r *memRecordRepo) GetBySessionID(_ context.Context, sessionID string) (*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sessionID]
	if !ok {
		return nil, apperrors.NotFoundf("session %s not found", sessionID)
	}
	return &rec, nil
}

func (r *memRecordRepo) UpdateProgress(_ context.Context, params core.UpdateRecordProgressParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[params.SessionID]
	if !ok || rec.State != model.JobStateProcessing {
		return false, nil
	}
	rec.Percentage = model.MonotonicPercent(rec.Percentage, model.ClampPercent(params.Percentage))
	rec.CurrentStage = params.Stage
	rec.StatusMessage = params.Message
	rec.LastUpdated = time.Now()
	r.records[params.SessionID] = rec
	return true, nil
}

func (r *memRecordRepo) Finalize(_ context.Context, params core.FinalizeRecordParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[params.SessionID]
	if !ok {
		return false, apperrors.NotFoundf("session %s not found", params.SessionID)
	}
	if rec.State != model.JobStateProcessing {
		return false, nil
	}
	now := time.Now()
	rec.State = params.State
	if params.State == model.JobStateCompleted {
		rec.Percentage = 100
	}
	rec.StatusMessage = params.Message
	rec.ErrorMessage = params.ErrorMessage
	rec.FinishedAt = &now
	rec.LastUpdated = now
	r.records[params.SessionID] = rec
	return true, nil
}

func (r *memRecordRepo) List(_ context.Context, opts model.RecordListOptions) ([]*model.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memRecordRepo) SetDismissed(_ context.Context, sessionID string, dismissed bool) (bool, error) {
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

func (r *memRecordRepo) Delete(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[sessionID]
	delete(r.records, sessionID)
	return ok, nil
}

func (r *memRecordRepo) MarkOrphaned(context.Context, core.MarkOrphanedParams) (int64, error) {
	return 0, nil
}

func (r *memRecordRepo) Health(context.Context) error { return nil }

func (r *memRecordRepo) get(sessionID string) (model.JobRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sessionID]
	return rec, ok
}

// testEnv bundles the wired router and its backing pieces for assertions.
type testEnv struct {
	handler  http.Handler
	registry *service.SessionRegistry
	cache    *service.ProgressCache
	repo     *memRecordRepo
}

func testProgressConfig() config.ProgressConfig {
	return config.ProgressConfig{
		ChannelTimeout:         30 * time.Minute,
		SnapshotTTL:            30 * time.Minute,
		StalenessWindow:        5 * time.Minute,
		HistoryLimit:           100,
		TruncateThresholdBytes: 51200,
		TruncateKeep:           3,
		CompleteCloseDelay:     20 * time.Millisecond,
		FailCloseDelay:         30 * time.Millisecond,
	}
}

// newTestEnv wires the full stack over miniredis and an in-memory record repo.
func newTestEnv(t *testing.T, cfg config.ProgressConfig) *testEnv {
	t.Helper()

	_, client := testutil.SetupMiniRedis(t)
	cacheRepo := data.NewRedisCacheRepo(client)
	snapshots, err := data.NewProgressSnapshotStore(data.ProgressSnapshotStoreOptions{
		Cache:        cacheRepo,
		TTL:          cfg.SnapshotTTL,
		HistoryLimit: cfg.HistoryLimit,
	})
	require.NoError(t, err)

	registry := service.NewSessionRegistry()
	cache := service.NewProgressCache()
	repo := newMemRecordRepo()

	progress, err := service.NewProgressService(service.ProgressServiceOptions{
		Registry:  registry,
		Cache:     cache,
		Snapshots: snapshots,
		Records:   repo,
		Config:    cfg,
	})
	require.NoError(t, err)

	status, err := service.NewStatusService(service.StatusServiceOptions{
		Registry:  registry,
		Cache:     cache,
		Snapshots: snapshots,
		Records:   repo,
		Config:    cfg,
	})
	require.NoError(t, err)

	records, err := service.NewRecordService(service.RecordServiceOptions{Repo: repo})
	require.NoError(t, err)

	handler := NewRouter(RouterServices{
		Progress:   progress,
		Status:     status,
		Records:    records,
		Registry:   registry,
		Config:     cfg,
		Cache:      cacheRepo,
		RecordRepo: repo,
	})

	return &testEnv{
		handler:  handler,
		registry: registry,
		cache:    cache,
		repo:     repo,
	}
}
