package data_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/data"
	"github.com/comicden/recotrack/internal/domain/model"
	apperrors "github.com/comicden/recotrack/internal/errors"
	"github.com/comicden/recotrack/internal/testutil"
)

func newTestRecordRepo(db *sql.DB) (*data.RecordRepo, *data.FixedTimeProvider) {
	tp := data.NewFixedTimeProvider(testutil.TestTime())
	repo := data.NewRecordRepo(db, data.RecordRepoConfig{TimeProvider: tp})
	return repo, tp
}

func newSessionID() string {
	return "sess-" + uuid.NewString()
}

func createProcessing(t *testing.T, repo *data.RecordRepo, sessionID string) {
	t.Helper()
	created, err := repo.Create(context.Background(), &model.JobRecord{
		SessionID:     sessionID,
		CurrentStage:  "preparing",
		StatusMessage: "starting recognition",
		OwnerID:       "series-1",
		ProcessType:   "recognition",
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestRecordRepoCreateIdempotent(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)
		ctx := context.Background()
		sessionID := newSessionID()

		createProcessing(t, repo, sessionID)

		// Advance the record, then re-create: the in-flight session must not reset.
		_, err := repo.UpdateProgress(ctx, core.UpdateRecordProgressParams{
			SessionID: sessionID, Percentage: 40, Stage: "scan", Message: "scanning",
		})
		require.NoError(t, err)

		created, err := repo.Create(ctx, &model.JobRecord{SessionID: sessionID})
		require.NoError(t, err)
		assert.False(t, created)

		rec, err := repo.GetBySessionID(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, 40, rec.Percentage)
		assert.Equal(t, "scan", rec.CurrentStage)
		assert.Equal(t, model.JobStateProcessing, rec.State)
	})
}

func TestRecordRepoCreateValidatesSessionID(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)

		_, err := repo.Create(context.Background(), &model.JobRecord{SessionID: "  "})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestRecordRepoGetBySessionIDNotFound(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)

		_, err := repo.GetBySessionID(context.Background(), newSessionID())
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestRecordRepoUpdateProgressMonotonic(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)
		ctx := context.Background()
		sessionID := newSessionID()
		createProcessing(t, repo, sessionID)

		updated, err := repo.UpdateProgress(ctx, core.UpdateRecordProgressParams{
			SessionID: sessionID, Percentage: 50, Stage: "scan", Message: "halfway",
		})
		require.NoError(t, err)
		assert.True(t, updated)

		// A lower percent still lands stage/message but the percent holds.
		updated, err = repo.UpdateProgress(ctx, core.UpdateRecordProgressParams{
			SessionID: sessionID, Percentage: 20, Stage: "scan", Message: "late report",
		})
		require.NoError(t, err)
		assert.True(t, updated)

		rec, err := repo.GetBySessionID(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, 50, rec.Percentage)
		assert.Equal(t, "late report", rec.StatusMessage)
	})
}

func TestRecordRepoUpdateProgressSkipsNoChange(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)
		ctx := context.Background()
		sessionID := newSessionID()
		createProcessing(t, repo, sessionID)

		params := core.UpdateRecordProgressParams{
			SessionID: sessionID, Percentage: 30, Stage: "scan", Message: "same",
			Counters: model.Counters{Total: 10, Processed: 3},
		}

		updated, err := repo.UpdateProgress(ctx, params)
		require.NoError(t, err)
		assert.True(t, updated)

		updated, err = repo.UpdateProgress(ctx, params)
		require.NoError(t, err)
		assert.False(t, updated, "identical update must not touch the row")
	})
}

func TestRecordRepoUpdateProgressCountersAdvanceOnly(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)
		ctx := context.Background()
		sessionID := newSessionID()
		createProcessing(t, repo, sessionID)

		_, err := repo.UpdateProgress(ctx, core.UpdateRecordProgressParams{
			SessionID: sessionID, Percentage: 40, Stage: "scan", Message: "m",
			Counters: model.Counters{Total: 100, Processed: 40, Successful: 35, Failed: 5},
		})
		require.NoError(t, err)

		_, err = repo.UpdateProgress(ctx, core.UpdateRecordProgressParams{
			SessionID: sessionID, Percentage: 45, Stage: "scan", Message: "m2",
			Counters: model.Counters{Total: 100, Processed: 30, Successful: 20, Failed: 2},
		})
		require.NoError(t, err)

		rec, err := repo.GetBySessionID(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, model.Counters{Total: 100, Processed: 40, Successful: 35, Failed: 5}, rec.Counters())
	})
}

func TestRecordRepoUpdateProgressIgnoresTerminal(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)
		ctx := context.Background()
		sessionID := newSessionID()
		createProcessing(t, repo, sessionID)

		transitioned, err := repo.Finalize(ctx, core.FinalizeRecordParams{
			SessionID: sessionID, State: model.JobStateCompleted, Message: "done",
		})
		require.NoError(t, err)
		require.True(t, transitioned)

		updated, err := repo.UpdateProgress(ctx, core.UpdateRecordProgressParams{
			SessionID: sessionID, Percentage: 10, Stage: "scan", Message: "late",
		})
		require.NoError(t, err)
		assert.False(t, updated, "terminal records must not accept progress")
	})
}

func TestRecordRepoFinalizeCompleted(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, tp := newTestRecordRepo(db)
		ctx := context.Background()
		sessionID := newSessionID()
		createProcessing(t, repo, sessionID)

		transitioned, err := repo.Finalize(ctx, core.FinalizeRecordParams{
			SessionID: sessionID,
			State:     model.JobStateCompleted,
			Message:   "recognition finished",
			Counters:  model.Counters{Total: 12, Processed: 12, Successful: 11, Failed: 1},
		})
		require.NoError(t, err)
		assert.True(t, transitioned)

		rec, err := repo.GetBySessionID(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStateCompleted, rec.State)
		assert.Equal(t, 100, rec.Percentage)
		require.NotNil(t, rec.FinishedAt)
		assert.True(t, rec.FinishedAt.Equal(tp.Now().UTC()))
		assert.Equal(t, 11, rec.SuccessfulItems)
	})
}

func TestRecordRepoFinalizeIdempotent(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, tp := newTestRecordRepo(db)
		ctx := context.Background()
		sessionID := newSessionID()
		createProcessing(t, repo, sessionID)

		transitioned, err := repo.Finalize(ctx, core.FinalizeRecordParams{
			SessionID: sessionID, State: model.JobStateCompleted, Message: "done",
		})
		require.NoError(t, err)
		require.True(t, transitioned)

		firstFinished := tp.Now().UTC()
		tp.AddTime(5 * time.Minute)

		// A second finalize, even with a different terminal state, must only
		// refresh the message; state and finished_at stay put.
		transitioned, err = repo.Finalize(ctx, core.FinalizeRecordParams{
			SessionID: sessionID, State: model.JobStateError, Message: "retried",
			ErrorMessage: testutil.StringPtr("boom"),
		})
		require.NoError(t, err)
		assert.False(t, transitioned)

		rec, err := repo.GetBySessionID(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStateCompleted, rec.State)
		assert.Equal(t, "retried", rec.StatusMessage)
		require.NotNil(t, rec.FinishedAt)
		assert.True(t, rec.FinishedAt.Equal(firstFinished))
		assert.Nil(t, rec.ErrorMessage)
	})
}

func TestRecordRepoFinalizeUnknownSession(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)

		_, err := repo.Finalize(context.Background(), core.FinalizeRecordParams{
			SessionID: newSessionID(), State: model.JobStateError, Message: "m",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestRecordRepoFinalizeRequiresTerminalState(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)

		_, err := repo.Finalize(context.Background(), core.FinalizeRecordParams{
			SessionID: newSessionID(), State: model.JobStateProcessing, Message: "m",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestRecordRepoListFilters(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)
		ctx := context.Background()

		active := newSessionID()
		done := newSessionID()
		dismissed := newSessionID()
		createProcessing(t, repo, active)
		createProcessing(t, repo, done)
		createProcessing(t, repo, dismissed)

		_, err := repo.Finalize(ctx, core.FinalizeRecordParams{
			SessionID: done, State: model.JobStateCompleted, Message: "done",
		})
		require.NoError(t, err)

		ok, err := repo.SetDismissed(ctx, dismissed, true)
		require.NoError(t, err)
		require.True(t, ok)

		records, err := repo.List(ctx, model.RecordListOptions{})
		require.NoError(t, err)
		assert.Len(t, records, 2, "dismissed records hidden by default")

		records, err = repo.List(ctx, model.RecordListOptions{ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, active, records[0].SessionID)

		records, err = repo.List(ctx, model.RecordListOptions{IncludeDismissed: true})
		require.NoError(t, err)
		assert.Len(t, records, 3)

		records, err = repo.List(ctx, model.RecordListOptions{OwnerID: "series-1"})
		require.NoError(t, err)
		assert.Len(t, records, 2)

		records, err = repo.List(ctx, model.RecordListOptions{OwnerID: "other"})
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestRecordRepoDelete(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)
		ctx := context.Background()
		sessionID := newSessionID()
		createProcessing(t, repo, sessionID)

		deleted, err := repo.Delete(ctx, sessionID)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, sessionID)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestRecordRepoMarkOrphaned(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, tp := newTestRecordRepo(db)
		ctx := context.Background()

		stale := newSessionID()
		fresh := newSessionID()
		createProcessing(t, repo, stale)

		tp.AddTime(time.Hour)
		createProcessing(t, repo, fresh)

		marked, err := repo.MarkOrphaned(ctx, core.MarkOrphanedParams{
			IdleFor:      30 * time.Minute,
			BatchSize:    100,
			ErrorMessage: "orphaned: no progress updates received",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), marked)

		rec, err := repo.GetBySessionID(ctx, stale)
		require.NoError(t, err)
		assert.Equal(t, model.JobStateError, rec.State)
		require.NotNil(t, rec.ErrorMessage)
		assert.Equal(t, "orphaned: no progress updates received", *rec.ErrorMessage)
		require.NotNil(t, rec.FinishedAt)

		rec, err = repo.GetBySessionID(ctx, fresh)
		require.NoError(t, err)
		assert.Equal(t, model.JobStateProcessing, rec.State)
	})
}

func TestRecordRepoMarkOrphanedValidation(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo, _ := newTestRecordRepo(db)
		ctx := context.Background()

		_, err := repo.MarkOrphaned(ctx, core.MarkOrphanedParams{IdleFor: time.Minute, BatchSize: 0})
		require.Error(t, err)

		_, err = repo.MarkOrphaned(ctx, core.MarkOrphanedParams{IdleFor: 0, BatchSize: 10})
		require.Error(t, err)
	})
}
