package data

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"strings"

	apperrors "github.com/comicden/recotrack/internal/errors"

	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/domain/model"
)

// RecordRepoConfig holds configuration options for the record repository.
type RecordRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// RecordRepo provides database operations for persistent job records.
type RecordRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewRecordRepo creates a new RecordRepo instance with the given database connection and configuration.
func NewRecordRepo(db *sql.DB, cfg RecordRepoConfig) *RecordRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &RecordRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const recordColumns = `
  session_id,
  state,
  percentage,
  current_stage,
  status_message,
  total_items,
  processed_items,
  successful_items,
  failed_items,
  process_type,
  started_at,
  finished_at,
  error_message,
  owner_id,
  dismissed,
  last_updated
`

// Create inserts a new record in the processing state. Creating a record for
// a session id that already exists is a no-op (ON CONFLICT DO NOTHING), so
// repeated initialization never resets an in-flight session.
func (r *RecordRepo) Create(ctx context.Context, rec *model.JobRecord) (bool, error) {
	if err := model.ValidateSessionID(rec.SessionID); err != nil {
		return false, apperrors.ValidationField("session_id", err.Error())
	}

	now := r.timeProvider.Now().UTC()
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	state := rec.State
	if state == "" {
		state = model.JobStateProcessing
	}

	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO recognition_jobs (
			session_id, state, percentage, current_stage, status_message,
			total_items, processed_items, successful_items, failed_items,
			process_type, started_at, owner_id, dismissed, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, $13)
		ON CONFLICT (session_id) DO NOTHING
	`,
		rec.SessionID, state, model.ClampPercent(rec.Percentage), rec.CurrentStage, rec.StatusMessage,
		rec.TotalItems, rec.ProcessedItems, rec.SuccessfulItems, rec.FailedItems,
		rec.ProcessType, startedAt, rec.OwnerID, now,
	)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return inserted > 0, nil
}

// GetBySessionID retrieves a record by its session id.
func (r *RecordRepo) GetBySessionID(ctx context.Context, sessionID string) (*model.JobRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM recognition_jobs WHERE session_id = $1`,
		sessionID,
	)

	rec, err := scanRecord(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return rec, nil
}

// UpdateProgress opportunistically updates a still-processing record. The
// percent and item counters only ever advance (GREATEST) and the WHERE clause
// skips the write entirely when no field would change, to avoid redundant row
// versions under a chatty producer.
func (r *RecordRepo) UpdateProgress(ctx context.Context, params core.UpdateRecordProgressParams) (bool, error) {
	now := r.timeProvider.Now().UTC()
	percent := model.ClampPercent(params.Percentage)
	c := params.Counters

	res, err := r.DB.ExecContext(ctx, `
		UPDATE recognition_jobs
		SET percentage = GREATEST(percentage, $2),
			current_stage = $3,
			status_message = $4,
			total_items = GREATEST(total_items, $5),
			processed_items = GREATEST(processed_items, $6),
			successful_items = GREATEST(successful_items, $7),
			failed_items = GREATEST(failed_items, $8),
			process_type = CASE WHEN $9 <> '' THEN $9 ELSE process_type END,
			last_updated = $10
		WHERE session_id = $1
		  AND state = 'processing'
		  AND (percentage < $2
			OR current_stage IS DISTINCT FROM $3
			OR status_message IS DISTINCT FROM $4
			OR total_items < $5
			OR processed_items < $6
			OR successful_items < $7
			OR failed_items < $8
			OR ($9 <> '' AND process_type IS DISTINCT FROM $9))
	`,
		params.SessionID, percent, params.Stage, params.Message,
		c.Total, c.Processed, c.Successful, c.Failed,
		params.ProcessType, now,
	)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return updated > 0, nil
}

// Finalize transitions a processing record to a terminal state. The terminal
// transition only matches rows still in the processing state, so state and
// finished_at are written exactly once; a repeated finalize falls through to
// a message/timestamp refresh on the already-terminal row.
func (r *RecordRepo) Finalize(ctx context.Context, params core.FinalizeRecordParams) (bool, error) {
	if !params.State.Terminal() {
		return false, apperrors.Validationf("finalize requires a terminal state, got %q", params.State)
	}

	now := r.timeProvider.Now().UTC()
	c := params.Counters

	res, err := r.DB.ExecContext(ctx, `
		UPDATE recognition_jobs
		SET state = $2,
			percentage = CASE WHEN $2 = 'completed' THEN 100 ELSE percentage END,
			status_message = $3,
			error_message = $4,
			total_items = GREATEST(total_items, $5),
			processed_items = GREATEST(processed_items, $6),
			successful_items = GREATEST(successful_items, $7),
			failed_items = GREATEST(failed_items, $8),
			finished_at = $9,
			last_updated = $9
		WHERE session_id = $1 AND state = 'processing'
	`,
		params.SessionID, params.State, params.Message, params.ErrorMessage,
		c.Total, c.Processed, c.Successful, c.Failed, now,
	)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}

	transitioned, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	if transitioned > 0 {
		return true, nil
	}

	// Already terminal: refresh message/last_updated only, never state or finished_at.
	res, err = r.DB.ExecContext(ctx, `
		UPDATE recognition_jobs
		SET status_message = $2, last_updated = $3
		WHERE session_id = $1 AND state IN ('completed', 'error')
	`, params.SessionID, params.Message, now)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}

	refreshed, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	if refreshed == 0 {
		return false, apperrors.NotFoundf("session %s not found", params.SessionID)
	}
	return false, nil
}

// List returns records matching the given options, most recently updated first.
func (r *RecordRepo) List(ctx context.Context, opts model.RecordListOptions) ([]*model.JobRecord, error) {
	opts.Normalize()

	var sb strings.Builder
	sb.WriteString(`SELECT ` + recordColumns + ` FROM recognition_jobs WHERE 1=1`)

	var args []any
	if opts.ActiveOnly {
		sb.WriteString(` AND state = 'processing'`)
	}
	if !opts.IncludeDismissed {
		sb.WriteString(` AND dismissed = FALSE`)
	}
	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		sb.WriteString(` AND owner_id = $` + strconv.Itoa(len(args)))
	}

	args = append(args, opts.Limit)
	sb.WriteString(` ORDER BY last_updated DESC LIMIT $` + strconv.Itoa(len(args)))
	args = append(args, opts.Offset)
	sb.WriteString(` OFFSET $` + strconv.Itoa(len(args)))

	rows, err := r.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && r.logger != nil {
			r.logger.WarnContext(ctx, "failed to close record rows", "err", cerr)
		}
	}()

	var records []*model.JobRecord
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		records = append(records, rec)
	}
	if iterErr := rows.Err(); iterErr != nil {
		return nil, apperrors.MapDBError(iterErr)
	}
	return records, nil
}

// SetDismissed flips the soft-delete flag on a record.
func (r *RecordRepo) SetDismissed(ctx context.Context, sessionID string, dismissed bool) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE recognition_jobs
		SET dismissed = $2, last_updated = $3
		WHERE session_id = $1
	`, sessionID, dismissed, r.timeProvider.Now().UTC())
	if err != nil {
		return false, apperrors.MapDBError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return affected > 0, nil
}

// Delete hard-deletes a record.
func (r *RecordRepo) Delete(ctx context.Context, sessionID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM recognition_jobs WHERE session_id = $1`, sessionID)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return affected > 0, nil
}

// Health checks the health of the database connection.
func (r *RecordRepo) Health(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.JobRecord, error) {
	var rec model.JobRecord
	err := row.Scan(
		&rec.SessionID,
		&rec.State,
		&rec.Percentage,
		&rec.CurrentStage,
		&rec.StatusMessage,
		&rec.TotalItems,
		&rec.ProcessedItems,
		&rec.SuccessfulItems,
		&rec.FailedItems,
		&rec.ProcessType,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.ErrorMessage,
		&rec.OwnerID,
		&rec.Dismissed,
		&rec.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
