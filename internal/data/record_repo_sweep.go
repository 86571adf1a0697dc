package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/comicden/recotrack/internal/errors"

	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/data/pgxutil"
)

// Advisory lock namespace for sweep operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2100 is reserved for recotrack sweep operations.
const (
	advisoryLockSweepMajor        = 2100
	advisoryLockSweepMarkOrphaned = 1 // minor key for MarkOrphaned
)

// MarkOrphaned transitions processing records with no activity for
// params.IdleFor to the error state. Processes up to params.BatchSize records
// per call to prevent long locks and I/O spikes. Uses advisory locks so
// concurrent sweeper instances don't conflict.
// Returns the number of records transitioned.
func (r *RecordRepo) MarkOrphaned(ctx context.Context, params core.MarkOrphanedParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.IdleFor <= 0 {
		return 0, errors.New("idle duration must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockSweepMajor, advisoryLockSweepMarkOrphaned).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now().UTC()
			cutoffTime := currentTime.Add(-params.IdleFor)

			res, err := tx.ExecContext(ctx, `
				UPDATE recognition_jobs
				SET state = 'error',
					error_message = $1,
					status_message = $1,
					finished_at = $2,
					last_updated = $2
				WHERE session_id IN (
					SELECT session_id FROM recognition_jobs
					WHERE state = 'processing'
					  AND last_updated < $3
					ORDER BY last_updated
					LIMIT $4
				)
			`, params.ErrorMessage, currentTime, cutoffTime, params.BatchSize)
			if err != nil {
				return fmt.Errorf("mark orphaned records: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return rowsAffected, nil
}
