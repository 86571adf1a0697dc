package errors

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps database errors to AppError instances.
// It handles common database error patterns including:
// - sql.ErrNoRows / pgx.ErrNoRows → NotFound
// - Unique constraint violations → Conflict
// - Check constraint violations → Validation
// - NOT NULL violations → Validation
// - Context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "database request timed out",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "database request was canceled",
			Cause:   err,
		}
	}

	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "record not found",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

// mapPgError maps PostgreSQL-specific errors to AppError instances.
func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "record already exists",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	case pgerrcode.CheckViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "invalid value for field",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	case pgerrcode.NotNullViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "required field is missing",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "database error",
			Cause:   pgErr,
		}
	}
}
