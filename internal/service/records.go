package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/comicden/recotrack/internal/core"
	"github.com/comicden/recotrack/internal/domain/model"
	apperrors "github.com/comicden/recotrack/internal/errors"
)

// RecordServiceOptions groups dependencies for RecordService.
type RecordServiceOptions struct {
	Repo   core.RecordRepository // Required: record repository
	Logger *slog.Logger          // Optional: structured logger
}

// RecordService provides the listing and lifecycle surface over persistent
// job records: history listing for the UI, soft-delete via the dismissed
// flag, and explicit hard deletion.
type RecordService struct {
	repo   core.RecordRepository
	logger *slog.Logger
}

// NewRecordService constructs a new RecordService.
func NewRecordService(opts RecordServiceOptions) (*RecordService, error) {
	if opts.Repo == nil {
		return nil, errors.New("RecordRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "record_service")
	}

	return &RecordService{
		repo:   opts.Repo,
		logger: logger,
	}, nil
}

// List returns records matching the given options, most recent first.
func (s *RecordService) List(ctx context.Context, opts model.RecordListOptions) ([]*model.JobRecord, error) {
	records, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// Get returns a single record by session id.
func (s *RecordService) Get(ctx context.Context, sessionID string) (*model.JobRecord, error) {
	rec, err := s.repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Dismiss soft-deletes a record by setting its dismissed flag.
func (s *RecordService) Dismiss(ctx context.Context, sessionID string) error {
	ok, err := s.repo.SetDismissed(ctx, sessionID, true)
	if err != nil {
		return fmt.Errorf("dismiss record: %w", err)
	}
	if !ok {
		return apperrors.NotFoundf("session %s not found", sessionID)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "record dismissed", "session_id", sessionID)
	}
	return nil
}

// Delete hard-deletes a record. This is the only path that removes a session's
// persistent history.
func (s *RecordService) Delete(ctx context.Context, sessionID string) error {
	ok, err := s.repo.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if !ok {
		return apperrors.NotFoundf("session %s not found", sessionID)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "record deleted", "session_id", sessionID)
	}
	return nil
}
