package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/comicden/recotrack/config"
	"github.com/comicden/recotrack/internal/core"
	obserrors "github.com/comicden/recotrack/internal/observability/errors"
	"github.com/comicden/recotrack/internal/observability/metrics"
	"github.com/comicden/recotrack/internal/observability/statsd"
)

// OrphanedMessage is recorded on processing records the sweep transitions to
// the error state for lack of activity.
const OrphanedMessage = "orphaned: no progress updates received"

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Cache   *ProgressCache        // Required: in-process cache to evict from
	Records core.RecordRepository // Optional: persistent tier for the orphan sweep
	Config  config.SweeperConfig  // Required: sweeper configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
	Now     func() time.Time      // Optional: clock override for tests
}

// SweeperService runs the periodic cleanup loop.
//
// This service manages:
// - Evicting aged entries from the ephemeral in-process progress cache.
// - Marking processing records with no recent activity as orphaned (error).
//
// It never touches the shared cache (self-expiring via TTL) and never deletes
// persistent records (explicit lifecycle only).
type SweeperService struct {
	cache   *ProgressCache
	records core.RecordRepository
	config  config.SweeperConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Cache == nil {
		return nil, errors.New("ProgressCache is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized",
			"interval", opts.Config.Interval,
			"max_ephemeral_age", opts.Config.MaxEphemeralAge,
			"orphan_age", opts.Config.OrphanAge,
		)
	}

	return &SweeperService{
		cache:   opts.Cache,
		records: opts.Records,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Run starts the sweeper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runSweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runSweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
				// Continue running despite errors
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// runSweep performs one sweep pass: cache eviction, then the orphan sweep.
func (s *SweeperService) runSweep(ctx context.Context) error {
	start := time.Now()

	evicted := s.evictCacheEntries(ctx)

	orphaned, err := s.markOrphanedRecords(ctx)
	s.emitSweepMetrics(evicted, orphaned, time.Since(start), err)

	if err != nil {
		if isContextCancellation(err) {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", err)
	}
	return nil
}

// evictCacheEntries removes in-process cache entries older than the max
// ephemeral age.
func (s *SweeperService) evictCacheEntries(ctx context.Context) int64 {
	evicted := int64(s.cache.Evict(s.config.MaxEphemeralAge, s.now()))
	if evicted > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "evicted aged progress cache entries",
			"count", evicted,
			"max_age", s.config.MaxEphemeralAge,
		)
	}
	return evicted
}

// markOrphanedRecords transitions idle processing records to the error state.
// Loops until no more rows are affected to handle large datasets in batches.
func (s *SweeperService) markOrphanedRecords(ctx context.Context) (int64, error) {
	if s.records == nil {
		return 0, nil
	}

	var totalCount int64
	for {
		count, err := s.records.MarkOrphaned(ctx, core.MarkOrphanedParams{
			IdleFor:      s.config.OrphanAge,
			BatchSize:    s.config.BatchSize,
			ErrorMessage: OrphanedMessage,
		})
		if err != nil {
			return totalCount, err
		}
		totalCount += count
		if count == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			return totalCount, ctx.Err()
		}
	}

	if totalCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "marked orphaned records",
			"count", totalCount,
			"orphan_age", s.config.OrphanAge,
		)
	}
	return totalCount, nil
}

func (s *SweeperService) emitSweepMetrics(evicted, orphaned int64, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	suppressed := suppressContextCancellation(err)

	result := metrics.ResultSuccess
	if suppressed != nil {
		result = metrics.ResultError
	} else if evicted+orphaned == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if suppressed != nil {
		if class := obserrors.Classify(suppressed); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.sweep", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("sweeper.sweep_duration", elapsed, metrics.CloneTags(tags))
	}
	if evicted > 0 {
		s.metrics.Count("sweeper.cache_evicted", evicted, nil)
	}
	if orphaned > 0 {
		s.metrics.Count("sweeper.records_orphaned", orphaned, nil)
	}
	if suppressed == nil {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *SweeperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
