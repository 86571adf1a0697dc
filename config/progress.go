package config

import "time"

// ProgressConfig contains configuration for progress tracking and live delivery.
type ProgressConfig struct {
	// ChannelTimeout is the maximum lifetime of a live delivery channel.
	// Streams open longer than this are closed and must reconnect.
	ChannelTimeout time.Duration `env:"PROGRESS_CHANNEL_TIMEOUT" envDefault:"30m"`

	// SnapshotTTL is the Redis TTL for shared progress snapshots and history.
	SnapshotTTL time.Duration `env:"PROGRESS_SNAPSHOT_TTL" envDefault:"30m"`

	// StalenessWindow is the maximum age at which a shared-cache snapshot is
	// still trusted as current. Older entries are treated as absent.
	StalenessWindow time.Duration `env:"PROGRESS_STALENESS_WINDOW" envDefault:"5m"`

	// HistoryLimit bounds the per-session recent-history list in Redis.
	HistoryLimit int `env:"PROGRESS_HISTORY_LIMIT" envDefault:"100"`

	// TruncateThresholdBytes is the serialized result size above which
	// completion payloads are truncated.
	TruncateThresholdBytes int `env:"PROGRESS_TRUNCATE_THRESHOLD_BYTES" envDefault:"51200"`

	// TruncateKeep is the number of list entries kept when a result is truncated.
	TruncateKeep int `env:"PROGRESS_TRUNCATE_KEEP" envDefault:"3"`

	// CompleteCloseDelay is how long the channel stays open after the final
	// completion event so the client can receive it before the stream ends.
	CompleteCloseDelay time.Duration `env:"PROGRESS_COMPLETE_CLOSE_DELAY" envDefault:"1s"`

	// FailCloseDelay is the post-error channel close delay. Slightly longer
	// than CompleteCloseDelay to allow client-side error handling.
	FailCloseDelay time.Duration `env:"PROGRESS_FAIL_CLOSE_DELAY" envDefault:"2s"`
}

// Sanitize applies guardrails to progress configuration values.
func (p *ProgressConfig) Sanitize() {
	if p.ChannelTimeout < time.Minute {
		p.ChannelTimeout = time.Minute
	}
	if p.SnapshotTTL < time.Minute {
		p.SnapshotTTL = time.Minute
	}
	if p.StalenessWindow < time.Second {
		p.StalenessWindow = time.Second
	}
	if p.HistoryLimit < 1 {
		p.HistoryLimit = 1
	}
	if p.HistoryLimit > 1000 {
		p.HistoryLimit = 1000
	}
	if p.TruncateThresholdBytes < 1024 {
		p.TruncateThresholdBytes = 1024
	}
	if p.TruncateKeep < 1 {
		p.TruncateKeep = 1
	}
	if p.CompleteCloseDelay <= 0 {
		p.CompleteCloseDelay = time.Second
	}
	if p.FailCloseDelay <= 0 {
		p.FailCloseDelay = 2 * time.Second
	}
}

// SweeperConfig contains cleanup sweeper service configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"30m"`

	// MaxEphemeralAge is the maximum age of in-process progress cache entries
	// before the sweeper evicts them.
	MaxEphemeralAge time.Duration `env:"SWEEPER_MAX_EPHEMERAL_AGE" envDefault:"2h"`

	// OrphanAge is how long a PROCESSING record may go without any progress
	// activity before the reconciler sweep marks it as errored.
	OrphanAge time.Duration `env:"SWEEPER_ORPHAN_AGE" envDefault:"30m"`

	// BatchSize is the maximum number of rows to orphan per sweep operation.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
	if s.MaxEphemeralAge < 5*time.Minute {
		s.MaxEphemeralAge = 5 * time.Minute
	}
	if s.OrphanAge < 5*time.Minute {
		s.OrphanAge = 5 * time.Minute
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}
