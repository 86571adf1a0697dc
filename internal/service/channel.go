// Package service provides the business logic for progress tracking: event
// ingestion and fanout, status resolution, session bookkeeping and cleanup.
package service

import (
	"github.com/comicden/recotrack/internal/domain/model"
)

// Channel is a live, push-capable delivery connection owned by exactly one
// session. Implementations are provided by the transport layer (SSE) and by
// test fakes.
//
// Send returns an error on transport failure; the caller treats that as a
// disconnect and deregisters the channel without retrying. Close must be
// idempotent and safe to call concurrently with Send.
type Channel interface {
	Send(event model.ProgressEvent) error
	Close()
}
