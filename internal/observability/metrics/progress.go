// Package metrics provides shared helpers for metric emission.
package metrics

import (
	"time"

	obserrors "github.com/comicden/recotrack/internal/observability/errors"
	"github.com/comicden/recotrack/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// IngestionMetric captures details about one ingestion call for metric emission.
type IngestionMetric struct {
	Operation string // init, progress, complete, fail
	Result    string
	Duration  time.Duration
	Err       error
}

// EmitIngestion emits standardised ingestion metrics.
func EmitIngestion(sink statsd.Sink, in IngestionMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"operation": in.Operation,
		"result":    in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("ingest.event", 1, tags)

	if in.Duration > 0 {
		sink.Timing("ingest.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
