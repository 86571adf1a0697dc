package httpx

import (
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/comicden/recotrack/internal/core"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for readiness/liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// HealthHandlers provides the deep health check over backing stores.
type HealthHandlers struct {
	Cache   core.CacheRepository  // Optional: shared cache
	Records core.RecordRepository // Optional: persistent store
}

// Deep pings the configured backing stores and reports per-store status.
// A degraded store yields 503 so load balancers can rotate the instance out.
func (h *HealthHandlers) Deep(w http.ResponseWriter, r *http.Request) {
	// Ping the stores concurrently; each check records its own result so a
	// slow store never hides the other's status.
	var cacheErr, recordsErr error
	g, ctx := errgroup.WithContext(r.Context())
	if h.Cache != nil {
		g.Go(func() error {
			cacheErr = h.Cache.Health(ctx)
			return nil
		})
	}
	if h.Records != nil {
		g.Go(func() error {
			recordsErr = h.Records.Health(ctx)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; results land in the captured vars

	status := http.StatusOK
	checks := map[string]string{}
	if h.Cache != nil {
		if cacheErr != nil {
			checks["cache"] = cacheErr.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["cache"] = "ok"
		}
	}
	if h.Records != nil {
		if recordsErr != nil {
			checks["records"] = recordsErr.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["records"] = "ok"
		}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	WriteJSON(w, status, map[string]any{"status": overall, "checks": checks})
}
